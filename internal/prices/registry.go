package prices

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Registry maps asset symbols to provider symbols
type Registry struct {
	mappings map[string]string // asset symbol -> provider symbol
}

// NewRegistry creates a new symbol registry
func NewRegistry() *Registry {
	r := &Registry{
		mappings: make(map[string]string),
	}

	// Default mappings
	r.AddMapping("ETH", "ETHUSDT")
	r.AddMapping("ETH/USD", "ETHUSDT")
	r.AddMapping("ETH/USDT", "ETHUSDT")

	return r
}

// AddMapping adds an asset symbol to provider symbol mapping
func (r *Registry) AddMapping(symbol, providerSymbol string) {
	r.mappings[strings.ToUpper(symbol)] = strings.ToUpper(providerSymbol)
}

// GetProviderSymbol returns the provider symbol for an asset symbol
func (r *Registry) GetProviderSymbol(symbol string) (string, error) {
	providerSymbol, exists := r.mappings[strings.ToUpper(symbol)]
	if !exists {
		return "", fmt.Errorf("no mapping found for symbol: %s", symbol)
	}
	return providerSymbol, nil
}

const maxCachedPrices = 4096

// Resolver answers PriceAt for asset symbols, coalescing and caching lookups per minute.
// A timer trigger asks for the same price once per account, so most lookups hit the cache.
type Resolver struct {
	oracle   Oracle
	registry *Registry
	cache    *xsync.Map[string, decimal.Decimal]
	group    singleflight.Group
}

func NewResolver(oracle Oracle, registry *Registry) *Resolver {
	return &Resolver{
		oracle:   oracle,
		registry: registry,
		cache:    xsync.NewMap[string, decimal.Decimal](),
	}
}

func (r *Resolver) Name() string {
	return r.oracle.Name()
}

func (r *Resolver) Health() ProviderHealth {
	return r.oracle.Health()
}

// PriceAt maps symbol through the registry and returns the provider's price for that minute.
func (r *Resolver) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	providerSymbol, err := r.registry.GetProviderSymbol(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	minute := AlignTime(at, time.Minute)
	key := providerSymbol + ":" + strconv.FormatInt(minute.Unix(), 10)
	if price, ok := r.cache.Load(key); ok {
		return price, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		price, err := r.oracle.PriceAt(ctx, providerSymbol, minute)
		if err != nil {
			return nil, err
		}
		if r.cache.Size() >= maxCachedPrices {
			r.cache.Clear()
		}
		r.cache.Store(key, price)
		return price, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}
