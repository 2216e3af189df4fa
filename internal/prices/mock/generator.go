package mock

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/prices"
)

// Generator provides deterministic mock prices for local runs and tests.
// The same symbol and minute always produce the same price.
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
	basePrice  float64
	volatility float64
	health     prices.ProviderHealth
}

// NewGenerator creates a new mock data generator
func NewGenerator(logger *zap.SugaredLogger, basePrice, volatility float64) *Generator {
	if basePrice <= 0 {
		basePrice = 3000.00 // Default ETH price
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% volatility
	}

	return &Generator{
		logger:     logger,
		basePrice:  basePrice,
		volatility: volatility,
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (g *Generator) Name() string {
	return "mock"
}

// Health returns current provider health status
func (g *Generator) Health() prices.ProviderHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.health
}

// PriceAt returns the mock close price for the minute containing at.
func (g *Generator) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	candles, err := g.FetchHistory(ctx, symbol, time.Minute, prices.AlignTime(at, time.Minute), 1)
	if err != nil {
		return decimal.Zero, err
	}
	return candles[0].Close, nil
}

// FetchHistory generates limit candles starting at start
func (g *Generator) FetchHistory(ctx context.Context, symbol string, interval time.Duration, start time.Time, limit int) ([]prices.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.health.LastSuccess = time.Now()
	basePrice := g.basePrice
	g.mu.Unlock()

	candles := make([]prices.Candle, 0, limit)
	alignedTime := prices.AlignTime(start, interval)

	for i := 0; i < limit; i++ {
		candleTime := alignedTime.Add(time.Duration(i) * interval)
		candles = append(candles, g.generateCandle(symbol, candleTime, basePrice, interval))
	}

	g.logger.Debugw("Generated mock history",
		"symbol", symbol,
		"interval", interval,
		"candles", len(candles),
		"basePrice", basePrice,
	)

	return candles, nil
}

// generateCandle creates a single mock candle seeded by symbol and time
func (g *Generator) generateCandle(symbol string, candleTime time.Time, basePrice float64, interval time.Duration) prices.Candle {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ candleTime.Unix()))

	// Scale volatility by interval duration
	intervalMinutes := interval.Minutes()
	scaledVolatility := g.volatility * math.Sqrt(intervalMinutes)

	open := basePrice * (1 + clamp(rng.NormFloat64()*g.volatility, g.volatility*5))

	// Generate random walk for the candle period
	numTicks := int(math.Max(1, intervalMinutes)) // At least 1 tick per candle
	tickPrices := make([]float64, numTicks+1)
	tickPrices[0] = open

	for i := 1; i <= numTicks; i++ {
		change := rng.NormFloat64() * scaledVolatility / math.Sqrt(float64(numTicks))
		tickPrices[i] = tickPrices[i-1] * (1 + change)
	}

	// Extract OHLC from the price series
	high := tickPrices[0]
	low := tickPrices[0]
	for _, p := range tickPrices {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}
	closePrice := tickPrices[len(tickPrices)-1]

	// Generate realistic volume
	volume := 10000.0 * (1 + rng.Float64()) * intervalMinutes

	return prices.Candle{
		Time:   candleTime.Unix(),
		Open:   decimal.NewFromFloat(open).Round(8),
		High:   decimal.NewFromFloat(high).Round(8),
		Low:    decimal.NewFromFloat(low).Round(8),
		Close:  decimal.NewFromFloat(closePrice).Round(8),
		Volume: decimal.NewFromFloat(volume).Round(2),
	}
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// SetBasePrice updates the base price for mock generation
func (g *Generator) SetBasePrice(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price > 0 {
		g.basePrice = price
	}
}
