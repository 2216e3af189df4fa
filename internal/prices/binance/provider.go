package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/prices"
)

const BinanceRestAPI = "https://api.binance.com"

// Provider implements prices.Oracle on top of Binance klines
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	baseURL string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

// NewProvider creates a new Binance provider. An empty baseURL uses the public API.
func NewProvider(logger *zap.SugaredLogger, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = BinanceRestAPI
	}
	return &Provider{
		logger:  logger,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

// PriceAt returns the close of the 1-minute kline that contains at.
func (p *Provider) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	candles, err := p.FetchHistory(ctx, symbol, time.Minute, prices.AlignTime(at, time.Minute), 1)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", prices.ErrPriceUnavailable, err)
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no %s kline at %s", prices.ErrPriceUnavailable, symbol, at.UTC().Format(time.RFC3339))
	}

	price := candles[0].Close
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive %s price %s", prices.ErrPriceUnavailable, symbol, price)
	}

	p.logger.Debugw("Fetched price from Binance", "symbol", symbol, "at", at, "price", price)
	return price, nil
}

// FetchHistory retrieves kline data from Binance starting at start
func (p *Provider) FetchHistory(ctx context.Context, symbol string, interval time.Duration, start time.Time, limit int) ([]prices.Candle, error) {
	// Build request URL
	baseURL := fmt.Sprintf("%s/api/v3/klines", p.baseURL)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", prices.IntervalString(interval))
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))

	requestURL := fmt.Sprintf("%s?%s", baseURL, params.Encode())

	// Make HTTP request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return nil, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return nil, err
	}

	// Parse response
	var klines [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		p.updateHealth(false, err)
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Convert to our candle format
	candles := make([]prices.Candle, 0, len(klines))
	for _, kline := range klines {
		candle, err := parseKline(kline)
		if err != nil {
			p.logger.Warnw("Failed to parse kline", "error", err, "kline", kline)
			continue
		}

		// Align timestamp to interval boundary
		candle.Time = prices.AlignTime(time.Unix(candle.Time, 0), interval).Unix()

		candles = append(candles, candle)
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched history from Binance", "symbol", symbol, "interval", interval, "candles", len(candles))

	return candles, nil
}

// parseKline reads [openTime, open, high, low, close, volume, ...] into a Candle.
func parseKline(kline []interface{}) (prices.Candle, error) {
	if len(kline) < 6 {
		return prices.Candle{}, fmt.Errorf("kline has %d fields, want at least 6", len(kline))
	}

	openTime, ok := kline[0].(float64)
	if !ok {
		return prices.Candle{}, fmt.Errorf("open time is %T", kline[0])
	}

	names := [5]string{"open", "high", "low", "close", "volume"}
	var ohlcv [5]decimal.Decimal
	for i := range ohlcv {
		d, err := parseDecimal(kline[i+1])
		if err != nil {
			return prices.Candle{}, fmt.Errorf("%s: %w", names[i], err)
		}
		ohlcv[i] = d
	}

	return prices.Candle{
		Time:   int64(openTime) / 1000,
		Open:   ohlcv[0],
		High:   ohlcv[1],
		Low:    ohlcv[2],
		Close:  ohlcv[3],
		Volume: ohlcv[4],
	}, nil
}

// parseDecimal converts Binance's string or numeric fields without going through float64
func parseDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case string:
		return decimal.NewFromString(val)
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", v)
	}
}
