package prices

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable means the provider has no price for the symbol at the requested time.
var ErrPriceUnavailable = errors.New("price unavailable")

// Candle represents OHLCV data for a time period
type Candle struct {
	Time   int64           `json:"time"` // unix seconds, aligned to interval boundary
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Oracle defines the interface for USD price sources
type Oracle interface {
	// PriceAt returns the price of symbol at the given time.
	// symbol: provider-specific symbol (e.g., "ETHUSDT")
	PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// HistoryProvider is implemented by oracles that can serve candle ranges.
type HistoryProvider interface {
	// FetchHistory returns up to limit candles of the given interval starting at start.
	FetchHistory(ctx context.Context, symbol string, interval time.Duration, start time.Time, limit int) ([]Candle, error)
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
}

// IntervalString converts time.Duration to provider-specific interval string
func IntervalString(d time.Duration) string {
	switch d {
	case time.Minute:
		return "1m"
	case 5 * time.Minute:
		return "5m"
	case 15 * time.Minute:
		return "15m"
	case time.Hour:
		return "1h"
	case 4 * time.Hour:
		return "4h"
	case 24 * time.Hour:
		return "1d"
	default:
		return "1h" // default fallback
	}
}

// AlignTime aligns timestamp to interval boundary
func AlignTime(ts time.Time, interval time.Duration) time.Time {
	unix := ts.Unix()
	intervalSec := int64(interval.Seconds())
	aligned := (unix / intervalSec) * intervalSec
	return time.Unix(aligned, 0)
}
