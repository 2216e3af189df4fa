package prices

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOracle struct {
	calls atomic.Int64
	price decimal.Decimal
	err   error
}

func (o *countingOracle) PriceAt(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	o.calls.Add(1)
	if o.err != nil {
		return decimal.Zero, o.err
	}
	return o.price, nil
}

func (o *countingOracle) Name() string           { return "counting" }
func (o *countingOracle) Health() ProviderHealth { return ProviderHealth{Healthy: true} }

func TestRegistryMappings(t *testing.T) {
	r := NewRegistry()

	sym, err := r.GetProviderSymbol("eth")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", sym)

	_, err = r.GetProviderSymbol("DOGE")
	assert.Error(t, err)

	r.AddMapping("doge", "dogeusdt")
	sym, err = r.GetProviderSymbol("DOGE")
	require.NoError(t, err)
	assert.Equal(t, "DOGEUSDT", sym)
}

func TestResolverCachesPerMinute(t *testing.T) {
	oracle := &countingOracle{price: decimal.NewFromInt(3000)}
	r := NewResolver(oracle, NewRegistry())
	at := time.Date(2024, 4, 2, 12, 30, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		price, err := r.PriceAt(context.Background(), "ETH", at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(3000).Equal(price))
	}
	assert.Equal(t, int64(1), oracle.calls.Load())

	_, err := r.PriceAt(context.Background(), "ETH", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), oracle.calls.Load())
}

func TestResolverErrors(t *testing.T) {
	oracle := &countingOracle{err: ErrPriceUnavailable}
	r := NewResolver(oracle, NewRegistry())

	_, err := r.PriceAt(context.Background(), "ETH", time.Now())
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = r.PriceAt(context.Background(), "UNKNOWN", time.Now())
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestAlignTime(t *testing.T) {
	ts := time.Date(2024, 4, 2, 12, 34, 56, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 4, 2, 12, 34, 0, 0, time.UTC).Unix(), AlignTime(ts, time.Minute).Unix())
	assert.Equal(t, time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC).Unix(), AlignTime(ts, time.Hour).Unix())
	assert.Equal(t, "4h", IntervalString(4*time.Hour))
}
