package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPriceAtIsDeterministic(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 3000, 0.002)
	at := time.Date(2024, 4, 2, 12, 30, 0, 0, time.UTC)

	first, err := g.PriceAt(context.Background(), "ETHUSDT", at)
	require.NoError(t, err)
	again, err := g.PriceAt(context.Background(), "ETHUSDT", at.Add(30*time.Second))
	require.NoError(t, err)

	assert.True(t, first.Equal(again), "same minute must give the same price")
	assert.True(t, first.IsPositive())

	lo, hi := 3000*0.98, 3000*1.02
	f, _ := first.Float64()
	assert.GreaterOrEqual(t, f, lo)
	assert.LessOrEqual(t, f, hi)
}

func TestFetchHistory(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 0, 0)
	start := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)

	candles, err := g.FetchHistory(context.Background(), "ETHUSDT", time.Hour, start, 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)

	for i, c := range candles {
		assert.Equal(t, start.Add(time.Duration(i)*time.Hour).Unix(), c.Time)
		assert.True(t, c.High.GreaterThanOrEqual(c.Low))
		assert.True(t, c.High.GreaterThanOrEqual(c.Close))
		assert.True(t, c.Low.LessThanOrEqual(c.Open))
	}
}

func TestFetchHistoryHonorsContext(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.FetchHistory(ctx, "ETHUSDT", time.Minute, time.Now(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
