package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumByAttr[N int64 | float64](t *testing.T, m metricdata.Metrics, key string) map[string]N {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[N])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)

	out := make(map[string]N)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTrigger(ctx, "TimeInterval", 20*time.Millisecond)
	m.RecordTrigger(ctx, "TimeInterval", 10*time.Millisecond)
	m.RecordTrigger(ctx, "Transfer", time.Millisecond)
	m.RecordAccrual(ctx, "accrued")
	m.RecordAccrual(ctx, "baseline")
	m.RecordFailure(ctx, "rate_unavailable")
	m.AddAccrued(ctx, "pearls", decimal.NewFromInt(24600))
	m.AddAccrued(ctx, "pearls", decimal.Zero)

	got := collect(t, reader)

	triggers := sumByAttr[int64](t, got["points_triggers_total"], "kind")
	assert.Equal(t, int64(2), triggers["TimeInterval"])
	assert.Equal(t, int64(1), triggers["Transfer"])

	accruals := sumByAttr[int64](t, got["points_accruals_total"], "outcome")
	assert.Equal(t, int64(1), accruals["accrued"])
	assert.Equal(t, int64(1), accruals["baseline"])

	failures := sumByAttr[int64](t, got["points_accrual_failures_total"], "reason")
	assert.Equal(t, int64(1), failures["rate_unavailable"])

	accrued := sumByAttr[float64](t, got["points_accrued_total"], "currency")
	assert.InDelta(t, 24600.0, accrued["pearls"], 1e-9)
}

func TestAccountsTrackedReadsStore(t *testing.T) {
	m, reader := newTestMetrics(t)

	_, found := collect(t, reader)["points_accounts_tracked"]
	assert.False(t, found, "no datapoint before a counter is registered")

	// The count comes from the store, so a fresh process reports accounts tracked before it started
	stored := int64(42)
	m.ObserveAccounts(func(context.Context) (int64, error) { return stored, nil })

	tracked, ok := collect(t, reader)["points_accounts_tracked"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, tracked.DataPoints, 1)
	assert.Equal(t, int64(42), tracked.DataPoints[0].Value)

	stored = 43
	tracked = collect(t, reader)["points_accounts_tracked"].Data.(metricdata.Gauge[int64])
	require.Len(t, tracked.DataPoints, 1)
	assert.Equal(t, int64(43), tracked.DataPoints[0].Value)
}

func TestObservableGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SetExchangeRate("rswETH", decimal.RequireFromString("1.05"))
	m.SetExchangeRate("rswETH", decimal.RequireFromString("1.06"))
	m.SetExchangeRate("mswETH", decimal.NewFromInt(1))
	m.SetPoolReserve("rswETH", decimal.NewFromInt(5000))
	m.SetIndexedBlock(19_600_000)

	got := collect(t, reader)

	gauge, ok := got["points_exchange_rate"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	rates := make(map[string]float64)
	for _, dp := range gauge.DataPoints {
		v, _ := dp.Attributes.Value("token")
		rates[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]float64{"rswETH": 1.06, "mswETH": 1}, rates)

	reserves, ok := got["points_pool_reserve"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, reserves.DataPoints, 1)
	assert.Equal(t, 5000.0, reserves.DataPoints[0].Value)

	block, ok := got["points_indexed_block"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, block.DataPoints, 1)
	assert.Equal(t, int64(19_600_000), block.DataPoints[0].Value)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTrigger(ctx, "Transfer", time.Second)
		m.RecordAccrual(ctx, "accrued")
		m.RecordFailure(ctx, "store")
		m.AddAccrued(ctx, "pearls", decimal.NewFromInt(1))
		m.ObserveAccounts(func(context.Context) (int64, error) { return 0, nil })
		m.RecordExposureUSD(ctx, decimal.NewFromInt(1))
		m.SetExchangeRate("x", decimal.NewFromInt(1))
		m.SetPoolReserve("x", decimal.NewFromInt(1))
		m.SetIndexedBlock(1)
		m.RecordHTTPRequest(ctx, "GET", "/healthz", 200, time.Millisecond)
	})
}
