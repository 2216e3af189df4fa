package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics is the sink for point accrual telemetry. A nil *Metrics discards everything.
type Metrics struct {
	HTTPRequests    metric.Int64Counter
	HTTPDuration    metric.Float64Histogram
	Triggers        metric.Int64Counter
	TriggerDuration metric.Float64Histogram
	Accruals        metric.Int64Counter
	AccrualFailures metric.Int64Counter
	Accrued         metric.Float64Counter
	ExposureUSD     metric.Float64Histogram

	rates        *xsync.Map[string, float64]
	reserves     *xsync.Map[string, float64]
	indexedBlock atomic.Int64
	accounts     atomic.Pointer[AccountCounter]
}

// AccountCounter reports how many accounts currently hold a stored snapshot.
type AccountCounter func(ctx context.Context) (int64, error)

// Setup registers a Prometheus-backed meter provider and returns the scrape handler.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// New creates all instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		rates:    xsync.NewMap[string, float64](),
		reserves: xsync.NewMap[string, float64](),
	}
	m.indexedBlock.Store(-1)

	var err error

	m.HTTPRequests, err = meter.Int64Counter(
		"points_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"points_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.Triggers, err = meter.Int64Counter(
		"points_triggers_total",
		metric.WithDescription("Triggers handled by the dispatcher"),
	)
	if err != nil {
		return nil, err
	}

	m.TriggerDuration, err = meter.Float64Histogram(
		"points_trigger_duration_seconds",
		metric.WithDescription("Time to process every affected account of one trigger"),
	)
	if err != nil {
		return nil, err
	}

	m.Accruals, err = meter.Int64Counter(
		"points_accruals_total",
		metric.WithDescription("Account accruals by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.AccrualFailures, err = meter.Int64Counter(
		"points_accrual_failures_total",
		metric.WithDescription("Account accruals that failed and left the snapshot untouched"),
	)
	if err != nil {
		return nil, err
	}

	m.Accrued, err = meter.Float64Counter(
		"points_accrued_total",
		metric.WithDescription("Points accrued by currency"),
	)
	if err != nil {
		return nil, err
	}

	m.ExposureUSD, err = meter.Float64Histogram(
		"points_exposure_usd",
		metric.WithDescription("USD value of an account's pool exposure at accrual time"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"points_exchange_rate",
		metric.WithDescription("Last exchange rate read for each reserve token"),
		metric.WithFloat64Callback(observeMap(m.rates)),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"points_pool_reserve",
		metric.WithDescription("Last pool reserve balance read for each token"),
		metric.WithFloat64Callback(observeMap(m.reserves)),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"points_indexed_block",
		metric.WithDescription("Last block fully processed by the indexer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if n := m.indexedBlock.Load(); n >= 0 {
				o.Observe(n)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"points_accounts_tracked",
		metric.WithDescription("Accounts with a stored snapshot"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count := m.accounts.Load()
			if count == nil {
				return nil
			}
			n, err := (*count)(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func observeMap(values *xsync.Map[string, float64]) metric.Float64Callback {
	return func(_ context.Context, o metric.Float64Observer) error {
		values.Range(func(token string, v float64) bool {
			o.Observe(v, metric.WithAttributes(attribute.String("token", token)))
			return true
		})
		return nil
	}
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordTrigger(ctx context.Context, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("kind", kind))
	m.Triggers.Add(ctx, 1, labels)
	m.TriggerDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordAccrual(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Accruals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AccrualFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AddAccrued adds a non-negative amount of points to the running total for currency.
func (m *Metrics) AddAccrued(ctx context.Context, currency string, amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.Accrued.Add(ctx, amount.InexactFloat64(), metric.WithAttributes(attribute.String("currency", currency)))
}

// ObserveAccounts backs points_accounts_tracked with count, read from the store at every collection.
func (m *Metrics) ObserveAccounts(count AccountCounter) {
	if m == nil || count == nil {
		return
	}
	m.accounts.Store(&count)
}

func (m *Metrics) RecordExposureUSD(ctx context.Context, usd decimal.Decimal) {
	if m == nil {
		return
	}
	m.ExposureUSD.Record(ctx, usd.InexactFloat64())
}

func (m *Metrics) SetExchangeRate(token string, rate decimal.Decimal) {
	if m == nil {
		return
	}
	m.rates.Store(token, rate.InexactFloat64())
}

func (m *Metrics) SetPoolReserve(token string, reserve decimal.Decimal) {
	if m == nil {
		return
	}
	m.reserves.Store(token, reserve.InexactFloat64())
}

func (m *Metrics) SetIndexedBlock(block uint64) {
	if m == nil {
		return
	}
	m.indexedBlock.Store(int64(block))
}
