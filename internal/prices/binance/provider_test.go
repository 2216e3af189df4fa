package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/prices"
)

func TestPriceAt(t *testing.T) {
	at := time.Date(2024, 4, 2, 12, 30, 45, 0, time.UTC)

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = map[string]string{
			"symbol":    r.URL.Query().Get("symbol"),
			"interval":  r.URL.Query().Get("interval"),
			"startTime": r.URL.Query().Get("startTime"),
			"limit":     r.URL.Query().Get("limit"),
		}
		w.Write([]byte(`[[1712061000000,"3301.10","3305.00","3299.50","3302.25","12.5",1712061059999,"0",1,"0","0","0"]]`))
	}))
	defer srv.Close()

	p := NewProvider(zap.NewNop().Sugar(), srv.URL)
	price, err := p.PriceAt(context.Background(), "ETHUSDT", at)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("3302.25").Equal(price), "got %s", price)
	assert.Equal(t, "ETHUSDT", gotQuery["symbol"])
	assert.Equal(t, "1m", gotQuery["interval"])
	assert.Equal(t, "1712061000000", gotQuery["startTime"])
	assert.Equal(t, "1", gotQuery["limit"])
	assert.True(t, p.Health().Healthy)
}

func TestPriceAtUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"no klines", http.StatusOK, `[]`},
		{"garbage", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewProvider(zap.NewNop().Sugar(), srv.URL)
			_, err := p.PriceAt(context.Background(), "ETHUSDT", time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, prices.ErrPriceUnavailable)
		})
	}
}

func TestParseKlineRejectsShortRows(t *testing.T) {
	_, err := parseKline([]interface{}{float64(1), "1"})
	assert.Error(t, err)
}
