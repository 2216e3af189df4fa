package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, 4*time.Hour, cfg.Points.Interval)
	assert.Equal(t, uint64(19544960), cfg.Chain.StartBlock)
	assert.Equal(t, common.HexToAddress("0x84B5a3bD6acB304Cb89fFc43117A18BEDE062376"), cfg.Pool.PoolAddress())
	assert.False(t, cfg.Pool.GaugeEnabled)
	assert.Equal(t, "memory", cfg.Storage.SnapshotBackend)

	a := cfg.Pool.Token(0)
	assert.Equal(t, "rswETH", a.Symbol)
	assert.Equal(t, "getRate", a.RateMethod)
	assert.Equal(t, int32(18), a.Decimals)
	b := cfg.Pool.Token(1)
	assert.Equal(t, "mswETH", b.Symbol)
	assert.Equal(t, "exchangeRateToNative", b.RateMethod)

	pearls, multiplier, el := cfg.Points.Rates()
	assert.Equal(t, "8", pearls.String())
	assert.Equal(t, "3", multiplier.String())
	assert.Equal(t, "24", el.String())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PTS_ENV", "PROD")
	t.Setenv("PTS_INTERVAL", "30m")
	t.Setenv("PTS_GAUGE_ENABLED", "true")
	t.Setenv("PTS_GAUGE_START_BLOCK", "20000000")
	t.Setenv("PTS_SNAPSHOT_BACKEND", "PostgreSQL")
	t.Setenv("PTS_MULTIPLIER", "4.5")
	t.Setenv("PTS_RPC_RPS", "7.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 30*time.Minute, cfg.Points.Interval)
	assert.True(t, cfg.Pool.GaugeEnabled)
	assert.Equal(t, uint64(20000000), cfg.Pool.GaugeStartBlock)
	assert.Equal(t, "postgres", cfg.Storage.SnapshotBackend)
	assert.Equal(t, 7.5, cfg.Chain.RPCRPS)

	_, multiplier, _ := cfg.Points.Rates()
	assert.Equal(t, "4.5", multiplier.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad pool address", map[string]string{"PTS_POOL_ADDRESS": "0x1234"}},
		{"same tokens", map[string]string{"PTS_TOKEN_B_ADDRESS": "0xFAe103DC9cf190eD75350761e95403b7b8aFa6c0"}},
		{"zero decimals", map[string]string{"PTS_TOKEN_DECIMALS": "0"}},
		{"zero interval", map[string]string{"PTS_INTERVAL": "0s"}},
		{"negative multiplier", map[string]string{"PTS_MULTIPLIER": "-3"}},
		{"malformed rate", map[string]string{"PTS_EL_PER_DAY": "lots"}},
		{"unknown backend", map[string]string{"PTS_SNAPSHOT_BACKEND": "etcd"}},
		{"unknown rate source", map[string]string{"PTS_RATE_SOURCE": "oracle"}},
		{"static rate malformed", map[string]string{"PTS_RATE_SOURCE": "static", "PTS_STATIC_RATE_A": "x"}},
		{"unknown price provider", map[string]string{"PTS_PRICE_PROVIDER": "coingecko"}},
		{"bad gauge", map[string]string{"PTS_GAUGE_ENABLED": "true", "PTS_GAUGE_ADDRESS": "gauge"}},
		{"no workers", map[string]string{"PTS_WORKERS": "0"}},
		{"empty block range", map[string]string{"PTS_MAX_BLOCK_RANGE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPolicyFileSkipsRateValidation(t *testing.T) {
	t.Setenv("PTS_POLICY_FILE", "policies.json")
	t.Setenv("PTS_MULTIPLIER", "n/a")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "policies.json", cfg.Points.PolicyFile)
}
