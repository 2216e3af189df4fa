package points

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name     string
		policies []Policy
		wantErr  bool
	}{
		{"empty", nil, true},
		{"default", []Policy{DefaultPolicy()}, false},
		{"duplicate start", []Policy{DefaultPolicy(), DefaultPolicy()}, true},
		{"negative multiplier", []Policy{{Multiplier: dec("-1")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchedule(tt.policies...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScheduleSegments(t *testing.T) {
	second := DefaultPolicy()
	second.EffectiveFromMilli = 100
	third := DefaultPolicy()
	third.EffectiveFromMilli = 200

	// out of order on purpose
	schedule, err := NewSchedule(third, DefaultPolicy(), second)
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to int64
		want     [][2]int64
	}{
		{"inside one policy", 10, 50, [][2]int64{{10, 50}}},
		{"across one boundary", 50, 150, [][2]int64{{50, 100}, {100, 150}}},
		{"across all", 0, 300, [][2]int64{{0, 100}, {100, 200}, {200, 300}}},
		{"starting on boundary", 100, 200, [][2]int64{{100, 200}}},
		{"empty", 50, 50, nil},
		{"reversed", 60, 50, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int64
			for _, seg := range schedule.Segments(tt.from, tt.to) {
				got = append(got, [2]int64{seg.FromMilli, seg.ToMilli})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleAt(t *testing.T) {
	late := DefaultPolicy()
	late.EffectiveFromMilli = 1000
	schedule, err := NewSchedule(late)
	require.NoError(t, err)

	_, ok := schedule.At(999)
	assert.False(t, ok)

	p, ok := schedule.At(1000)
	require.True(t, ok)
	assert.Equal(t, int64(1000), p.EffectiveFromMilli)
}

func TestLoadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"effectiveFromMilli": 1717200000000, "pearlsPerEthPerDay": "8", "multiplier": "5", "elPerDay": "24"},
		{"effectiveFromMilli": 0, "pearlsPerEthPerDay": "8", "multiplier": "3", "elPerDay": "24"}
	]`), 0o600))

	schedule, err := LoadSchedule(path)
	require.NoError(t, err)

	policies := schedule.Policies()
	require.Len(t, policies, 2)
	assert.Equal(t, int64(0), policies[0].EffectiveFromMilli)
	assertDecimal(t, "5", policies[1].Multiplier)

	_, err = LoadSchedule(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
