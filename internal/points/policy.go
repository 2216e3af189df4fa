package points

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
)

// Policy is the set of reward rates in force from EffectiveFromMilli until the next policy starts.
type Policy struct {
	EffectiveFromMilli int64           `json:"effectiveFromMilli"`
	PearlsPerEthPerDay decimal.Decimal `json:"pearlsPerEthPerDay"`
	Multiplier         decimal.Decimal `json:"multiplier"`
	ELPerDay           decimal.Decimal `json:"elPerDay"`
}

// DefaultPolicy is the launch configuration: 8 pearls per ETH per day with a 3x multiplier
// and 24 EL points per day per unit of asset A.
func DefaultPolicy() Policy {
	return Policy{
		EffectiveFromMilli: 0,
		PearlsPerEthPerDay: decimal.NewFromInt(8),
		Multiplier:         decimal.NewFromInt(3),
		ELPerDay:           decimal.NewFromInt(24),
	}
}

// Segment is the part of an accrual interval covered by one policy.
type Segment struct {
	Policy    Policy
	FromMilli int64
	ToMilli   int64
}

// Schedule is an ordered list of policies.
type Schedule struct {
	policies []Policy
}

func NewSchedule(policies ...Policy) (*Schedule, error) {
	if len(policies) == 0 {
		return nil, errors.New("schedule needs at least one policy")
	}

	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFromMilli < sorted[j].EffectiveFromMilli
	})

	for i, p := range sorted {
		if i > 0 && p.EffectiveFromMilli == sorted[i-1].EffectiveFromMilli {
			return nil, fmt.Errorf("two policies start at %d", p.EffectiveFromMilli)
		}
		if p.PearlsPerEthPerDay.IsNegative() || p.Multiplier.IsNegative() || p.ELPerDay.IsNegative() {
			return nil, fmt.Errorf("policy starting at %d has a negative rate", p.EffectiveFromMilli)
		}
	}

	return &Schedule{policies: sorted}, nil
}

// LoadSchedule reads a JSON array of policies.
func LoadSchedule(path string) (*Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var policies []Policy
	if err := json.Unmarshal(raw, &policies); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return NewSchedule(policies...)
}

// Policies returns the policies in start order.
func (s *Schedule) Policies() []Policy {
	out := make([]Policy, len(s.policies))
	copy(out, s.policies)
	return out
}

// At returns the policy in force at ms.
func (s *Schedule) At(ms int64) (Policy, bool) {
	i := sort.Search(len(s.policies), func(i int) bool {
		return s.policies[i].EffectiveFromMilli > ms
	})
	if i == 0 {
		return Policy{}, false
	}
	return s.policies[i-1], true
}

// Segments splits [from, to) at policy boundaries. Time before the first policy is not covered.
func (s *Schedule) Segments(from, to int64) []Segment {
	if to <= from {
		return nil
	}

	var out []Segment
	for i, p := range s.policies {
		start := p.EffectiveFromMilli
		end := to
		if i+1 < len(s.policies) && s.policies[i+1].EffectiveFromMilli < end {
			end = s.policies[i+1].EffectiveFromMilli
		}
		if start < from {
			start = from
		}
		if end > start {
			out = append(out, Segment{Policy: p, FromMilli: start, ToMilli: end})
		}
	}
	return out
}
