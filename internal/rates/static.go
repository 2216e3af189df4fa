package rates

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leafsii/lp-points/internal/calc"
	"github.com/leafsii/lp-points/internal/chain"
)

// Static serves fixed rates. Used for local runs against a node without the token contracts.
type Static struct {
	rates map[common.Address]decimal.Decimal
}

func NewStatic(rates map[common.Address]decimal.Decimal) (*Static, error) {
	s := &Static{rates: make(map[common.Address]decimal.Decimal, len(rates))}
	for addr, rate := range rates {
		if err := calc.ValidateRate(rate); err != nil {
			return nil, fmt.Errorf("static rate for %s: %w", addr.Hex(), err)
		}
		s.rates[addr] = rate
	}
	return s, nil
}

func (s *Static) Name() string {
	return "static"
}

func (s *Static) Rate(ctx context.Context, token common.Address, at chain.BlockRef) (decimal.Decimal, error) {
	rate, ok := s.rates[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return rate, nil
}
