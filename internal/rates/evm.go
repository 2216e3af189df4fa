package rates

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leafsii/lp-points/internal/calc"
	"github.com/leafsii/lp-points/internal/chain"
)

// EVMProvider reads exchange rates from the token contracts at the trigger block.
type EVMProvider struct {
	caller   chain.Caller
	registry *Registry
	logger   *zap.SugaredLogger
	group    singleflight.Group
}

func NewEVMProvider(caller chain.Caller, registry *Registry, logger *zap.SugaredLogger) *EVMProvider {
	return &EVMProvider{
		caller:   caller,
		registry: registry,
		logger:   logger,
	}
}

func (p *EVMProvider) Name() string {
	return "evm"
}

// Rate calls the token's rate getter at the given block. Concurrent requests for the same
// token and block share one call.
func (p *EVMProvider) Rate(ctx context.Context, token common.Address, at chain.BlockRef) (decimal.Decimal, error) {
	t, err := p.registry.Lookup(token)
	if err != nil {
		p.logger.Errorw("Rate requested for unknown token", "token", token.Hex(), "block", at.Number)
		return decimal.Zero, err
	}

	key := token.Hex() + ":" + strconv.FormatUint(at.Number, 10)
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		raw, err := chain.CallUint(ctx, p.caller, t.Address, chain.RateABI, at.Number, t.Method)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s at block %d: %v", ErrRateUnavailable, t.Symbol, t.Method, at.Number, err)
		}
		rate := calc.ScaleDown(raw, t.Decimals)
		if err := calc.ValidateRate(rate); err != nil {
			return nil, fmt.Errorf("%w: %s at block %d: %v", ErrRateUnavailable, t.Symbol, at.Number, err)
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	return v.(decimal.Decimal), nil
}
