package points

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/calc"
	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/metrics"
	"github.com/leafsii/lp-points/internal/prices"
	"github.com/leafsii/lp-points/internal/rates"
	"github.com/leafsii/lp-points/internal/snapshot"
)

// Outcome classifies how an accrual was resolved.
type Outcome string

const (
	OutcomeBaseline   Outcome = "baseline"
	OutcomeOutOfOrder Outcome = "out_of_order"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeNoShare    Outcome = "no_share"
	OutcomeAccrued    Outcome = "accrued"
)

// Asset is one reserve coin of the pool.
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// PoolConfig describes the two-asset pool being rewarded. AssetA is coin index 0 and the
// only asset that earns EL points.
type PoolConfig struct {
	Address   common.Address
	AssetA    Asset
	AssetB    Asset
	USDSymbol string
}

// Accrual is the reward earned by one account between its snapshot and the evaluation block.
type Accrual struct {
	Outcome     Outcome
	Pearls      decimal.Decimal
	ELPoints    decimal.Decimal
	ElapsedDays decimal.Decimal
	PoolShare   decimal.Decimal
	ExposureA   decimal.Decimal
	ExposureB   decimal.Decimal
	RateA       decimal.Decimal
	RateB       decimal.Decimal
	ExposureUSD *decimal.Decimal
}

func zeroAccrual(outcome Outcome) Accrual {
	return Accrual{
		Outcome:     outcome,
		Pearls:      decimal.Zero,
		ELPoints:    decimal.Zero,
		ElapsedDays: decimal.Zero,
		PoolShare:   decimal.Zero,
		ExposureA:   decimal.Zero,
		ExposureB:   decimal.Zero,
		RateA:       decimal.Zero,
		RateB:       decimal.Zero,
	}
}

// Engine computes time-weighted rewards from position snapshots.
type Engine struct {
	pool     PoolConfig
	rates    rates.Provider
	prices   prices.Oracle
	schedule *Schedule
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

// NewEngine creates an engine. prices may be nil, in which case no USD exposure is reported.
func NewEngine(pool PoolConfig, rp rates.Provider, oracle prices.Oracle, schedule *Schedule, m *metrics.Metrics, logger *zap.SugaredLogger) *Engine {
	if pool.USDSymbol == "" {
		pool.USDSymbol = "ETH"
	}
	return &Engine{
		pool:     pool,
		rates:    rp,
		prices:   oracle,
		schedule: schedule,
		metrics:  m,
		logger:   logger,
	}
}

// Pool returns the pool configuration.
func (e *Engine) Pool() PoolConfig {
	return e.pool
}

// Accrue returns the reward earned since prev, evaluated at block at. A nil prev is a first
// observation. A rate failure is returned as an error and the caller must keep prev as is.
func (e *Engine) Accrue(ctx context.Context, prev *snapshot.Snapshot, at chain.BlockRef) (Accrual, error) {
	if prev == nil {
		return zeroAccrual(OutcomeBaseline), nil
	}

	now := at.TimeMilli
	switch {
	case now < prev.TimestampMilli:
		e.logger.Warnw("Observation older than snapshot",
			"account", prev.Account.Hex(),
			"snapshotMilli", prev.TimestampMilli,
			"snapshotBlock", prev.BlockNumber,
			"nowMilli", now,
			"block", at.Number,
		)
		return zeroAccrual(OutcomeOutOfOrder), nil
	case now == prev.TimestampMilli:
		return zeroAccrual(OutcomeDuplicate), nil
	}

	out := zeroAccrual(OutcomeAccrued)
	out.ElapsedDays = calc.ElapsedDays(prev.TimestampMilli, now)
	out.PoolShare = calc.PoolShare(prev.LptBalance, prev.LptSupply)
	if out.PoolShare.IsZero() {
		out.Outcome = OutcomeNoShare
		return out, nil
	}

	out.ExposureA = calc.Exposure(out.PoolShare, prev.ReserveA, e.pool.AssetA.Decimals)
	out.ExposureB = calc.Exposure(out.PoolShare, prev.ReserveB, e.pool.AssetB.Decimals)

	rateA, err := e.rate(ctx, e.pool.AssetA, at)
	if err != nil {
		return Accrual{}, err
	}
	rateB, err := e.rate(ctx, e.pool.AssetB, at)
	if err != nil {
		return Accrual{}, err
	}
	out.RateA, out.RateB = rateA, rateB

	// Each reward is one exact numerator over lptSupply * ms_per_day, divided once.
	reserveA := calc.ScaleDown(prev.ReserveA, e.pool.AssetA.Decimals)
	reserveB := calc.ScaleDown(prev.ReserveB, e.pool.AssetB.Decimals)
	weighted := reserveA.Mul(rateA).Add(reserveB.Mul(rateB))
	balance := calc.FromBig(prev.LptBalance)

	pearlsNum, elNum := decimal.Zero, decimal.Zero
	for _, seg := range e.schedule.Segments(prev.TimestampMilli, now) {
		ms := decimal.NewFromInt(seg.ToMilli - seg.FromMilli)
		pearlsNum = pearlsNum.Add(ms.Mul(seg.Policy.PearlsPerEthPerDay).Mul(seg.Policy.Multiplier))
		elNum = elNum.Add(ms.Mul(seg.Policy.ELPerDay))
	}
	pearlsNum = pearlsNum.Mul(balance).Mul(weighted)
	elNum = elNum.Mul(balance).Mul(reserveA)

	den := calc.FromBig(prev.LptSupply).Mul(decimal.NewFromInt(calc.MillisecondsPerDay))
	if out.Pearls, err = calc.Quo(pearlsNum, den); err != nil {
		return Accrual{}, fmt.Errorf("pearls for %s: %w", prev.Account.Hex(), err)
	}
	if out.ELPoints, err = calc.Quo(elNum, den); err != nil {
		return Accrual{}, fmt.Errorf("el points for %s: %w", prev.Account.Hex(), err)
	}

	e.metrics.AddAccrued(ctx, "pearls", out.Pearls)
	e.metrics.AddAccrued(ctx, "el_points", out.ELPoints)

	if usd, ok := e.exposureUSD(ctx, out, at); ok {
		out.ExposureUSD = &usd
		e.metrics.RecordExposureUSD(ctx, usd)
	}

	return out, nil
}

func (e *Engine) rate(ctx context.Context, asset Asset, at chain.BlockRef) (decimal.Decimal, error) {
	r, err := e.rates.Rate(ctx, asset.Address, at)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate for %s at block %d: %w", asset.Symbol, at.Number, err)
	}
	e.metrics.SetExchangeRate(asset.Symbol, r)
	return r, nil
}

// exposureUSD values the rate-weighted exposure in USD. Point math never depends on it.
func (e *Engine) exposureUSD(ctx context.Context, a Accrual, at chain.BlockRef) (decimal.Decimal, bool) {
	if e.prices == nil {
		return decimal.Zero, false
	}

	price, err := e.prices.PriceAt(ctx, e.pool.USDSymbol, time.UnixMilli(at.TimeMilli))
	if err != nil {
		e.logger.Warnw("USD price unavailable",
			"symbol", e.pool.USDSymbol,
			"block", at.Number,
			"provider", e.prices.Name(),
			"error", err,
		)
		return decimal.Zero, false
	}

	native := a.ExposureA.Mul(a.RateA).Add(a.ExposureB.Mul(a.RateB))
	return native.Mul(price), true
}

// NewSnapshot builds the next baseline for key from a live position read at block at.
func NewSnapshot(key snapshot.Key, at chain.BlockRef, pos chain.Position) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Key:            key,
		TimestampMilli: at.TimeMilli,
		BlockNumber:    at.Number,
		LptBalance:     copyInt(pos.LptBalance),
		LptSupply:      copyInt(pos.LptSupply),
		ReserveA:       copyInt(pos.ReserveA),
		ReserveB:       copyInt(pos.ReserveB),
	}
}

func copyInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}
