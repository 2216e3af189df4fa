package points

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/snapshot"
)

// SnapshotFields is the serialized view of a snapshot inside a record.
type SnapshotFields struct {
	TimestampMilli int64  `json:"timestampMilli"`
	BlockNumber    uint64 `json:"blockNumber"`
	LptBalance     string `json:"lptBalance"`
	LptSupply      string `json:"lptSupply"`
	ReserveA       string `json:"reserveA"`
	ReserveB       string `json:"reserveB"`
}

func fieldsOf(s *snapshot.Snapshot) SnapshotFields {
	return SnapshotFields{
		TimestampMilli: s.TimestampMilli,
		BlockNumber:    s.BlockNumber,
		LptBalance:     s.LptBalance.String(),
		LptSupply:      s.LptSupply.String(),
		ReserveA:       s.ReserveA.String(),
		ReserveB:       s.ReserveB.String(),
	}
}

// RewardUpdateRecord is emitted once per account and trigger after the new snapshot is stored.
type RewardUpdateRecord struct {
	ID          string           `json:"id"`
	Pool        string           `json:"pool"`
	Account     string           `json:"account"`
	Trigger     chain.Kind       `json:"trigger"`
	BlockNumber uint64           `json:"blockNumber"`
	TxHash      string           `json:"txHash,omitempty"`
	Outcome     Outcome          `json:"outcome"`
	Pearls      decimal.Decimal  `json:"pearls"`
	ELPoints    decimal.Decimal  `json:"elPoints"`
	ElapsedDays decimal.Decimal  `json:"elapsedDays"`
	PoolShare   decimal.Decimal  `json:"poolShare"`
	ExposureA   decimal.Decimal  `json:"exposureA"`
	ExposureB   decimal.Decimal  `json:"exposureB"`
	RateA       decimal.Decimal  `json:"rateA"`
	RateB       decimal.Decimal  `json:"rateB"`
	ExposureUSD *decimal.Decimal `json:"exposureUsd,omitempty"`
	Previous    *SnapshotFields  `json:"previous,omitempty"`
	Current     SnapshotFields   `json:"current"`
}

// NewRecord assembles the record for one account accrual.
func NewRecord(t chain.Trigger, prev, next *snapshot.Snapshot, a Accrual) RewardUpdateRecord {
	rec := RewardUpdateRecord{
		ID:          uuid.New().String(),
		Pool:        next.Pool.Hex(),
		Account:     next.Account.Hex(),
		Trigger:     t.Kind,
		BlockNumber: t.Block.Number,
		Outcome:     a.Outcome,
		Pearls:      a.Pearls,
		ELPoints:    a.ELPoints,
		ElapsedDays: a.ElapsedDays,
		PoolShare:   a.PoolShare,
		ExposureA:   a.ExposureA,
		ExposureB:   a.ExposureB,
		RateA:       a.RateA,
		RateB:       a.RateB,
		ExposureUSD: a.ExposureUSD,
		Current:     fieldsOf(next),
	}
	if t.TxHash != (common.Hash{}) {
		rec.TxHash = t.TxHash.Hex()
	}
	if prev != nil {
		p := fieldsOf(prev)
		rec.Previous = &p
	}
	return rec
}

// Emitter receives reward update records for downstream consumers.
type Emitter interface {
	Emit(ctx context.Context, rec RewardUpdateRecord) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, rec RewardUpdateRecord) error

func (f EmitterFunc) Emit(ctx context.Context, rec RewardUpdateRecord) error {
	return f(ctx, rec)
}

// LogEmitter writes each record as one structured log line.
type LogEmitter struct {
	logger *zap.SugaredLogger
}

func NewLogEmitter(logger *zap.SugaredLogger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(_ context.Context, rec RewardUpdateRecord) error {
	fields := []interface{}{
		"id", rec.ID,
		"pool", rec.Pool,
		"account", rec.Account,
		"trigger", rec.Trigger,
		"block", rec.BlockNumber,
		"outcome", rec.Outcome,
		"pearls", rec.Pearls.String(),
		"elPoints", rec.ELPoints.String(),
		"elapsedDays", rec.ElapsedDays.String(),
		"current", rec.Current,
	}
	if rec.TxHash != "" {
		fields = append(fields, "txHash", rec.TxHash)
	}
	if rec.Previous != nil {
		fields = append(fields, "previous", *rec.Previous)
	}
	if rec.ExposureUSD != nil {
		fields = append(fields, "exposureUsd", rec.ExposureUSD.StringFixed(2))
	}
	l.logger.Infow("point_update", fields...)
	return nil
}

// MultiEmitter sends every record to all emitters and joins their errors.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, rec RewardUpdateRecord) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
