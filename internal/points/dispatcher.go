package points

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/calc"
	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/metrics"
	"github.com/leafsii/lp-points/internal/rates"
	"github.com/leafsii/lp-points/internal/snapshot"
)

// PositionReader reads live pool positions. *chain.PoolReader satisfies it.
type PositionReader interface {
	Position(ctx context.Context, block uint64, account common.Address) (chain.Position, error)
	IsProtocolAddress(addr common.Address) bool
}

// AccountResult is the outcome of one account's accrual for one trigger.
type AccountResult struct {
	Account common.Address
	Accrual Accrual
	Err     error
}

// Result summarizes one handled trigger.
type Result struct {
	Trigger  chain.Trigger
	Skipped  string
	Accounts []AccountResult
}

// Failed returns the accounts whose snapshot was left untouched.
func (r *Result) Failed() []AccountResult {
	var out []AccountResult
	for _, a := range r.Accounts {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

// Err joins every per-account error.
func (r *Result) Err() error {
	var errs []error
	for _, a := range r.Accounts {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Account.Hex(), a.Err))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher routes triggers to the accounts they affect and updates each account independently.
// Handle must not be called concurrently; accounts within one trigger run on a worker pool.
type Dispatcher struct {
	engine  *Engine
	store   snapshot.Store
	reader  PositionReader
	emitter Emitter
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	pool    pond.Pool
}

func NewDispatcher(engine *Engine, store snapshot.Store, reader PositionReader, emitter Emitter, m *metrics.Metrics, logger *zap.SugaredLogger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 16
	}
	return &Dispatcher{
		engine:  engine,
		store:   store,
		reader:  reader,
		emitter: emitter,
		metrics: m,
		logger:  logger,
		pool:    pond.NewPool(workers, pond.WithQueueSize(workers*64)),
	}
}

// Close waits for running accounts and stops the worker pool.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}

// Handle processes every account affected by t and returns once all of them are done.
// The returned error is reserved for failures that prevent resolving the account set.
func (d *Dispatcher) Handle(ctx context.Context, t chain.Trigger) (*Result, error) {
	start := time.Now()
	defer func() {
		d.metrics.RecordTrigger(ctx, string(t.Kind), time.Since(start))
	}()

	accounts, skipped, err := d.affected(ctx, t)
	if err != nil {
		return nil, err
	}

	result := &Result{Trigger: t, Skipped: skipped}
	if skipped != "" {
		d.logger.Debugw("Trigger skipped", "kind", t.Kind, "block", t.Block.Number, "reason", skipped)
		return result, nil
	}
	if len(accounts) == 0 {
		return result, nil
	}

	result.Accounts = make([]AccountResult, len(accounts))
	for i, acct := range accounts {
		result.Accounts[i] = AccountResult{Account: acct, Err: context.Canceled}
	}

	group := d.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, acct := range accounts {
		group.Submit(func() {
			a, err := d.processAccount(groupCtx, t, acct)
			result.Accounts[i] = AccountResult{Account: acct, Accrual: a, Err: err}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, fmt.Errorf("handle %s at block %d: %w", t.Kind, t.Block.Number, err)
	}

	if failed := result.Failed(); len(failed) > 0 {
		d.logger.Warnw("Trigger finished with failed accounts",
			"kind", t.Kind,
			"block", t.Block.Number,
			"accounts", len(accounts),
			"failed", len(failed),
		)
	}
	return result, nil
}

func (d *Dispatcher) affected(ctx context.Context, t chain.Trigger) ([]common.Address, string, error) {
	switch {
	case t.Kind.IsLiquidity():
		if t.Provider == (common.Address{}) {
			return nil, "zero provider", nil
		}
		return []common.Address{t.Provider}, "", nil

	case t.Kind == chain.KindTransfer:
		if d.reader.IsProtocolAddress(t.Sender) || d.reader.IsProtocolAddress(t.Receiver) {
			return nil, "protocol transfer", nil
		}
		if t.Sender == t.Receiver {
			return []common.Address{t.Sender}, "", nil
		}
		return []common.Address{t.Sender, t.Receiver}, "", nil

	case t.Kind == chain.KindTokenExchange, t.Kind == chain.KindTimeInterval:
		pool := d.engine.Pool().Address
		snaps, err := d.store.List(ctx, pool)
		if err != nil {
			return nil, "", fmt.Errorf("list accounts of %s for %s: %w", pool.Hex(), t.Kind, err)
		}
		out := make([]common.Address, 0, len(snaps))
		seen := make(map[common.Address]struct{}, len(snaps))
		for _, s := range snaps {
			if _, dup := seen[s.Account]; dup {
				continue
			}
			seen[s.Account] = struct{}{}
			out = append(out, s.Account)
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].Cmp(out[j]) < 0
		})
		return out, "", nil
	}

	return nil, "", fmt.Errorf("unsupported trigger kind %q", t.Kind)
}

func (d *Dispatcher) processAccount(ctx context.Context, t chain.Trigger, account common.Address) (Accrual, error) {
	if err := ctx.Err(); err != nil {
		return Accrual{}, err
	}

	pool := d.engine.Pool()
	key := snapshot.Key{Pool: pool.Address, Account: account}
	log := d.logger.With("account", account.Hex(), "kind", t.Kind, "block", t.Block.Number)

	prev, err := d.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			return d.fail(ctx, log, "store", fmt.Errorf("read snapshot: %w", err))
		}
		prev = nil
	}

	accrual, err := d.engine.Accrue(ctx, prev, t.Block)
	if err != nil {
		reason := "engine"
		if errors.Is(err, rates.ErrRateUnavailable) {
			reason = "rate_unavailable"
		}
		return d.fail(ctx, log, reason, err)
	}

	pos, err := d.reader.Position(ctx, t.Block.Number, account)
	if err != nil {
		return d.fail(ctx, log, "position", fmt.Errorf("read position: %w", err))
	}

	next := NewSnapshot(key, t.Block, pos)
	if err := next.Validate(); err != nil {
		return d.fail(ctx, log, "invalid_position", err)
	}
	if err := d.store.Upsert(ctx, next); err != nil {
		return d.fail(ctx, log, "store", fmt.Errorf("write snapshot: %w", err))
	}

	d.metrics.RecordAccrual(ctx, string(accrual.Outcome))
	d.metrics.SetPoolReserve(pool.AssetA.Symbol, calc.ScaleDown(pos.ReserveA, pool.AssetA.Decimals))
	d.metrics.SetPoolReserve(pool.AssetB.Symbol, calc.ScaleDown(pos.ReserveB, pool.AssetB.Decimals))

	if d.emitter != nil {
		if err := d.emitter.Emit(ctx, NewRecord(t, prev, next, accrual)); err != nil {
			log.Warnw("Failed to emit point update", "error", err)
		}
	}

	return accrual, nil
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.SugaredLogger, reason string, err error) (Accrual, error) {
	d.metrics.RecordFailure(ctx, reason)
	log.Errorw("Account accrual failed, snapshot kept", "reason", reason, "error", err)
	return Accrual{}, err
}
