package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/metrics"
	"github.com/leafsii/lp-points/internal/points"
)

// Source delivers decoded pool events. *chain.LogSource satisfies it.
type Source interface {
	Head(ctx context.Context) (chain.BlockRef, error)
	Block(ctx context.Context, number uint64) (chain.BlockRef, error)
	Fetch(ctx context.Context, from, to uint64) ([]chain.Trigger, error)
}

// Handler processes one trigger. *points.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, t chain.Trigger) (*points.Result, error)
}

// Cursors persists indexer progress. *CursorStore and *SQLCursorStore satisfy it.
type Cursors interface {
	Load(ctx context.Context, pool common.Address) (Cursor, bool, error)
	Save(ctx context.Context, pool common.Address, c Cursor) error
}

// Checkpoints reports the newest block already applied to stored snapshots. snapshot.Store satisfies it.
type Checkpoints interface {
	LatestBlock(ctx context.Context, pool common.Address) (uint64, bool, error)
}

type PointIndexerConfig struct {
	Pool          common.Address
	StartBlock    uint64
	Confirmations uint64
	MaxBlockRange uint64
	Interval      time.Duration // chain time between TimeInterval triggers
	PollSpec      string        // cron spec with a seconds field
}

func DefaultPointIndexerConfig() PointIndexerConfig {
	return PointIndexerConfig{
		StartBlock:    19544960,
		Confirmations: 12,
		MaxBlockRange: 2000,
		Interval:      4 * time.Hour,
		PollSpec:      "*/15 * * * * *",
	}
}

// PointIndexer feeds pool events and timer ticks to the handler one at a time, in chain order.
type PointIndexer struct {
	source  Source
	handler Handler
	cursors     Cursors
	checkpoints Checkpoints
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	config  PointIndexerConfig

	mu        sync.Mutex
	cancelCtx context.CancelFunc
	lastPoll  time.Time
	lastErr   error
}

// Status is the indexer progress reported on the ops surface.
type Status struct {
	Pool              string     `json:"pool"`
	Block             uint64     `json:"block"`
	LastIntervalMilli int64      `json:"lastIntervalMilli"`
	LastPoll          *time.Time `json:"lastPoll,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

func NewPointIndexer(source Source, handler Handler, cursors Cursors, m *metrics.Metrics, logger *zap.SugaredLogger, config PointIndexerConfig) *PointIndexer {
	if config.MaxBlockRange == 0 {
		config.MaxBlockRange = DefaultPointIndexerConfig().MaxBlockRange
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPointIndexerConfig().Interval
	}
	if config.PollSpec == "" {
		config.PollSpec = DefaultPointIndexerConfig().PollSpec
	}
	return &PointIndexer{
		source:  source,
		handler: handler,
		cursors: cursors,
		metrics: m,
		logger:  logger,
		config:  config,
	}
}

// WithCheckpoints sets where a missing cursor resumes from.
// Without it a lost cursor replays from StartBlock over snapshots that are already ahead.
func (j *PointIndexer) WithCheckpoints(c Checkpoints) *PointIndexer {
	j.checkpoints = c
	return j
}

// Start schedules Poll and blocks until ctx is cancelled or Stop is called.
// SkipIfStillRunning keeps at most one poll, and so one trigger, in flight.
func (j *PointIndexer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	j.mu.Lock()
	j.cancelCtx = cancel
	j.mu.Unlock()
	defer cancel()

	logger := cronLogger{j.logger}
	scheduler := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := scheduler.AddFunc(j.config.PollSpec, func() {
		err := j.Poll(ctx)
		j.recordPoll(err)
		if err != nil && !errors.Is(err, context.Canceled) {
			j.logger.Errorw("Point indexer poll failed", "pool", j.config.Pool.Hex(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule point indexer: %w", err)
	}

	j.logger.Infow("Starting point indexer",
		"pool", j.config.Pool.Hex(),
		"pollSpec", j.config.PollSpec,
		"interval", j.config.Interval,
		"confirmations", j.config.Confirmations,
	)

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()

	j.logger.Infow("Point indexer stopped")
	return ctx.Err()
}

func (j *PointIndexer) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelCtx != nil {
		j.cancelCtx()
	}
}

func (j *PointIndexer) recordPoll(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastPoll = time.Now()
	j.lastErr = err
}

// Status reads the saved cursor along with the outcome of the last scheduled poll.
func (j *PointIndexer) Status(ctx context.Context) (Status, error) {
	cursor, _, err := j.cursors.Load(ctx, j.config.Pool)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Pool:              j.config.Pool.Hex(),
		Block:             cursor.Block,
		LastIntervalMilli: cursor.LastIntervalMilli,
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.lastPoll.IsZero() {
		at := j.lastPoll
		st.LastPoll = &at
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st, nil
}

// Poll processes confirmed blocks until the cursor reaches head minus confirmations.
// A trigger-level failure stops the poll; the cursor stays at the last completed block.
func (j *PointIndexer) Poll(ctx context.Context) error {
	head, err := j.source.Head(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	if head.Number < j.config.Confirmations {
		return nil
	}
	safe := head.Number - j.config.Confirmations

	cursor, ok, err := j.cursors.Load(ctx, j.config.Pool)
	if err != nil {
		return err
	}
	if !ok {
		if cursor, err = j.initialCursor(ctx); err != nil {
			return err
		}
	}

	for cursor.Block < safe {
		if err := ctx.Err(); err != nil {
			return err
		}

		from := cursor.Block + 1
		to := from + j.config.MaxBlockRange - 1
		if to > safe {
			to = safe
		}

		if err := j.processRange(ctx, &cursor, from, to); err != nil {
			return fmt.Errorf("blocks %d-%d: %w", from, to, err)
		}
	}
	return nil
}

// initialCursor starts at StartBlock, or at the newest snapshot block when snapshots outlived the cursor.
// Triggers of that block are replayed; accounts already at it accrue nothing.
func (j *PointIndexer) initialCursor(ctx context.Context) (Cursor, error) {
	var cursor Cursor
	if j.config.StartBlock > 0 {
		cursor.Block = j.config.StartBlock - 1
	}

	if j.checkpoints != nil {
		latest, ok, err := j.checkpoints.LatestBlock(ctx, j.config.Pool)
		if err != nil {
			return Cursor{}, fmt.Errorf("read snapshot checkpoint: %w", err)
		}
		if ok && latest > cursor.Block {
			cursor.Block = latest - 1
			j.logger.Warnw("No cursor found, resuming from newest snapshot", "pool", j.config.Pool.Hex(), "fromBlock", latest)
			return cursor, nil
		}
	}

	j.logger.Infow("No cursor found, starting fresh", "pool", j.config.Pool.Hex(), "fromBlock", cursor.Block+1)
	return cursor, nil
}

func (j *PointIndexer) processRange(ctx context.Context, cursor *Cursor, from, to uint64) error {
	triggers, err := j.source.Fetch(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	for i := 0; i < len(triggers); {
		blockRef := triggers[i].Block
		k := i
		for k < len(triggers) && triggers[k].Block.Number == blockRef.Number {
			if err := j.handle(ctx, triggers[k]); err != nil {
				return err
			}
			k++
		}
		i = k

		if err := j.maybeInterval(ctx, cursor, blockRef); err != nil {
			return err
		}
		if err := j.advance(ctx, cursor, blockRef.Number); err != nil {
			return err
		}
	}

	if cursor.Block < to {
		end, err := j.source.Block(ctx, to)
		if err != nil {
			return fmt.Errorf("read block %d: %w", to, err)
		}
		if err := j.maybeInterval(ctx, cursor, end); err != nil {
			return err
		}
		if err := j.advance(ctx, cursor, to); err != nil {
			return err
		}
	}

	j.logger.Debugw("Processed block range", "from", from, "to", to, "triggers", len(triggers))
	return nil
}

// maybeInterval fires a TimeInterval trigger at b once the interval has elapsed in chain time.
func (j *PointIndexer) maybeInterval(ctx context.Context, cursor *Cursor, b chain.BlockRef) error {
	if cursor.LastIntervalMilli != 0 && b.TimeMilli-cursor.LastIntervalMilli < j.config.Interval.Milliseconds() {
		return nil
	}
	if err := j.handle(ctx, chain.Trigger{Kind: chain.KindTimeInterval, Block: b}); err != nil {
		return err
	}
	cursor.LastIntervalMilli = b.TimeMilli
	return nil
}

func (j *PointIndexer) handle(ctx context.Context, t chain.Trigger) error {
	res, err := j.handler.Handle(ctx, t)
	if err != nil {
		return fmt.Errorf("%s at block %d: %w", t.Kind, t.Block.Number, err)
	}
	if failed := len(res.Failed()); failed > 0 {
		j.logger.Warnw("Accounts left on previous snapshot",
			"kind", t.Kind,
			"block", t.Block.Number,
			"failed", failed,
		)
	}
	return nil
}

func (j *PointIndexer) advance(ctx context.Context, cursor *Cursor, block uint64) error {
	cursor.Block = block
	if err := j.cursors.Save(ctx, j.config.Pool, *cursor); err != nil {
		return err
	}
	j.metrics.SetIndexedBlock(block)
	return nil
}

// cronLogger adapts a zap logger to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
