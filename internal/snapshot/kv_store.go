package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/metrics"
	"github.com/leafsii/lp-points/pkg/kv"
)

// KVStore keeps one hash per pool: points:snapshots:<pool> -> {account: snapshot JSON}.
type KVStore struct {
	store   kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{store: store, logger: zap.NewNop().Sugar()}
}

// WithTelemetry reports entries that List has to skip.
func (s *KVStore) WithTelemetry(logger *zap.SugaredLogger, m *metrics.Metrics) *KVStore {
	if logger != nil {
		s.logger = logger
	}
	s.metrics = m
	return s
}

// PoolHash returns the hash key holding a pool's snapshots.
func PoolHash(pool common.Address) string {
	return "points:snapshots:" + strings.ToLower(pool.Hex())
}

func field(account common.Address) string {
	return strings.ToLower(account.Hex())
}

func (s *KVStore) Get(ctx context.Context, key Key) (*Snapshot, error) {
	raw, err := s.store.HGet(ctx, PoolHash(key.Pool), field(key.Account))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return decode(raw)
}

func (s *KVStore) Upsert(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, err)
	}
	raw, err := encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Key, err)
	}
	if err := s.store.HSet(ctx, PoolHash(snap.Pool), field(snap.Account), raw); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, err)
	}
	return nil
}

func (s *KVStore) List(ctx context.Context, pool common.Address) ([]*Snapshot, error) {
	all, err := s.store.HGetAll(ctx, PoolHash(pool))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots for %s: %w", pool.Hex(), err)
	}

	// A bad entry is skipped so one corrupt account cannot stall interval accruals for the rest.
	out := make([]*Snapshot, 0, len(all))
	for account, raw := range all {
		snap, err := decode(raw)
		if err != nil {
			s.skip(ctx, pool, account, err)
			continue
		}
		if snap.Pool != pool {
			s.skip(ctx, pool, account, fmt.Errorf("stored under pool %s", snap.Pool.Hex()))
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Hex() < out[j].Account.Hex()
	})
	return out, nil
}

func (s *KVStore) skip(ctx context.Context, pool common.Address, account string, err error) {
	s.logger.Warnw("Skipping undecodable snapshot", "pool", pool.Hex(), "account", account, "error", err)
	s.metrics.RecordFailure(ctx, "decode")
}

// LatestBlock returns the highest block any stored snapshot of the pool was taken at.
func (s *KVStore) LatestBlock(ctx context.Context, pool common.Address) (uint64, bool, error) {
	snaps, err := s.List(ctx, pool)
	if err != nil {
		return 0, false, err
	}
	var latest uint64
	for _, snap := range snaps {
		latest = max(latest, snap.BlockNumber)
	}
	return latest, len(snaps) > 0, nil
}

func (s *KVStore) Count(ctx context.Context, pool common.Address) (int64, error) {
	n, err := s.store.HLen(ctx, PoolHash(pool))
	if err != nil {
		return 0, fmt.Errorf("count snapshots for %s: %w", pool.Hex(), err)
	}
	return n, nil
}
