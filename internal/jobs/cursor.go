package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leafsii/lp-points/pkg/kv"
)

// KeyCursor prefixes the per-pool indexer cursor.
const KeyCursor = "points:cursor"

// Cursor is how far the indexer has fully processed a pool.
type Cursor struct {
	// Block is the last block whose triggers were all handled.
	Block uint64 `json:"block"`
	// LastIntervalMilli is the chain time of the last TimeInterval trigger, 0 before the first.
	LastIntervalMilli int64 `json:"lastIntervalMilli"`
}

// CursorStore persists cursors in a kv.Store.
type CursorStore struct {
	store kv.Store
}

func NewCursorStore(store kv.Store) *CursorStore {
	return &CursorStore{store: store}
}

func cursorKey(pool common.Address) string {
	return fmt.Sprintf("%s:%s", KeyCursor, strings.ToLower(pool.Hex()))
}

// Load returns the saved cursor, or ok=false when the pool was never indexed.
func (s *CursorStore) Load(ctx context.Context, pool common.Address) (Cursor, bool, error) {
	raw, err := s.store.Get(ctx, cursorKey(pool))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("load cursor: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	return c, true, nil
}

func (s *CursorStore) Save(ctx context.Context, pool common.Address, c Cursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.store.Set(ctx, cursorKey(pool), raw); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
