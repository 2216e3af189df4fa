package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SQLCursorStore keeps cursors in the indexer_cursors table, next to the snapshots they describe.
type SQLCursorStore struct {
	db *sql.DB
}

func NewSQLCursorStore(db *sql.DB) *SQLCursorStore {
	return &SQLCursorStore{db: db}
}

func (s *SQLCursorStore) Load(ctx context.Context, pool common.Address) (Cursor, bool, error) {
	var block, lastInterval int64
	err := s.db.QueryRowContext(ctx,
		`SELECT block, last_interval_milli FROM indexer_cursors WHERE pool = $1`,
		strings.ToLower(pool.Hex()),
	).Scan(&block, &lastInterval)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return Cursor{Block: uint64(block), LastIntervalMilli: lastInterval}, true, nil
}

func (s *SQLCursorStore) Save(ctx context.Context, pool common.Address, c Cursor) error {
	query := `
		INSERT INTO indexer_cursors (pool, block, last_interval_milli, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (pool) DO UPDATE SET
			block = EXCLUDED.block,
			last_interval_milli = EXCLUDED.last_interval_milli,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, strings.ToLower(pool.Hex()), int64(c.Block), c.LastIntervalMilli); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
