package snapshot

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the goose files.
const MigrationsDir = "migrations"

// Migrate applies all pending schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, MigrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// OpenPostgres opens a pgx-backed database handle and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// SQLStore keeps snapshots in the account_snapshots table.
type SQLStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewSQLStore(db *sql.DB, logger *zap.SugaredLogger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

func addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

const selectColumns = `pool, account, timestamp_milli, block_number,
	lpt_balance::text, lpt_supply::text, reserve_a::text, reserve_b::text`

func (s *SQLStore) Get(ctx context.Context, key Key) (*Snapshot, error) {
	query := `SELECT ` + selectColumns + ` FROM account_snapshots WHERE pool = $1 AND account = $2`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, addr(key.Pool), addr(key.Account)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return snap, nil
}

func (s *SQLStore) Upsert(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, err)
	}

	query := `
		INSERT INTO account_snapshots (pool, account, timestamp_milli, block_number,
			lpt_balance, lpt_supply, reserve_a, reserve_b, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, NOW())
		ON CONFLICT (pool, account) DO UPDATE SET
			timestamp_milli = EXCLUDED.timestamp_milli,
			block_number = EXCLUDED.block_number,
			lpt_balance = EXCLUDED.lpt_balance,
			lpt_supply = EXCLUDED.lpt_supply,
			reserve_a = EXCLUDED.reserve_a,
			reserve_b = EXCLUDED.reserve_b,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		addr(snap.Pool),
		addr(snap.Account),
		snap.TimestampMilli,
		int64(snap.BlockNumber),
		snap.LptBalance.String(),
		snap.LptSupply.String(),
		snap.ReserveA.String(),
		snap.ReserveB.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, pool common.Address) ([]*Snapshot, error) {
	query := `SELECT ` + selectColumns + ` FROM account_snapshots WHERE pool = $1 ORDER BY account`

	rows, err := s.db.QueryContext(ctx, query, addr(pool))
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", pool.Hex(), err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots for %s: %w", pool.Hex(), err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", pool.Hex(), err)
	}

	s.logger.Debugw("Listed snapshots", "pool", pool.Hex(), "count", len(out))
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context, pool common.Address) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM account_snapshots WHERE pool = $1`, addr(pool)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots for %s: %w", pool.Hex(), err)
	}
	return n, nil
}

func (s *SQLStore) LatestBlock(ctx context.Context, pool common.Address) (uint64, bool, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(block_number) FROM account_snapshots WHERE pool = $1`, addr(pool)).Scan(&latest)
	if err != nil {
		return 0, false, fmt.Errorf("latest snapshot block for %s: %w", pool.Hex(), err)
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return uint64(latest.Int64), true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		pool, account                       string
		ts, block                           int64
		balance, supply, reserveA, reserveB string
	)
	if err := row.Scan(&pool, &account, &ts, &block, &balance, &supply, &reserveA, &reserveB); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Key: Key{
			Pool:    common.HexToAddress(strings.TrimSpace(pool)),
			Account: common.HexToAddress(strings.TrimSpace(account)),
		},
		TimestampMilli: ts,
		BlockNumber:    uint64(block),
	}

	for _, col := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"lpt_balance", balance, &snap.LptBalance},
		{"lpt_supply", supply, &snap.LptSupply},
		{"reserve_a", reserveA, &snap.ReserveA},
		{"reserve_b", reserveB, &snap.ReserveB},
	} {
		n, err := parseInt(col.name, col.raw)
		if err != nil {
			return nil, err
		}
		*col.dst = n
	}

	return snap, nil
}
