package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leafsii/lp-points/internal/calc"
)

// ErrNotFound is returned when an account has no stored snapshot for the pool.
var ErrNotFound = errors.New("snapshot not found")

// Key identifies one account's snapshot within one pool. Keys compare by exact equality.
type Key struct {
	Pool    common.Address
	Account common.Address
}

func (k Key) String() string {
	return k.Pool.Hex() + "/" + k.Account.Hex()
}

// Snapshot is the last observed position of an account, the baseline for its next accrual.
type Snapshot struct {
	Key
	TimestampMilli int64
	BlockNumber    uint64
	LptBalance     *big.Int
	LptSupply      *big.Int
	ReserveA       *big.Int
	ReserveB       *big.Int
}

// Validate checks the position invariants.
func (s *Snapshot) Validate() error {
	return calc.ValidatePosition(s.LptBalance, s.LptSupply, s.ReserveA, s.ReserveB)
}

// Store persists one snapshot per (pool, account).
type Store interface {
	// Get returns ErrNotFound when the account has no snapshot.
	Get(ctx context.Context, key Key) (*Snapshot, error)
	// Upsert overwrites any existing snapshot for the same key.
	Upsert(ctx context.Context, s *Snapshot) error
	// List returns every snapshot of exactly this pool.
	List(ctx context.Context, pool common.Address) ([]*Snapshot, error)
	// Count returns how many accounts have a snapshot in the pool.
	Count(ctx context.Context, pool common.Address) (int64, error)
	// LatestBlock returns the highest snapshot block of the pool, or false when it has none.
	LatestBlock(ctx context.Context, pool common.Address) (uint64, bool, error)
}

// document is the serialized form. Big integers are decimal strings so no consumer loses precision.
type document struct {
	Pool           string `json:"pool"`
	Account        string `json:"account"`
	TimestampMilli int64  `json:"timestampMilli"`
	BlockNumber    uint64 `json:"blockNumber"`
	LptBalance     string `json:"lptBalance"`
	LptSupply      string `json:"lptSupply"`
	ReserveA       string `json:"reserveA"`
	ReserveB       string `json:"reserveB"`
}

func encode(s *Snapshot) ([]byte, error) {
	return json.Marshal(document{
		Pool:           s.Pool.Hex(),
		Account:        s.Account.Hex(),
		TimestampMilli: s.TimestampMilli,
		BlockNumber:    s.BlockNumber,
		LptBalance:     s.LptBalance.String(),
		LptSupply:      s.LptSupply.String(),
		ReserveA:       s.ReserveA.String(),
		ReserveB:       s.ReserveB.String(),
	})
}

func decode(raw []byte) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if !common.IsHexAddress(doc.Pool) || !common.IsHexAddress(doc.Account) {
		return nil, fmt.Errorf("decode snapshot: malformed key %q/%q", doc.Pool, doc.Account)
	}

	s := &Snapshot{
		Key: Key{
			Pool:    common.HexToAddress(doc.Pool),
			Account: common.HexToAddress(doc.Account),
		},
		TimestampMilli: doc.TimestampMilli,
		BlockNumber:    doc.BlockNumber,
	}

	var err error
	if s.LptBalance, err = parseInt("lptBalance", doc.LptBalance); err != nil {
		return nil, err
	}
	if s.LptSupply, err = parseInt("lptSupply", doc.LptSupply); err != nil {
		return nil, err
	}
	if s.ReserveA, err = parseInt("reserveA", doc.ReserveA); err != nil {
		return nil, err
	}
	if s.ReserveB, err = parseInt("reserveB", doc.ReserveB); err != nil {
		return nil, err
	}
	return s, nil
}

func parseInt(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("decode snapshot: invalid %s %q", field, value)
	}
	return n, nil
}
