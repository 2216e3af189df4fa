package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Gauge is the liquidity gauge where LP tokens can be staked.
type Gauge struct {
	Address    common.Address
	StartBlock uint64
}

// PoolReader reads LP balances and reserves from the pool at a fixed block.
type PoolReader struct {
	caller Caller
	pool   common.Address
	gauge  *Gauge
}

func NewPoolReader(caller Caller, pool common.Address) *PoolReader {
	return &PoolReader{caller: caller, pool: pool}
}

// WithGauge returns a reader that counts gauge-staked LP tokens as part of an
// account's balance from the gauge's start block on.
func (r *PoolReader) WithGauge(g Gauge) *PoolReader {
	out := *r
	out.gauge = &g
	return &out
}

func (r *PoolReader) Pool() common.Address {
	return r.pool
}

// GaugeEnabled reports whether gauge balances are included.
func (r *PoolReader) GaugeEnabled() bool {
	return r.gauge != nil
}

// IsProtocolAddress reports whether addr is the zero address, the pool, or the enabled gauge.
// Transfers touching these addresses are liquidity movements, not LP-to-LP transfers.
func (r *PoolReader) IsProtocolAddress(addr common.Address) bool {
	if addr == (common.Address{}) || addr == r.pool {
		return true
	}
	return r.gauge != nil && addr == r.gauge.Address
}

// BalanceOf returns the account's LP balance, including gauge stake when enabled.
func (r *PoolReader) BalanceOf(ctx context.Context, block uint64, account common.Address) (*big.Int, error) {
	balance, err := CallUint(ctx, r.caller, r.pool, PoolABI, block, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("pool balanceOf %s: %w", account.Hex(), err)
	}

	if r.gauge != nil && block >= r.gauge.StartBlock {
		staked, err := CallUint(ctx, r.caller, r.gauge.Address, GaugeABI, block, "balanceOf", account)
		if err != nil {
			return nil, fmt.Errorf("gauge balanceOf %s: %w", account.Hex(), err)
		}
		balance.Add(balance, staked)
	}

	return balance, nil
}

func (r *PoolReader) TotalSupply(ctx context.Context, block uint64) (*big.Int, error) {
	supply, err := CallUint(ctx, r.caller, r.pool, PoolABI, block, "totalSupply")
	if err != nil {
		return nil, fmt.Errorf("pool totalSupply: %w", err)
	}
	return supply, nil
}

// ReserveBalance returns the pool's raw holding of the coin at index i.
func (r *PoolReader) ReserveBalance(ctx context.Context, block uint64, i int) (*big.Int, error) {
	reserve, err := CallUint(ctx, r.caller, r.pool, PoolABI, block, "balances", big.NewInt(int64(i)))
	if err != nil {
		return nil, fmt.Errorf("pool balances(%d): %w", i, err)
	}
	return reserve, nil
}

// Position reads the account's LP balance together with pool supply and both reserves.
func (r *PoolReader) Position(ctx context.Context, block uint64, account common.Address) (Position, error) {
	var (
		pos Position
		err error
	)
	if pos.LptBalance, err = r.BalanceOf(ctx, block, account); err != nil {
		return Position{}, err
	}
	if pos.LptSupply, err = r.TotalSupply(ctx, block); err != nil {
		return Position{}, err
	}
	if pos.ReserveA, err = r.ReserveBalance(ctx, block, 0); err != nil {
		return Position{}, err
	}
	if pos.ReserveB, err = r.ReserveBalance(ctx, block, 1); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// CallUint performs a view call returning a single uint256 at the given block.
func CallUint(ctx context.Context, caller Caller, to common.Address, contract abi.ABI, block uint64, method string, args ...interface{}) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, err
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return new(big.Int).Set(value), nil
}
