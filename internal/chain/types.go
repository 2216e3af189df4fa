package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Caller is the subset of the Ethereum RPC used for view calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LogFilterer is the subset of the Ethereum RPC used to read pool events.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client combines both RPC subsets; *ethclient.Client satisfies it.
type Client interface {
	Caller
	LogFilterer
}

// Kind names the trigger that caused an account to be re-evaluated.
type Kind string

const (
	KindAddLiquidity             Kind = "AddLiquidity"
	KindRemoveLiquidity          Kind = "RemoveLiquidity"
	KindRemoveLiquidityOne       Kind = "RemoveLiquidityOne"
	KindRemoveLiquidityImbalance Kind = "RemoveLiquidityImbalance"
	KindTokenExchange            Kind = "TokenExchange"
	KindTransfer                 Kind = "Transfer"
	KindTimeInterval             Kind = "TimeInterval"
)

// IsLiquidity reports whether the kind changes a single provider's LP balance.
func (k Kind) IsLiquidity() bool {
	switch k {
	case KindAddLiquidity, KindRemoveLiquidity, KindRemoveLiquidityOne, KindRemoveLiquidityImbalance:
		return true
	}
	return false
}

// BlockRef pins reads and accrual time to one block.
type BlockRef struct {
	Number    uint64      `json:"number"`
	Hash      common.Hash `json:"hash"`
	TimeMilli int64       `json:"timeMilli"`
}

// BigNumber returns the block number in the form expected by eth_call.
func (b BlockRef) BigNumber() *big.Int {
	return new(big.Int).SetUint64(b.Number)
}

func blockRefFromHeader(h *types.Header) BlockRef {
	return BlockRef{
		Number:    h.Number.Uint64(),
		Hash:      h.Hash(),
		TimeMilli: int64(h.Time) * 1000,
	}
}

// Trigger is one unit of work for the dispatcher: a decoded pool event or a timer tick.
type Trigger struct {
	Kind     Kind
	Block    BlockRef
	TxHash   common.Hash
	LogIndex uint

	// Provider is the liquidity provider for liquidity events and the buyer for exchanges.
	Provider common.Address
	Sender   common.Address
	Receiver common.Address

	Amounts      []*big.Int
	TokenSupply  *big.Int
	SoldID       int64
	BoughtID     int64
	TokensSold   *big.Int
	TokensBought *big.Int
	Value        *big.Int
}

// Position is an account's live view of the pool at one block.
type Position struct {
	LptBalance *big.Int
	LptSupply  *big.Int
	ReserveA   *big.Int
	ReserveB   *big.Int
}
