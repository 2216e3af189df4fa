package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var eventKinds = map[string]Kind{
	"AddLiquidity":             KindAddLiquidity,
	"RemoveLiquidity":          KindRemoveLiquidity,
	"RemoveLiquidityOne":       KindRemoveLiquidityOne,
	"RemoveLiquidityImbalance": KindRemoveLiquidityImbalance,
	"TokenExchange":            KindTokenExchange,
	"Transfer":                 KindTransfer,
}

// LogSource turns pool logs into ordered triggers.
type LogSource struct {
	client LogFilterer
	pool   common.Address
	topics []common.Hash
	events map[common.Hash]abi.Event
	logger *zap.SugaredLogger
}

func NewLogSource(client LogFilterer, pool common.Address, logger *zap.SugaredLogger) *LogSource {
	s := &LogSource{
		client: client,
		pool:   pool,
		events: make(map[common.Hash]abi.Event, len(eventKinds)),
		logger: logger,
	}
	for name := range eventKinds {
		ev := PoolABI.Events[name]
		s.events[ev.ID] = ev
		s.topics = append(s.topics, ev.ID)
	}
	sort.Slice(s.topics, func(i, j int) bool {
		return s.topics[i].Hex() < s.topics[j].Hex()
	})
	return s
}

// Head returns the latest block known to the node.
func (s *LogSource) Head(ctx context.Context) (BlockRef, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return BlockRef{}, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil {
		return BlockRef{}, errors.New("fetch head: empty header")
	}
	return blockRefFromHeader(header), nil
}

// Block returns the reference for a single block.
func (s *LogSource) Block(ctx context.Context, number uint64) (BlockRef, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockRef{}, fmt.Errorf("fetch header %d: %w", number, err)
	}
	if header == nil || header.Number == nil {
		return BlockRef{}, fmt.Errorf("fetch header %d: empty header", number)
	}
	return blockRefFromHeader(header), nil
}

// Fetch returns the pool's triggers in [from, to], sorted by block then log index.
func (s *LogSource) Fetch(ctx context.Context, from, to uint64) ([]Trigger, error) {
	if to < from {
		return nil, nil
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.pool},
		Topics:    [][]common.Hash{s.topics},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	headers := make(map[uint64]BlockRef)
	triggers := make([]Trigger, 0, len(logs))
	for _, l := range logs {
		if l.Removed || l.Address != s.pool || len(l.Topics) == 0 {
			continue
		}
		ev, ok := s.events[l.Topics[0]]
		if !ok {
			s.logger.Debugw("Skipping unsupported pool log", "topic", l.Topics[0].Hex(), "block", l.BlockNumber)
			continue
		}

		ref, ok := headers[l.BlockNumber]
		if !ok {
			ref, err = s.Block(ctx, l.BlockNumber)
			if err != nil {
				return nil, err
			}
			headers[l.BlockNumber] = ref
		}

		trigger, err := decodeLog(ev, l)
		if err != nil {
			return nil, fmt.Errorf("decode %s at block %d index %d: %w", ev.Name, l.BlockNumber, l.Index, err)
		}
		trigger.Block = ref
		triggers = append(triggers, trigger)
	}

	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].Block.Number != triggers[j].Block.Number {
			return triggers[i].Block.Number < triggers[j].Block.Number
		}
		return triggers[i].LogIndex < triggers[j].LogIndex
	})

	return triggers, nil
}

func decodeLog(ev abi.Event, l types.Log) (Trigger, error) {
	t := Trigger{
		Kind:     eventKinds[ev.Name],
		TxHash:   l.TxHash,
		LogIndex: l.Index,
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics) != len(indexed)+1 {
		return Trigger{}, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(l.Topics))
	}

	fields := make(map[string]interface{})
	if err := ev.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
		return Trigger{}, err
	}

	topicAddr := func(i int) common.Address {
		return common.BytesToAddress(l.Topics[i].Bytes())
	}

	switch t.Kind {
	case KindTransfer:
		t.Sender = topicAddr(1)
		t.Receiver = topicAddr(2)
		t.Value = bigField(fields, "value")
	case KindTokenExchange:
		t.Provider = topicAddr(1)
		t.SoldID = bigField(fields, "sold_id").Int64()
		t.TokensSold = bigField(fields, "tokens_sold")
		t.BoughtID = bigField(fields, "bought_id").Int64()
		t.TokensBought = bigField(fields, "tokens_bought")
	case KindRemoveLiquidityOne:
		t.Provider = topicAddr(1)
		t.SoldID = bigField(fields, "token_id").Int64()
		t.Value = bigField(fields, "token_amount")
		t.Amounts = []*big.Int{bigField(fields, "coin_amount")}
		t.TokenSupply = bigField(fields, "token_supply")
	default:
		t.Provider = topicAddr(1)
		if amounts, ok := fields["token_amounts"].([]*big.Int); ok {
			t.Amounts = amounts
		}
		t.TokenSupply = bigField(fields, "token_supply")
	}

	return t, nil
}

func bigField(fields map[string]interface{}, name string) *big.Int {
	if v, ok := fields[name].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}
