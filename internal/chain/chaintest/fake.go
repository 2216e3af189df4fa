// Package chaintest provides an in-memory Ethereum RPC double for chain-backed tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoValue is returned for calls that were never stubbed.
var ErrNoValue = errors.New("chaintest: no value stubbed")

type callKey struct {
	to     common.Address
	method string
	arg    string
	block  uint64
}

// Client answers view calls from stubbed values and serves a fixed set of logs and headers.
// Values stubbed without a block apply to every block.
type Client struct {
	mu       sync.Mutex
	contract map[common.Address]abi.ABI
	values   map[callKey]*big.Int
	errs     map[callKey]error
	logs     []types.Log
	times    map[uint64]uint64
	head     uint64
	calls    map[string]int
	filter   error
}

func NewClient() *Client {
	return &Client{
		contract: make(map[common.Address]abi.ABI),
		values:   make(map[callKey]*big.Int),
		errs:     make(map[callKey]error),
		times:    make(map[uint64]uint64),
		calls:    make(map[string]int),
	}
}

// Register binds an ABI to a contract address so calldata can be decoded.
func (c *Client) Register(addr common.Address, contract abi.ABI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contract[addr] = contract
}

// Stub sets the return value for method(arg) on addr at every block. arg is "" for no-arg methods.
func (c *Client) Stub(addr common.Address, method, arg string, value *big.Int) {
	c.StubAt(addr, method, arg, 0, value)
}

// StubAt sets the return value for one block; block 0 means any block.
func (c *Client) StubAt(addr common.Address, method, arg string, block uint64, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[callKey{addr, method, arg, block}] = value
}

// Fail makes method(arg) on addr return err at every block.
func (c *Client) Fail(addr common.Address, method, arg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[callKey{addr, method, arg, 0}] = err
}

// FailLogs makes FilterLogs return err until called again with nil.
func (c *Client) FailLogs(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = err
}

// Calls returns how many times method was called on addr.
func (c *Client) Calls(addr common.Address, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr.Hex()+":"+method]
}

// SetHead sets the latest block. Blocks without an explicit time are stamped at 12s per block.
func (c *Client) SetHead(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = number
}

// SetBlockTime sets a block's timestamp in seconds.
func (c *Client) SetBlockTime(number, seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[number] = seconds
}

// AddLog appends a pool event log built from the event's arguments.
// Indexed arguments go in topics, the rest are ABI encoded into data.
func (c *Client) AddLog(contract abi.ABI, addr common.Address, event string, block uint64, index uint, indexed []common.Hash, data ...interface{}) error {
	ev, ok := contract.Events[event]
	if !ok {
		return fmt.Errorf("chaintest: unknown event %s", event)
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return fmt.Errorf("chaintest: pack %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, types.Log{
		Address:     addr,
		Topics:      append([]common.Hash{ev.ID}, indexed...),
		Data:        packed,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	})
	return nil
}

// AddressTopic encodes an address as an indexed topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("chaintest: malformed call")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	contract, ok := c.contract[*msg.To]
	if !ok {
		return nil, fmt.Errorf("chaintest: no abi for %s", msg.To.Hex())
	}
	method, err := contract.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	arg := ""
	if len(args) > 0 {
		switch v := args[0].(type) {
		case common.Address:
			arg = v.Hex()
		case *big.Int:
			arg = v.String()
		default:
			arg = fmt.Sprint(v)
		}
	}

	c.calls[msg.To.Hex()+":"+method.Name]++

	var block uint64
	if blockNumber != nil {
		block = blockNumber.Uint64()
	}

	if err, ok := c.errs[callKey{*msg.To, method.Name, arg, 0}]; ok {
		return nil, err
	}
	value, ok := c.values[callKey{*msg.To, method.Name, arg, block}]
	if !ok {
		value, ok = c.values[callKey{*msg.To, method.Name, arg, 0}]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s(%s)", ErrNoValue, msg.To.Hex(), method.Name, arg)
	}
	return method.Outputs.Pack(value)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filter != nil {
		return nil, c.filter
	}

	var out []types.Log
	for _, l := range c.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	seconds, ok := c.times[n]
	if !ok {
		seconds = n * 12
	}
	return &types.Header{
		Number: new(big.Int).SetUint64(n),
		Time:   seconds,
	}, nil
}
