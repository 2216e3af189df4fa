package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// ThrottledClient puts a shared token bucket in front of every RPC request.
type ThrottledClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewThrottledClient limits next to rps requests per second. A non-positive rps disables throttling.
func NewThrottledClient(next Client, rps float64) *ThrottledClient {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps/4) + 1 // Allow short bursts of a quarter second's worth
	}
	return &ThrottledClient{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (c *ThrottledClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.CallContract(ctx, msg, blockNumber)
}

func (c *ThrottledClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.FilterLogs(ctx, q)
}

func (c *ThrottledClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.HeaderByNumber(ctx, number)
}
