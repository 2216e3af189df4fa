package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/leafsii/lp-points/internal/chain"
)

var (
	// ErrRateUnavailable means no usable exchange rate exists for the token at the requested block.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	// ErrUnknownToken means the token is not one of the configured reserve assets.
	ErrUnknownToken = fmt.Errorf("%w: unknown token", ErrRateUnavailable)
)

// Provider returns the native-asset exchange rate of a yield-bearing token.
type Provider interface {
	Rate(ctx context.Context, token common.Address, at chain.BlockRef) (decimal.Decimal, error)
	Name() string
}

// Token describes where a reserve asset publishes its exchange rate.
type Token struct {
	Symbol   string
	Address  common.Address
	Method   string // view method returning the rate, e.g. getRate or exchangeRateToNative
	Decimals int32  // scale of the returned rate
}

// Registry maps token addresses to their rate sources.
type Registry struct {
	tokens map[common.Address]Token
}

func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{tokens: make(map[common.Address]Token, len(tokens))}
	for _, t := range tokens {
		if t.Address == (common.Address{}) {
			return nil, fmt.Errorf("token %s: address required", t.Symbol)
		}
		if _, dup := r.tokens[t.Address]; dup {
			return nil, fmt.Errorf("token %s: duplicate address %s", t.Symbol, t.Address.Hex())
		}
		if strings.TrimSpace(t.Method) == "" {
			return nil, fmt.Errorf("token %s: rate method required", t.Symbol)
		}
		if _, ok := chain.RateABI.Methods[t.Method]; !ok {
			return nil, fmt.Errorf("token %s: unsupported rate method %q", t.Symbol, t.Method)
		}
		if t.Decimals <= 0 {
			t.Decimals = 18
		}
		r.tokens[t.Address] = t
	}
	return r, nil
}

// Lookup returns the configured token or ErrUnknownToken.
func (r *Registry) Lookup(addr common.Address) (Token, error) {
	t, ok := r.tokens[addr]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// Tokens returns every registered token.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}
