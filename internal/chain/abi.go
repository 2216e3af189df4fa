package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// poolABIJSON is the subset of the Curve StableSwap-NG pool ABI the indexer reads.
const poolABIJSON = `[
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"receiver","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"TokenExchange","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":true},
    {"name":"sold_id","type":"int128","indexed":false},
    {"name":"tokens_sold","type":"uint256","indexed":false},
    {"name":"bought_id","type":"int128","indexed":false},
    {"name":"tokens_bought","type":"uint256","indexed":false}]},
  {"type":"event","name":"AddLiquidity","anonymous":false,"inputs":[
    {"name":"provider","type":"address","indexed":true},
    {"name":"token_amounts","type":"uint256[]","indexed":false},
    {"name":"fees","type":"uint256[]","indexed":false},
    {"name":"invariant","type":"uint256","indexed":false},
    {"name":"token_supply","type":"uint256","indexed":false}]},
  {"type":"event","name":"RemoveLiquidity","anonymous":false,"inputs":[
    {"name":"provider","type":"address","indexed":true},
    {"name":"token_amounts","type":"uint256[]","indexed":false},
    {"name":"fees","type":"uint256[]","indexed":false},
    {"name":"token_supply","type":"uint256","indexed":false}]},
  {"type":"event","name":"RemoveLiquidityOne","anonymous":false,"inputs":[
    {"name":"provider","type":"address","indexed":true},
    {"name":"token_id","type":"int128","indexed":false},
    {"name":"token_amount","type":"uint256","indexed":false},
    {"name":"coin_amount","type":"uint256","indexed":false},
    {"name":"token_supply","type":"uint256","indexed":false}]},
  {"type":"event","name":"RemoveLiquidityImbalance","anonymous":false,"inputs":[
    {"name":"provider","type":"address","indexed":true},
    {"name":"token_amounts","type":"uint256[]","indexed":false},
    {"name":"fees","type":"uint256[]","indexed":false},
    {"name":"invariant","type":"uint256","indexed":false},
    {"name":"token_supply","type":"uint256","indexed":false}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
    "inputs":[{"name":"arg0","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
    "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balances","stateMutability":"view",
    "inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// gaugeABIJSON covers the liquidity gauge's staked LP balance.
const gaugeABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
    "inputs":[{"name":"addr","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// RateABIJSON lists the exchange rate getters exposed by the pool's yield-bearing tokens.
const RateABIJSON = `[
  {"type":"function","name":"getRate","stateMutability":"view",
    "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"exchangeRateToNative","stateMutability":"view",
    "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	PoolABI  = mustParseABI("pool", poolABIJSON)
	GaugeABI = mustParseABI("gauge", gaugeABIJSON)
	RateABI  = mustParseABI("rate", RateABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
