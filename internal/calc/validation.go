package calc

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ValidatePosition performs basic sanity checks on a pool position read from chain:
// lptSupply >= lptBalance >= 0 and non-negative reserves.
func ValidatePosition(lptBalance, lptSupply, reserveA, reserveB *big.Int) error {
	if lptBalance == nil || lptSupply == nil || reserveA == nil || reserveB == nil {
		return fmt.Errorf("invalid position: missing field")
	}

	if lptBalance.Sign() < 0 {
		return fmt.Errorf("invalid lp balance: cannot be negative")
	}

	if lptSupply.Cmp(lptBalance) < 0 {
		return fmt.Errorf("invalid lp supply: %s below account balance %s", lptSupply, lptBalance)
	}

	if reserveA.Sign() < 0 || reserveB.Sign() < 0 {
		return fmt.Errorf("invalid reserves: cannot be negative")
	}

	return nil
}

// ValidateRate checks that an exchange rate is usable for point math.
func ValidateRate(rate decimal.Decimal) error {
	if rate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid exchange rate %s: must be positive", rate)
	}

	// Yield-bearing ETH wrappers stay close to 1; anything this large is a decoding bug.
	maxRate := decimal.New(1, 6)
	if rate.GreaterThan(maxRate) {
		return fmt.Errorf("invalid exchange rate %s: too large", rate)
	}

	return nil
}
