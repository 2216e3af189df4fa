package calc

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of fractional digits kept by Quo.
const DivisionPrecision int32 = 36

// MillisecondsPerDay converts chain timestamps into accrual days.
const MillisecondsPerDay int64 = 24 * 60 * 60 * 1000

// ErrUndefinedRatio is returned when a ratio has a zero denominator.
var ErrUndefinedRatio = errors.New("undefined ratio: zero denominator")

var msPerDay = decimal.NewFromInt(MillisecondsPerDay)

// FromBig converts a raw integer amount without scaling. A nil amount is zero.
func FromBig(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0)
}

// ScaleDown converts a raw token amount into its denominated value: raw / 10^decimals.
// The result is exact.
func ScaleDown(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Quo divides num by den, rounding once to DivisionPrecision fractional digits.
func Quo(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrUndefinedRatio
	}
	return num.DivRound(den, DivisionPrecision), nil
}

// PoolShare returns balance / supply. A pool with zero supply gives every account a zero share.
func PoolShare(balance, supply *big.Int) decimal.Decimal {
	share, err := Quo(FromBig(balance), FromBig(supply))
	if err != nil {
		return decimal.Zero
	}
	return share
}

// Exposure is the part of a reserve attributable to an account holding share of the pool.
func Exposure(share decimal.Decimal, reserveRaw *big.Int, decimals int32) decimal.Decimal {
	return share.Mul(ScaleDown(reserveRaw, decimals))
}

// ElapsedDays returns the fractional number of days between two millisecond timestamps.
// Callers guard against to < from; a negative span is returned as is.
func ElapsedDays(fromMilli, toMilli int64) decimal.Decimal {
	days, _ := Quo(decimal.NewFromInt(toMilli-fromMilli), msPerDay)
	return days
}
