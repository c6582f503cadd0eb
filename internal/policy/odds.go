package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DecimalOdds converts American odds into a decimal payout multiplier (stake included).
// +150 pays 2.5x, -200 pays 1.5x. Zero and values between -100 and +100 are rejected.
func DecimalOdds(american int) (decimal.Decimal, error) {
	switch {
	case american >= 100:
		return decimal.NewFromInt(int64(american)).Div(hundred).Add(decimal.NewFromInt(1)), nil
	case american <= -100:
		return hundred.Div(decimal.NewFromInt(int64(-american))).Add(decimal.NewFromInt(1)), nil
	default:
		return decimal.Zero, fmt.Errorf("invalid american odds %d", american)
	}
}

// RoundPayout rounds a money amount to cents, half away from zero.
func RoundPayout(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PotentialPayout returns stake times the product of every leg's decimal odds.
func PotentialPayout(stake decimal.Decimal, odds []int) (decimal.Decimal, error) {
	mult := decimal.NewFromInt(1)
	for _, o := range odds {
		d, err := DecimalOdds(o)
		if err != nil {
			return decimal.Zero, err
		}
		mult = mult.Mul(d)
	}
	return RoundPayout(stake.Mul(mult)), nil
}
