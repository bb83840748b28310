package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount amount for the given rule and subtotal.
// The amount is never negative and never exceeds the subtotal, and is
// rounded to 2 decimal places (banker's rounding).
func Apply(rule *Rule, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal

	switch rule.Type {
	case TypePercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
		if rule.MaxDiscount.IsPositive() {
			amount = decimal.Min(amount, rule.MaxDiscount)
		}
	case TypeFixedAmount:
		amount = decimal.Min(rule.Value, subtotal)
	default:
		return decimal.Zero, errors.Errorf("unsupported coupon type: %q", rule.Type)
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.RoundBank(2), nil
}
