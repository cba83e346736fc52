package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds a monetary amount half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round3 rounds a raw-material quantity to three decimals.
func Round3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// Percent returns amount*rate/100.
func Percent(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}
