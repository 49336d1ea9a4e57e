package core

import "github.com/shopspring/decimal"

// Cents is the precision totals are rounded to before they are stored.
const Cents = 2

var hundred = decimal.NewFromInt(100)

// LineTotal returns quantity × price.
func LineTotal(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price)
}

// WithTax applies a sales tax percentage to subtotal and rounds to cents.
func WithTax(subtotal, taxPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(taxPercent.Div(hundred))
	return subtotal.Mul(factor).Round(Cents)
}
