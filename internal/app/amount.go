package app

import "github.com/shopspring/decimal"

// ComputeAmount returns quantity × unitPrice rounded to two decimals. The
// server always derives the amount; client-supplied values are never used.
func ComputeAmount(quantity int, unitPrice decimal.Decimal, maxQuantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, &ValidationError{Field: "quantity", Rule: "positive"}
	}
	if maxQuantity > 0 && quantity > maxQuantity {
		return decimal.Zero, &ValidationError{Field: "quantity", Rule: "max"}
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2), nil
}
