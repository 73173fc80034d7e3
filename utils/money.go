package utils

import "github.com/shopspring/decimal"

// ToMinorUnits converts a rupee amount to paise, rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromMinorUnits(amount int64) float64 {
	return decimal.New(amount, -2).InexactFloat64()
}
