package database

import (
	"math/big"

	"github.com/shopspring/decimal"
	"gopkg.in/inf.v0"
)

// ToCQLDecimal converts a decimal to the driver's DECIMAL representation
// without passing through binary floating point.
func ToCQLDecimal(d decimal.Decimal) *inf.Dec {
	return inf.NewDecBig(new(big.Int).Set(d.Coefficient()), inf.Scale(-d.Exponent()))
}

// FromCQLDecimal is the inverse of ToCQLDecimal. A nil value (unset column)
// reads as zero.
func FromCQLDecimal(d *inf.Dec) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(d.UnscaledBig()), -int32(d.Scale()))
}
