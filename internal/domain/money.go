package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a decimal amount into an integer count of minor
// units at the given number of fraction digits (2 for GBP cents, the
// token's fraction digits for shares). It returns an error if the value
// carries more precision than the unit can represent.
func ToMinorUnits(d decimal.Decimal, digits int32) (int64, error) {
	scaled := d.Shift(digits)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("value %s must have at most %d decimal places", d.String(), digits)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("value %s is out of range", d.String())
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts an integer count of minor units back into a
// decimal amount.
func FromMinorUnits(q int64, digits int32) decimal.Decimal {
	return decimal.New(q, -digits)
}

// WholeUnits returns the number of minor units that make one whole unit.
func WholeUnits(digits int32) int64 {
	n := int64(1)
	for i := int32(0); i < digits; i++ {
		n *= 10
	}
	return n
}
