// Package fixedpoint provides the exact-integer scaled arithmetic used by
// the depository. All price and debt computations rely on truncating
// division: payouts round toward zero so the system never overpays.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// MulDiv computes floor(a*b/c) with a full-width 512-bit intermediate
// product, so a*b may exceed 256 bits as long as the quotient fits.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div computes floor(a/b).
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// Pow10 returns 10^n. It supports every exponent reachable from token
// decimal precision (n <= 76).
func Pow10(n uint8) *uint256.Int {
	z := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		z.Mul(z, ten)
	}
	return z
}
