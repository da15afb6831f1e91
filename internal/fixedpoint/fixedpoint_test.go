package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDivTruncates(t *testing.T) {
	got, err := MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Uint64(), "21/2 should floor to 10")
}

func TestMulDivWideIntermediate(t *testing.T) {
	// a*b exceeds 256 bits, but the quotient fits.
	a := uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935") // 2^256-1
	b := uint256.NewInt(1000)
	got, err := MulDiv(a, b, uint256.NewInt(2000))
	require.NoError(t, err)
	want := new(uint256.Int).Div(a, uint256.NewInt(2))
	assert.Equal(t, want, got)
}

func TestMulDivOverflow(t *testing.T) {
	max := uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	_, err := MulDiv(max, uint256.NewInt(2), uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDivZeroDenominator(t *testing.T) {
	_, err := MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Div(uint256.NewInt(1), uint256.NewInt(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestPow10(t *testing.T) {
	assert.Equal(t, uint64(1), Pow10(0).Uint64())
	assert.Equal(t, uint64(1_000_000), Pow10(6).Uint64())
	assert.Equal(t, uint256.MustFromDecimal("1000000000000000000"), Pow10(18))
}
