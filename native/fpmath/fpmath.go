// Package fpmath provides deterministic unsigned 256-bit arithmetic for the
// staking engine. Every operation either returns an exact result or a named
// error; values never wrap silently.
package fpmath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("fpmath: arithmetic overflow")
	ErrUnderflow      = errors.New("fpmath: arithmetic underflow")
	ErrDivisionByZero = errors.New("fpmath: division by zero")
)

// BasisPointsDenom is the denominator for basis-point fee math.
const BasisPointsDenom = 10_000

var (
	basisPoints    = uint256.NewInt(BasisPointsDenom)
	basisPointsSub = uint256.NewInt(BasisPointsDenom - 1)
	wad            = uint256.MustFromDecimal("1000000000000000000")
)

// Wad returns 1.0 in 18-decimal fixed point.
func Wad() *uint256.Int {
	return new(uint256.Int).Set(wad)
}

// MaxUint256 returns the saturated 256-bit value used as the "no debt" health
// factor sentinel.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

func valueOrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return uint256.NewInt(0)
	}
	return x
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = valueOrZero(a), valueOrZero(b)
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrUnderflow when b exceeds a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = valueOrZero(a), valueOrZero(b)
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = valueOrZero(a), valueOrZero(b)
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// Div returns a/b (truncated) or ErrDivisionByZero.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	a, b = valueOrZero(a), valueOrZero(b)
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv returns a*b/den with a 256-bit intermediate product, failing on
// overflow or a zero denominator.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return Div(product, den)
}

// MulWad returns a*b/1e18 for 18-decimal fixed-point multiplication.
func MulWad(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, wad)
}

// CeilFee computes ceil(amount*bps/10000). Rounding is always up so that the
// protocol never loses fee revenue on small amounts.
func CeilFee(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	product, err := Mul(amount, uint256.NewInt(bps))
	if err != nil {
		return nil, err
	}
	rounded, err := Add(product, basisPointsSub)
	if err != nil {
		return nil, err
	}
	return Div(rounded, basisPoints)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	a, b = valueOrZero(a), valueOrZero(b)
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Half returns a/2.
func Half(a *uint256.Int) *uint256.Int {
	return new(uint256.Int).Rsh(valueOrZero(a), 1)
}
