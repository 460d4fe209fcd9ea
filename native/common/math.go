package common

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Checked unsigned arithmetic for ledger accounting. Weight and amount
// counters must never wrap silently: mutating paths use the O-variants and
// treat overflow as a hard error, read-only projections may saturate.

// OAdd adds a and b and reports whether the result wrapped.
func OAdd[T constraints.Unsigned](a, b T) (T, bool) {
	sum := a + b
	return sum, sum < a
}

// OSub subtracts b from a and reports whether the result wrapped.
func OSub[T constraints.Unsigned](a, b T) (T, bool) {
	diff := a - b
	return diff, diff > a
}

// OMul multiplies a and b and reports whether the result wrapped.
func OMul[T constraints.Unsigned](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	product := a * b
	if product/b != a {
		return 0, true
	}
	return product, false
}

// AddSaturate adds a and b, clamping at the maximum value of T.
func AddSaturate[T constraints.Unsigned](a, b T) T {
	sum, overflowed := OAdd(a, b)
	if overflowed {
		var max T
		return ^max
	}
	return sum
}

// SubSaturate subtracts b from a, clamping at zero.
func SubSaturate[T constraints.Unsigned](a, b T) T {
	diff, overflowed := OSub(a, b)
	if overflowed {
		return 0
	}
	return diff
}

// Muldiv computes a*b/c with a 128-bit intermediate product. It reports
// overflow when the quotient does not fit in 64 bits or c is zero.
func Muldiv(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(a, b)
	if c <= hi {
		return 0, true
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, false
}

// MuldivCeil computes ceil(a*b/c) with a 128-bit intermediate product.
func MuldivCeil(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(a, b)
	if c <= hi {
		return 0, true
	}
	quo, rem := bits.Div64(hi, lo, c)
	if rem > 0 {
		if quo == ^uint64(0) {
			return 0, true
		}
		quo++
	}
	return quo, false
}
