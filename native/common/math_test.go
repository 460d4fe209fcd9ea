package common

import (
	"math"
	"testing"
)

func TestOAdd(t *testing.T) {
	sum, overflowed := OAdd[uint64](1, 2)
	if overflowed || sum != 3 {
		t.Fatalf("unexpected result: %d overflow=%v", sum, overflowed)
	}
	if _, overflowed := OAdd[uint64](math.MaxUint64, 1); !overflowed {
		t.Fatal("expected overflow")
	}
	if _, overflowed := OAdd[uint32](math.MaxUint32, 1); !overflowed {
		t.Fatal("expected 32-bit overflow")
	}
}

func TestOSub(t *testing.T) {
	diff, overflowed := OSub[uint64](3, 2)
	if overflowed || diff != 1 {
		t.Fatalf("unexpected result: %d overflow=%v", diff, overflowed)
	}
	if _, overflowed := OSub[uint64](2, 3); !overflowed {
		t.Fatal("expected underflow")
	}
}

func TestOMul(t *testing.T) {
	product, overflowed := OMul[uint64](1<<31, 52)
	if overflowed || product != 52<<31 {
		t.Fatalf("unexpected result: %d overflow=%v", product, overflowed)
	}
	if _, overflowed := OMul[uint64](math.MaxUint64, 2); !overflowed {
		t.Fatal("expected overflow")
	}
	if product, overflowed := OMul[uint64](math.MaxUint64, 0); overflowed || product != 0 {
		t.Fatal("multiplying by zero never overflows")
	}
}

func TestSaturate(t *testing.T) {
	if got := AddSaturate[uint64](math.MaxUint64, 5); got != math.MaxUint64 {
		t.Fatalf("expected saturation at max, got %d", got)
	}
	if got := SubSaturate[uint64](2, 5); got != 0 {
		t.Fatalf("expected saturation at zero, got %d", got)
	}
	if got := AddSaturate[uint64](2, 5); got != 7 {
		t.Fatalf("unexpected sum: %d", got)
	}
}

func TestMuldiv(t *testing.T) {
	got, overflowed := Muldiv(math.MaxUint64, 3, 6)
	if overflowed {
		t.Fatal("unexpected overflow")
	}
	if want := math.MaxUint64 / 2; got != uint64(want) {
		t.Fatalf("unexpected quotient: %d want %d", got, want)
	}
	if _, overflowed := Muldiv(math.MaxUint64, 3, 2); !overflowed {
		t.Fatal("expected overflow when quotient exceeds 64 bits")
	}
	if _, overflowed := Muldiv(1, 1, 0); !overflowed {
		t.Fatal("expected overflow on zero divisor")
	}
}

func TestMuldivCeil(t *testing.T) {
	got, overflowed := MuldivCeil(7, 3, 2)
	if overflowed || got != 11 {
		t.Fatalf("unexpected result: %d overflow=%v", got, overflowed)
	}
	exact, overflowed := MuldivCeil(8, 3, 2)
	if overflowed || exact != 12 {
		t.Fatalf("unexpected exact result: %d overflow=%v", exact, overflowed)
	}
}
