package boost

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"vetoken/core/epoch"
)

type mockWeights struct {
	account       map[string]map[uint64]uint64
	total         map[uint64]uint64
	accountWrites int
	totalWrites   int
}

func newMockWeights() *mockWeights {
	return &mockWeights{
		account: make(map[string]map[uint64]uint64),
		total:   make(map[uint64]uint64),
	}
}

func (m *mockWeights) setWeight(account [20]byte, e, weight uint64) {
	key := string(account[:])
	if m.account[key] == nil {
		m.account[key] = make(map[uint64]uint64)
	}
	m.account[key][e] = weight
}

func (m *mockWeights) AccountWeightAt(account [20]byte, at uint64) (uint64, error) {
	return m.account[string(account[:])][at], nil
}

func (m *mockWeights) TotalWeightAt(at uint64) (uint64, error) {
	return m.total[at], nil
}

func (m *mockWeights) AccountWeightWrite(account [20]byte) (uint64, error) {
	m.accountWrites++
	return 0, nil
}

func (m *mockWeights) TotalWeightWrite() (uint64, error) {
	m.totalWrites++
	return 0, nil
}

type mockBoostState struct {
	pcts map[string]*uint256.Int
	puts int
}

func newMockBoostState() *mockBoostState {
	return &mockBoostState{pcts: make(map[string]*uint256.Int)}
}

func boostKey(account [20]byte, e uint64) string {
	return fmt.Sprintf("%x/%d", account, e)
}

func (m *mockBoostState) BoostPct(account [20]byte, e uint64) (*uint256.Int, bool, error) {
	pct, ok := m.pcts[boostKey(account, e)]
	if !ok {
		return nil, false, nil
	}
	return new(uint256.Int).Set(pct), true, nil
}

func (m *mockBoostState) PutBoostPct(account [20]byte, e uint64, pct *uint256.Int) error {
	m.pcts[boostKey(account, e)] = new(uint256.Int).Set(pct)
	m.puts++
	return nil
}

func boostAddr(tag byte) [20]byte {
	var out [20]byte
	out[19] = tag
	return out
}

func testCalculator(t *testing.T) (*Calculator, *mockBoostState, *mockWeights, func(epochNumber int64)) {
	t.Helper()
	start := time.Unix(1_700_000_000, 0).UTC()
	clock, err := epoch.NewClock(start, 100*time.Second)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	calc, err := NewCalculator(clock, Params{
		GraceEpochs:     2,
		MaxBoostMult:    2,
		MaxBoostablePct: 10000,
		DecayBoostPct:   10000,
	})
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	state := newMockBoostState()
	weights := newMockWeights()
	calc.SetState(state)
	calc.SetWeightSource(weights)
	advance := func(epochNumber int64) {
		now := start.Add(time.Duration(epochNumber*100) * time.Second)
		calc.SetNowFunc(func() time.Time { return now })
	}
	advance(0)
	return calc, state, weights, advance
}

// boostedView asserts BoostedAmount succeeds and returns the payout.
func boostedView(t *testing.T, calc *Calculator, account [20]byte, amount, previous, emissions int64) *big.Int {
	t.Helper()
	got, err := calc.BoostedAmount(account, big.NewInt(amount), big.NewInt(previous), big.NewInt(emissions))
	if err != nil {
		t.Fatalf("BoostedAmount(%d, %d): %v", amount, previous, err)
	}
	return got
}

func TestBoostGraceWindowPassesThrough(t *testing.T) {
	calc, _, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)

	// Epochs 0 and 1 fall inside the grace window: claims pass through even
	// though no weight exists anywhere.
	for _, e := range []int64{0, 1} {
		advance(e)
		got := boostedView(t, calc, alice, 12345, 0, 500000)
		if got.Cmp(big.NewInt(12345)) != 0 {
			t.Fatalf("epoch %d: boosted = %s, want 12345", e, got)
		}
	}

	// Epoch 2 is past grace; with zero total weight the share is zero and
	// claims fall to the floor.
	advance(2)
	got := boostedView(t, calc, alice, 12345, 0, 500000)
	if got.Cmp(big.NewInt(6172)) != 0 {
		t.Fatalf("post-grace boosted = %s, want 6172", got)
	}
	if weights.accountWrites != 0 || weights.totalWrites != 0 {
		t.Fatalf("view path touched weight writes: %d/%d", weights.accountWrites, weights.totalWrites)
	}
}

func TestBoostedAmountCurve(t *testing.T) {
	calc, _, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)

	// Alice held 10% of total lock weight in epoch 4; claims happen in
	// epoch 5 against 500000 emissions, so the fully boosted range is 50000
	// and full decay hits at 100000.
	weights.setWeight(alice, 4, 10)
	weights.total[4] = 100
	advance(5)

	// A claim that exactly exhausts the boosted range pays in full.
	if got := boostedView(t, calc, alice, 50000, 0, 500000); got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("full-range claim = %s, want 50000", got)
	}

	// A claim spanning boosted and decay ranges integrates the linear
	// factor: 50000 full plus 50000 averaged from 1 down to 1/2.
	if got := boostedView(t, calc, alice, 100000, 0, 500000); got.Cmp(big.NewInt(87500)) != 0 {
		t.Fatalf("full-decay claim = %s, want 87500", got)
	}

	// Past full decay every unit pays the floor.
	if got := boostedView(t, calc, alice, 40000, 100000, 500000); got.Cmp(big.NewInt(20000)) != 0 {
		t.Fatalf("depleted claim = %s, want 20000", got)
	}
	if got := boostedView(t, calc, alice, 40000, 250000, 500000); got.Cmp(big.NewInt(20000)) != 0 {
		t.Fatalf("deep depleted claim = %s, want 20000", got)
	}
}

func TestBoostedAmountSplitClaimsAddUp(t *testing.T) {
	calc, _, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)

	weights.setWeight(alice, 4, 10)
	weights.total[4] = 100
	advance(5)

	// Claiming the decay range in halves lands on the same totals as one
	// claim: the factor averages 0.875 over the first half and 0.625 over
	// the second.
	first := boostedView(t, calc, alice, 75000, 0, 500000)
	if first.Cmp(big.NewInt(71875)) != 0 {
		t.Fatalf("first half = %s, want 71875", first)
	}
	second := boostedView(t, calc, alice, 25000, 75000, 500000)
	if second.Cmp(big.NewInt(15625)) != 0 {
		t.Fatalf("second half = %s, want 15625", second)
	}
	whole := boostedView(t, calc, alice, 100000, 0, 500000)
	sum := new(big.Int).Add(first, second)
	if whole.Cmp(sum) != 0 {
		t.Fatalf("split claims sum to %s, whole claim %s", sum, whole)
	}
}

func TestBoostedAmountZeroShareHalves(t *testing.T) {
	calc, _, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)
	bob := boostAddr(0x02)

	// Only alice held weight in epoch 4. Bob's share is zero, which marks
	// him as boost-less: everything pays the floor regardless of position.
	weights.setWeight(alice, 4, 10)
	weights.total[4] = 10
	advance(5)

	if got := boostedView(t, calc, bob, 50000, 0, 500000); got.Cmp(big.NewInt(25000)) != 0 {
		t.Fatalf("zero-share claim = %s, want 25000", got)
	}
	// Alice holds the entire weight: boosted range covers all emissions.
	if got := boostedView(t, calc, alice, 400000, 0, 500000); got.Cmp(big.NewInt(400000)) != 0 {
		t.Fatalf("full-share claim = %s, want 400000", got)
	}
}

func TestBoostedAmountWriteCachesShare(t *testing.T) {
	calc, state, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)

	weights.setWeight(alice, 4, 10)
	weights.total[4] = 100
	advance(5)

	got, err := calc.BoostedAmountWrite(alice, big.NewInt(50000), big.NewInt(0), big.NewInt(500000))
	if err != nil {
		t.Fatalf("BoostedAmountWrite: %v", err)
	}
	if got.Cmp(big.NewInt(50000)) != 0 {
		t.Fatalf("boosted = %s, want 50000", got)
	}
	if weights.accountWrites != 1 || weights.totalWrites != 1 {
		t.Fatalf("weight writes = %d/%d, want 1/1", weights.accountWrites, weights.totalWrites)
	}
	if state.puts != 1 {
		t.Fatalf("cache puts = %d, want 1", state.puts)
	}

	// The write path must agree with the pure view.
	view := boostedView(t, calc, alice, 50000, 0, 500000)
	if view.Cmp(got) != 0 {
		t.Fatalf("view = %s, write = %s", view, got)
	}

	// Later claims in the same epoch reuse the cached share even if the
	// underlying weights change, and skip further weight writes.
	weights.setWeight(alice, 4, 100)
	got, err = calc.BoostedAmountWrite(alice, big.NewInt(50000), big.NewInt(50000), big.NewInt(500000))
	if err != nil {
		t.Fatalf("BoostedAmountWrite cached: %v", err)
	}
	if got.Cmp(big.NewInt(37500)) != 0 {
		t.Fatalf("cached boosted = %s, want 37500", got)
	}
	if weights.accountWrites != 1 || weights.totalWrites != 1 {
		t.Fatalf("cached claim repeated weight writes: %d/%d", weights.accountWrites, weights.totalWrites)
	}
	if state.puts != 1 {
		t.Fatalf("cached claim repeated cache put: %d", state.puts)
	}
}

func TestBoostedAmountValidation(t *testing.T) {
	calc, _, weights, advance := testCalculator(t)
	alice := boostAddr(0x01)

	weights.setWeight(alice, 4, 10)
	weights.total[4] = 100
	advance(5)

	// Nil amounts read as zero.
	got, err := calc.BoostedAmount(alice, nil, nil, big.NewInt(500000))
	if err != nil {
		t.Fatalf("BoostedAmount nil: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("nil claim boosted = %s, want 0", got)
	}

	if _, err := calc.BoostedAmount(alice, big.NewInt(-1), nil, big.NewInt(500000)); !errors.Is(err, ErrAmountRange) {
		t.Fatalf("negative amount error = %v, want ErrAmountRange", err)
	}

	if _, err := NewCalculator(calc.clock, Params{MaxBoostMult: 0}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("zero multiplier error = %v, want ErrInvalidParams", err)
	}
	if _, err := NewCalculator(calc.clock, Params{MaxBoostMult: 2, MaxBoostablePct: 10001}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("oversized pct error = %v, want ErrInvalidParams", err)
	}
}
