package decay

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, l *Ledger, now, amount, epochs uint64) {
	t.Helper()
	if err := l.Add(now, amount, epochs); err != nil {
		t.Fatalf("add %d for %d epochs at %d: %v", amount, epochs, now, err)
	}
}

func mustMaterialize(t *testing.T, l *Ledger, target uint64) (uint64, uint64) {
	t.Helper()
	weight, matured, err := l.MaterializeTo(target)
	if err != nil {
		t.Fatalf("materialize to %d: %v", target, err)
	}
	return weight, matured
}

func TestWeightDecaysLinearly(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 10, 4)

	want := []uint64{40, 30, 20, 10, 0, 0}
	for e, w := range want {
		if got := l.WeightAt(uint64(e)); got != w {
			t.Fatalf("weight at %d: got %d want %d", e, got, w)
		}
	}
	if got := l.Rate(); got != 10 {
		t.Fatalf("rate: got %d want 10", got)
	}
}

func TestProjectionMatchesMaterialization(t *testing.T) {
	build := func() *Ledger {
		l := NewLedger()
		mustAdd(t, l, 0, 7, 2)
		mustAdd(t, l, 0, 3, 5)
		_, _, err := l.MaterializeTo(1)
		require.NoError(t, err)
		mustAdd(t, l, 1, 11, 4)
		return l
	}

	for target := uint64(1); target <= 12; target++ {
		projected := build().WeightAt(target)
		l := build()
		materialized, _ := mustMaterialize(t, l, target)
		require.Equalf(t, projected, materialized, "epoch %d", target)
		// The materialized history must agree with fresh projections at
		// every stored epoch.
		for e := uint64(0); e <= target; e++ {
			require.Equalf(t, build().WeightAt(e), l.WeightAt(e), "history at %d after materializing %d", e, target)
		}
	}
}

func TestMaterializeConsumesSteps(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 10, 2)
	mustAdd(t, l, 0, 4, 5)

	weight, matured := mustMaterialize(t, l, 3)
	if weight != 4*2 {
		t.Fatalf("weight at 3: got %d want 8", weight)
	}
	if matured != 10 {
		t.Fatalf("matured through 3: got %d want 10", matured)
	}
	if got := l.StepAt(2); got != 0 {
		t.Fatalf("consumed step still present: %d", got)
	}
	if got := l.Rate(); got != 4 {
		t.Fatalf("rate after maturity: got %d want 4", got)
	}

	weight, matured = mustMaterialize(t, l, 5)
	if weight != 0 || matured != 4 {
		t.Fatalf("final materialization: weight %d matured %d", weight, matured)
	}
	if got := l.Rate(); got != 0 {
		t.Fatalf("rate after full decay: %d", got)
	}
}

func TestZeroWeightShortCircuit(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 5, 2)
	mustMaterialize(t, l, 2)

	// With everything decayed, a distant materialization must not grow the
	// stored history epoch by epoch.
	before := len(l.Snapshot().Weights)
	weight, matured := mustMaterialize(t, l, 60000)
	if weight != 0 || matured != 0 {
		t.Fatalf("unexpected result: weight %d matured %d", weight, matured)
	}
	if got := len(l.Snapshot().Weights); got != before {
		t.Fatalf("history grew from %d to %d entries", before, got)
	}
	if l.UpdatedEpoch() != 60000 {
		t.Fatalf("updated epoch: got %d want 60000", l.UpdatedEpoch())
	}

	// Writes resume cleanly after the jump and zeros remain readable.
	if err := l.Add(60000, 3, 4); err != nil {
		t.Fatalf("add after jump: %v", err)
	}
	if got := l.WeightAt(30000); got != 0 {
		t.Fatalf("weight inside skipped range: got %d want 0", got)
	}
	if got := l.WeightAt(60000); got != 12 {
		t.Fatalf("weight after jump: got %d want 12", got)
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 9, 3)
	mustMaterialize(t, l, 2)

	reference := l.Snapshot()

	mustAdd(t, l, 2, 6, 7)
	mustAdd(t, l, 2, 2, 7)
	if err := l.Remove(2, 6, 7); err != nil {
		t.Fatalf("remove first position: %v", err)
	}
	if err := l.Remove(2, 2, 7); err != nil {
		t.Fatalf("remove second position: %v", err)
	}

	if !reflect.DeepEqual(reference, l.Snapshot()) {
		t.Fatalf("state differs after add/remove round trip:\nbefore %+v\nafter  %+v", reference, l.Snapshot())
	}
}

func TestRemoveRejectsUnknownPosition(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 5, 3)

	if err := l.Remove(0, 6, 3); !errors.Is(err, ErrExceedsRecorded) {
		t.Fatalf("expected ErrExceedsRecorded for oversized amount, got %v", err)
	}
	if err := l.Remove(0, 5, 4); !errors.Is(err, ErrExceedsRecorded) {
		t.Fatalf("expected ErrExceedsRecorded for wrong duration, got %v", err)
	}
}

func TestMutationsRequireMaterialization(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 5, 4)

	if err := l.Add(2, 5, 4); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("expected ErrNotMaterialized, got %v", err)
	}
	if err := l.AddStatic(2, 5); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("expected ErrNotMaterialized for static add, got %v", err)
	}
	mustMaterialize(t, l, 2)
	if err := l.Add(2, 5, 4); err != nil {
		t.Fatalf("add after materializing: %v", err)
	}
}

func TestStaticWeightDoesNotDecay(t *testing.T) {
	l := NewLedger()
	if err := l.AddStatic(0, 520); err != nil {
		t.Fatalf("add static: %v", err)
	}
	if got := l.WeightAt(400); got != 520 {
		t.Fatalf("static projection: got %d want 520", got)
	}
	weight, matured := mustMaterialize(t, l, 10)
	if weight != 520 || matured != 0 {
		t.Fatalf("static materialization: weight %d matured %d", weight, matured)
	}
	if err := l.RemoveStatic(10, 520); err != nil {
		t.Fatalf("remove static: %v", err)
	}
	if got := l.WeightAt(10); got != 0 {
		t.Fatalf("weight after static removal: %d", got)
	}
}

func TestMixedStaticAndDecaying(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 10, 2)
	if err := l.AddStatic(0, 100); err != nil {
		t.Fatalf("add static: %v", err)
	}
	want := []uint64{120, 110, 100, 100}
	for e, w := range want {
		if got := l.WeightAt(uint64(e)); got != w {
			t.Fatalf("weight at %d: got %d want %d", e, got, w)
		}
	}
	// Static weight cannot be pulled out from under the decaying schedule.
	if err := l.RemoveStatic(0, 115); !errors.Is(err, ErrExceedsRecorded) {
		t.Fatalf("expected ErrExceedsRecorded, got %v", err)
	}
}

func TestNextStepScan(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 5, 3)
	mustAdd(t, l, 0, 7, 10)
	mustAdd(t, l, 0, 2, 52)

	e, amount, ok := l.NextStep(0)
	require.True(t, ok)
	require.Equal(t, uint64(3), e)
	require.Equal(t, uint64(5), amount)

	e, amount, ok = l.NextStep(3)
	require.True(t, ok)
	require.Equal(t, uint64(10), e)
	require.Equal(t, uint64(7), amount)

	e, amount, ok = l.NextStep(10)
	require.True(t, ok)
	require.Equal(t, uint64(52), e)
	require.Equal(t, uint64(2), amount)

	_, _, ok = l.NextStep(52)
	require.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := NewLedger()
	mustAdd(t, l, 0, 5, 3)
	mustMaterialize(t, l, 1)
	mustAdd(t, l, 1, 9, 52)

	snap := l.Snapshot()
	restored, err := FromSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, snap, restored.Snapshot())

	for e := uint64(0); e <= 60; e++ {
		require.Equalf(t, l.WeightAt(e), restored.WeightAt(e), "epoch %d", e)
	}
}

func TestFromSnapshotRejectsCorruptState(t *testing.T) {
	base := func() Snapshot {
		l := NewLedger()
		mustAdd(t, l, 0, 5, 3)
		return l.Snapshot()
	}

	missing := base()
	missing.Rate = 9
	if _, err := FromSnapshot(missing); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for rate mismatch, got %v", err)
	}

	stale := base()
	stale.Steps[0].Epoch = 0
	if _, err := FromSnapshot(stale); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for stale step, got %v", err)
	}

	thin := base()
	thin.Weights = []WeightEntry{{Epoch: 0, Weight: 1}}
	if _, err := FromSnapshot(thin); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for weight below rate, got %v", err)
	}

	zeroed := base()
	zeroed.Weights = append(zeroed.Weights, WeightEntry{Epoch: 0, Weight: 0})
	if _, err := FromSnapshot(zeroed); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for explicit zero entry, got %v", err)
	}

	future := base()
	future.Weights = append(future.Weights, WeightEntry{Epoch: 9, Weight: 3})
	if _, err := FromSnapshot(future); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for weight past updated epoch, got %v", err)
	}
}

func TestHorizonBounds(t *testing.T) {
	l := NewLedger()
	if err := l.Add(0, 1, 70000); !errors.Is(err, ErrEpochOutOfRange) {
		t.Fatalf("expected ErrEpochOutOfRange, got %v", err)
	}
	if _, _, err := l.MaterializeTo(70000); !errors.Is(err, ErrEpochOutOfRange) {
		t.Fatalf("expected ErrEpochOutOfRange for materialization, got %v", err)
	}
}
