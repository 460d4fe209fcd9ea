package decay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"vetoken/core/epoch"
	"vetoken/native/common"
)

var (
	// ErrNotMaterialized is returned by mutating operations when the ledger
	// has not been advanced to the epoch the mutation targets.
	ErrNotMaterialized = errors.New("decay: ledger not materialized to current epoch")
	// ErrEpochOutOfRange is returned when an operation would touch an epoch
	// past the accounting horizon.
	ErrEpochOutOfRange = errors.New("decay: epoch beyond accounting horizon")
	// ErrZeroAmount rejects mutations that would record nothing.
	ErrZeroAmount = errors.New("decay: amount must be positive")
	// ErrZeroDuration rejects positions that would decay immediately.
	ErrZeroDuration = errors.New("decay: duration must be at least one epoch")
	// ErrOverflow signals that weight arithmetic left the representable range.
	ErrOverflow = errors.New("decay: arithmetic overflow")
	// ErrExceedsRecorded signals a removal larger than the recorded schedule.
	ErrExceedsRecorded = errors.New("decay: removal exceeds recorded schedule")
	// ErrCorrupt signals that stored ledger state violates its invariants.
	ErrCorrupt = errors.New("decay: ledger state corrupt")
)

// Ledger tracks a weight that shrinks by a fixed rate at every epoch
// boundary. Scheduled steps reduce the rate when individual positions reach
// zero. History is materialized lazily: reads project forward without
// touching state, writes require the ledger to be materialized first.
//
// Invariants: the weight at the updated epoch is at least the rate, and the
// scheduled steps sum exactly to the rate. Both are checked when a ledger is
// restored from storage and preserved by every mutation.
type Ledger struct {
	updatedEpoch uint64
	rate         uint64
	// weights holds the materialized history keyed by absolute epoch.
	// Epochs with zero weight carry no entry, so ranges skipped while the
	// ledger was empty cost nothing.
	weights map[uint64]uint64
	steps   map[uint64]uint64
	index   *bitset.BitSet
}

// Step records a scheduled rate reduction in serializable form.
type Step struct {
	Epoch  uint64
	Amount uint64
}

// WeightEntry records one materialized epoch weight in serializable form.
type WeightEntry struct {
	Epoch  uint64
	Weight uint64
}

// Snapshot is the serializable form of a Ledger. Entries are sorted by epoch
// and zero weights are omitted.
type Snapshot struct {
	UpdatedEpoch uint64
	Rate         uint64
	Weights      []WeightEntry
	Steps        []Step
}

// NewLedger returns an empty ledger materialized to epoch zero.
func NewLedger() *Ledger {
	return &Ledger{
		weights: make(map[uint64]uint64),
		steps:   make(map[uint64]uint64),
		index:   bitset.New(64),
	}
}

// FromSnapshot reconstructs a ledger and validates its invariants.
func FromSnapshot(s Snapshot) (*Ledger, error) {
	if s.UpdatedEpoch > epoch.MaxEpoch {
		return nil, fmt.Errorf("%w: updated epoch %d", ErrCorrupt, s.UpdatedEpoch)
	}
	l := &Ledger{
		updatedEpoch: s.UpdatedEpoch,
		rate:         s.Rate,
		weights:      make(map[uint64]uint64, len(s.Weights)),
		steps:        make(map[uint64]uint64, len(s.Steps)),
		index:        bitset.New(64),
	}
	prev := uint64(0)
	for i, entry := range s.Weights {
		if i > 0 && entry.Epoch <= prev {
			return nil, fmt.Errorf("%w: weights not sorted at epoch %d", ErrCorrupt, entry.Epoch)
		}
		prev = entry.Epoch
		if entry.Epoch > s.UpdatedEpoch {
			return nil, fmt.Errorf("%w: weight recorded at future epoch %d", ErrCorrupt, entry.Epoch)
		}
		if entry.Weight == 0 {
			return nil, fmt.Errorf("%w: explicit zero weight at epoch %d", ErrCorrupt, entry.Epoch)
		}
		l.weights[entry.Epoch] = entry.Weight
	}
	var total uint64
	prev = 0
	for i, step := range s.Steps {
		if i > 0 && step.Epoch <= prev {
			return nil, fmt.Errorf("%w: steps not sorted at epoch %d", ErrCorrupt, step.Epoch)
		}
		prev = step.Epoch
		if step.Epoch <= s.UpdatedEpoch || step.Epoch > epoch.MaxEpoch {
			return nil, fmt.Errorf("%w: step at epoch %d outside (%d, %d]", ErrCorrupt, step.Epoch, s.UpdatedEpoch, epoch.MaxEpoch)
		}
		if step.Amount == 0 {
			return nil, fmt.Errorf("%w: empty step at epoch %d", ErrCorrupt, step.Epoch)
		}
		sum, overflowed := common.OAdd(total, step.Amount)
		if overflowed {
			return nil, fmt.Errorf("%w: step total", ErrCorrupt)
		}
		total = sum
		l.steps[step.Epoch] = step.Amount
		l.index.Set(uint(step.Epoch))
	}
	if total != s.Rate {
		return nil, fmt.Errorf("%w: scheduled steps %d do not match rate %d", ErrCorrupt, total, s.Rate)
	}
	if l.currentWeight() < s.Rate {
		return nil, fmt.Errorf("%w: weight %d below rate %d", ErrCorrupt, l.currentWeight(), s.Rate)
	}
	return l, nil
}

// Snapshot exports the ledger for persistence.
func (l *Ledger) Snapshot() Snapshot {
	weights := make([]WeightEntry, 0, len(l.weights))
	for e, w := range l.weights {
		weights = append(weights, WeightEntry{Epoch: e, Weight: w})
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i].Epoch < weights[j].Epoch })
	steps := make([]Step, 0, len(l.steps))
	for e, amount := range l.steps {
		steps = append(steps, Step{Epoch: e, Amount: amount})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Epoch < steps[j].Epoch })
	return Snapshot{
		UpdatedEpoch: l.updatedEpoch,
		Rate:         l.rate,
		Weights:      weights,
		Steps:        steps,
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := &Ledger{
		updatedEpoch: l.updatedEpoch,
		rate:         l.rate,
		weights:      make(map[uint64]uint64, len(l.weights)),
		steps:        make(map[uint64]uint64, len(l.steps)),
		index:        l.index.Clone(),
	}
	for e, w := range l.weights {
		clone.weights[e] = w
	}
	for e, amount := range l.steps {
		clone.steps[e] = amount
	}
	return clone
}

// UpdatedEpoch returns the epoch the ledger was last materialized to.
func (l *Ledger) UpdatedEpoch() uint64 {
	return l.updatedEpoch
}

// Rate returns the weight lost at the next epoch boundary. For lock ledgers
// this equals the decaying locked balance.
func (l *Ledger) Rate() uint64 {
	return l.rate
}

func (l *Ledger) currentWeight() uint64 {
	return l.weights[l.updatedEpoch]
}

func (l *Ledger) setCurrentWeight(w uint64) {
	if w == 0 {
		delete(l.weights, l.updatedEpoch)
		return
	}
	l.weights[l.updatedEpoch] = w
}

// WeightAt projects the weight at the given epoch without mutating the
// ledger. Epochs at or before the updated epoch read the stored history;
// later epochs are replayed on scratch copies. The projection saturates
// instead of failing, so corrupt state degrades to zero.
func (l *Ledger) WeightAt(target uint64) uint64 {
	if target <= l.updatedEpoch {
		return l.weights[target]
	}
	weight := l.currentWeight()
	rate := l.rate
	for e := l.updatedEpoch + 1; e <= target; e++ {
		if weight == 0 {
			return 0
		}
		if rate == 0 {
			// No live decay and, by the step-sum invariant, no future
			// steps either: the weight is static from here on.
			return weight
		}
		weight = common.SubSaturate(weight, rate)
		if step, ok := l.steps[e]; ok {
			rate = common.SubSaturate(rate, step)
		}
	}
	return weight
}

// MaterializeTo advances the ledger to the target epoch, persisting every
// intermediate weight and consuming matured steps. It returns the weight at
// the target epoch and the total amount whose decay completed, which callers
// use to roll locked balances into withdrawable ones. Materializing to an
// already-covered epoch is a read-only no-op.
func (l *Ledger) MaterializeTo(target uint64) (uint64, uint64, error) {
	if target > epoch.MaxEpoch {
		return 0, 0, fmt.Errorf("%w: %d", ErrEpochOutOfRange, target)
	}
	if target <= l.updatedEpoch {
		return l.WeightAt(target), 0, nil
	}
	weight := l.currentWeight()
	if weight == 0 {
		// Zero weight implies zero rate and an empty schedule, so every
		// skipped epoch is zero as well. Jump without iterating.
		l.updatedEpoch = target
		return 0, 0, nil
	}
	var matured uint64
	for e := l.updatedEpoch + 1; e <= target; e++ {
		next, underflowed := common.OSub(weight, l.rate)
		if underflowed {
			return 0, 0, fmt.Errorf("%w: weight %d below rate %d at epoch %d", ErrCorrupt, weight, l.rate, e)
		}
		weight = next
		if step, ok := l.steps[e]; ok {
			rate, underflowed := common.OSub(l.rate, step)
			if underflowed {
				return 0, 0, fmt.Errorf("%w: step %d exceeds rate %d at epoch %d", ErrCorrupt, step, l.rate, e)
			}
			l.rate = rate
			matured += step
			delete(l.steps, e)
			l.index.Clear(uint(e))
		}
		l.updatedEpoch = e
		l.setCurrentWeight(weight)
		if weight == 0 {
			l.updatedEpoch = target
			break
		}
	}
	return weight, matured, nil
}

// Add records a position of the given amount decaying to zero after
// epochsRemaining epochs. The ledger must already be materialized to now.
func (l *Ledger) Add(now, amount, epochsRemaining uint64) error {
	if err := l.checkMutable(now); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if epochsRemaining == 0 {
		return ErrZeroDuration
	}
	unlock := now + epochsRemaining
	if unlock > epoch.MaxEpoch {
		return fmt.Errorf("%w: unlock epoch %d", ErrEpochOutOfRange, unlock)
	}
	added, overflowed := common.OMul(amount, epochsRemaining)
	if overflowed {
		return ErrOverflow
	}
	weight, overflowed := common.OAdd(l.currentWeight(), added)
	if overflowed {
		return ErrOverflow
	}
	rate, overflowed := common.OAdd(l.rate, amount)
	if overflowed {
		return ErrOverflow
	}
	step, overflowed := common.OAdd(l.steps[unlock], amount)
	if overflowed {
		return ErrOverflow
	}
	l.setCurrentWeight(weight)
	l.rate = rate
	l.steps[unlock] = step
	l.index.Set(uint(unlock))
	return nil
}

// Remove erases a position previously recorded with Add, identified by its
// amount and the epochs still remaining. Removing a position that was never
// added corrupts the schedule, so mismatches are rejected.
func (l *Ledger) Remove(now, amount, epochsRemaining uint64) error {
	if err := l.checkMutable(now); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if epochsRemaining == 0 {
		return ErrZeroDuration
	}
	unlock := now + epochsRemaining
	if unlock > epoch.MaxEpoch {
		return fmt.Errorf("%w: unlock epoch %d", ErrEpochOutOfRange, unlock)
	}
	step, ok := l.steps[unlock]
	if !ok || step < amount {
		return fmt.Errorf("%w: %d at epoch %d", ErrExceedsRecorded, amount, unlock)
	}
	removed, overflowed := common.OMul(amount, epochsRemaining)
	if overflowed {
		return ErrOverflow
	}
	weight, underflowed := common.OSub(l.currentWeight(), removed)
	if underflowed {
		return fmt.Errorf("%w: weight", ErrExceedsRecorded)
	}
	rate, underflowed := common.OSub(l.rate, amount)
	if underflowed {
		return fmt.Errorf("%w: rate", ErrExceedsRecorded)
	}
	l.setCurrentWeight(weight)
	l.rate = rate
	if step == amount {
		delete(l.steps, unlock)
		l.index.Clear(uint(unlock))
	} else {
		l.steps[unlock] = step - amount
	}
	return nil
}

// AddStatic records non-decaying weight, used for frozen positions. The rate
// and schedule are untouched.
func (l *Ledger) AddStatic(now, weight uint64) error {
	if err := l.checkMutable(now); err != nil {
		return err
	}
	if weight == 0 {
		return ErrZeroAmount
	}
	next, overflowed := common.OAdd(l.currentWeight(), weight)
	if overflowed {
		return ErrOverflow
	}
	l.setCurrentWeight(next)
	return nil
}

// RemoveStatic erases non-decaying weight previously recorded with AddStatic.
func (l *Ledger) RemoveStatic(now, weight uint64) error {
	if err := l.checkMutable(now); err != nil {
		return err
	}
	if weight == 0 {
		return ErrZeroAmount
	}
	next, underflowed := common.OSub(l.currentWeight(), weight)
	if underflowed {
		return fmt.Errorf("%w: static weight", ErrExceedsRecorded)
	}
	if next < l.rate {
		return fmt.Errorf("%w: static removal below decaying weight", ErrExceedsRecorded)
	}
	l.setCurrentWeight(next)
	return nil
}

// NextStep returns the first scheduled step strictly after the given epoch.
func (l *Ledger) NextStep(after uint64) (uint64, uint64, bool) {
	idx, ok := l.index.NextSet(uint(after) + 1)
	if !ok {
		return 0, 0, false
	}
	e := uint64(idx)
	return e, l.steps[e], true
}

// StepAt returns the rate reduction scheduled at the given epoch.
func (l *Ledger) StepAt(e uint64) uint64 {
	return l.steps[e]
}

func (l *Ledger) checkMutable(now uint64) error {
	if now > epoch.MaxEpoch {
		return fmt.Errorf("%w: %d", ErrEpochOutOfRange, now)
	}
	if l.updatedEpoch != now {
		return fmt.Errorf("%w: at %d, requested %d", ErrNotMaterialized, l.updatedEpoch, now)
	}
	return nil
}
