package emissions

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxSchedulePct is the denominator for per-epoch emission percentages.
const MaxSchedulePct = 10000

var schedulePctBase = big.NewInt(MaxSchedulePct)

// ErrInvalidSchedule rejects malformed emission schedules.
var ErrInvalidSchedule = errors.New("emissions: invalid schedule")

// ScheduledPct changes the per-epoch emission percentage once the given
// epoch is reached.
type ScheduledPct struct {
	Epoch uint64
	Pct   uint64
}

// Schedule sizes each epoch's emissions as a percentage of the remaining
// unallocated supply and tracks how long claimed emissions stay locked.
// Pending updates are stored descending by epoch so the next one to apply
// sits at the tail.
type Schedule struct {
	PerEpochPct     uint64
	Pending         []ScheduledPct
	LockEpochs      uint64
	LockDecayEpochs uint64
	NextDecayEpoch  uint64
}

// NewSchedule builds a schedule starting at initialPct with claimed
// emissions locked for lockEpochs, shrinking by one every lockDecayEpochs.
// Updates must be sorted ascending by epoch.
func NewSchedule(initialPct, lockEpochs, lockDecayEpochs uint64, updates []ScheduledPct) (*Schedule, error) {
	if initialPct > MaxSchedulePct {
		return nil, fmt.Errorf("%w: initial pct %d beyond %d", ErrInvalidSchedule, initialPct, MaxSchedulePct)
	}
	if lockDecayEpochs == 0 {
		return nil, fmt.Errorf("%w: lock decay interval must be positive", ErrInvalidSchedule)
	}
	pending, err := pendingFromUpdates(updates, 0)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		PerEpochPct:     initialPct,
		Pending:         pending,
		LockEpochs:      lockEpochs,
		LockDecayEpochs: lockDecayEpochs,
		NextDecayEpoch:  lockDecayEpochs,
	}, nil
}

// pendingFromUpdates validates an ascending update list and returns it
// reversed for tail consumption. Every update must land after afterEpoch.
func pendingFromUpdates(updates []ScheduledPct, afterEpoch uint64) ([]ScheduledPct, error) {
	last := afterEpoch
	for _, update := range updates {
		if update.Epoch <= last {
			return nil, fmt.Errorf("%w: update epochs must be strictly increasing past %d", ErrInvalidSchedule, afterEpoch)
		}
		if update.Pct > MaxSchedulePct {
			return nil, fmt.Errorf("%w: pct %d beyond %d", ErrInvalidSchedule, update.Pct, MaxSchedulePct)
		}
		last = update.Epoch
	}
	pending := make([]ScheduledPct, len(updates))
	for i, update := range updates {
		pending[len(updates)-1-i] = update
	}
	return pending, nil
}

// Clone returns an independent copy.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	out := *s
	out.Pending = append([]ScheduledPct(nil), s.Pending...)
	return &out
}

// advance applies every pending pct update due at or before epoch e and
// steps the lock duration down across elapsed decay intervals.
func (s *Schedule) advance(e uint64) {
	for len(s.Pending) > 0 {
		next := s.Pending[len(s.Pending)-1]
		if next.Epoch > e {
			break
		}
		s.PerEpochPct = next.Pct
		s.Pending = s.Pending[:len(s.Pending)-1]
	}
	for s.LockEpochs > 0 && e >= s.NextDecayEpoch {
		s.LockEpochs--
		s.NextDecayEpoch += s.LockDecayEpochs
	}
}

// EmissionsFor advances the schedule through epoch e and sizes that epoch's
// emissions from the remaining unallocated supply. It returns the sized
// amount and the lock duration applied to claims in that epoch.
func (s *Schedule) EmissionsFor(e uint64, unallocated *big.Int) (*big.Int, uint64) {
	s.advance(e)
	amount := new(big.Int).SetUint64(s.PerEpochPct)
	amount.Mul(amount, unallocated)
	amount.Div(amount, schedulePctBase)
	return amount, s.LockEpochs
}

// Reschedule replaces the pending pct updates. Updates must be sorted
// ascending and land strictly after afterEpoch.
func (s *Schedule) Reschedule(updates []ScheduledPct, afterEpoch uint64) error {
	pending, err := pendingFromUpdates(updates, afterEpoch)
	if err != nil {
		return err
	}
	s.Pending = pending
	return nil
}
