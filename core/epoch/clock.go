package epoch

import (
	"fmt"
	"time"
)

// MaxEpoch bounds the accounting horizon. Ledger schedules are indexed by
// epoch number and permanently break past 65535 epochs, so the configured
// epoch length must push that point into the distant future.
const MaxEpoch = 65535

// Clock converts wall-clock time into protocol epochs. Epoch numbers start
// at zero, never decrease, and advance exactly once per epoch length.
type Clock struct {
	start  time.Time
	length time.Duration
}

// NewClock builds a clock from an aligned start time and an epoch length.
func NewClock(start time.Time, length time.Duration) (*Clock, error) {
	if length <= 0 {
		return nil, fmt.Errorf("epoch length must be greater than zero")
	}
	if start.Unix() <= 0 {
		return nil, fmt.Errorf("epoch start time must be a positive unix instant")
	}
	return &Clock{start: start.UTC(), length: length}, nil
}

// AlignedStart derives the clock start time for a deployment instant. The
// instant is rounded down to a multiple of the epoch length and shifted back
// by the configured offset, so that epoch boundaries land on a fixed weekday
// and time regardless of when the system was deployed. The result is then
// advanced until the deployment instant falls inside the first epoch.
func AlignedStart(deploy time.Time, length, offset time.Duration) time.Time {
	lengthSecs := int64(length / time.Second)
	offsetSecs := int64(offset / time.Second)
	secs := deploy.Unix()
	start := secs/lengthSecs*lengthSecs - offsetSecs
	for secs-start >= lengthSecs {
		start += lengthSecs
	}
	return time.Unix(start, 0).UTC()
}

// StartTime returns the instant epoch zero began.
func (c *Clock) StartTime() time.Time {
	return c.start
}

// EpochLength returns the duration of a single epoch.
func (c *Clock) EpochLength() time.Duration {
	return c.length
}

// At returns the epoch containing t. Instants before the clock start are
// reported as epoch zero.
func (c *Clock) At(t time.Time) uint64 {
	if !t.After(c.start) {
		return 0
	}
	return uint64(t.Sub(c.start) / c.length)
}

// Current returns the epoch containing the present instant.
func (c *Clock) Current() uint64 {
	return c.At(time.Now())
}

// StartOf returns the instant at which the given epoch begins.
func (c *Clock) StartOf(e uint64) time.Time {
	return c.start.Add(time.Duration(e) * c.length)
}

// InSecondHalf reports whether t sits at or past the midpoint of its epoch.
// Lock creation uses this to decide whether a one-epoch lock would decay too
// soon and must be promoted to two epochs.
func (c *Clock) InSecondHalf(t time.Time) bool {
	elapsed := t.Sub(c.StartOf(c.At(t)))
	return elapsed*2 >= c.length
}
