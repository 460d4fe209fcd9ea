package voting

// MaxVotePoints is the full point allocation available to one account. Votes
// assign points to receivers; an account's active votes may never exceed this
// total, so points translate directly into a share denominator.
const MaxVotePoints = 10000

// Vote points part of an account's registered weight at a receiver.
type Vote struct {
	ReceiverID uint64
	Points     uint64
}

// RegisteredLock pins one lock bucket of a registered weight snapshot. The
// unlock epoch is absolute, letting later operations derive how far the
// bucket has decayed since registration without a second locker query.
type RegisteredLock struct {
	Amount      uint64
	UnlockEpoch uint64
}

// AccountVotes is the per-account voting record: the registered weight basis
// (either a frozen balance or a set of decaying lock buckets) plus the active
// point allocation.
type AccountVotes struct {
	Frozen uint64
	Locks  []RegisteredLock
	Votes  []Vote
}

// NewAccountVotes returns an empty, unregistered record.
func NewAccountVotes() *AccountVotes {
	return &AccountVotes{}
}

// Clone returns a deep copy.
func (a *AccountVotes) Clone() *AccountVotes {
	if a == nil {
		return NewAccountVotes()
	}
	out := &AccountVotes{Frozen: a.Frozen}
	if len(a.Locks) > 0 {
		out.Locks = append([]RegisteredLock(nil), a.Locks...)
	}
	if len(a.Votes) > 0 {
		out.Votes = append([]Vote(nil), a.Votes...)
	}
	return out
}

// Registered reports whether the account has a usable weight basis.
func (a *AccountVotes) Registered() bool {
	return a != nil && (a.Frozen > 0 || len(a.Locks) > 0)
}

// AllocatedPoints sums the points held by the account's active votes.
func (a *AccountVotes) AllocatedPoints() uint64 {
	if a == nil {
		return 0
	}
	var total uint64
	for _, vote := range a.Votes {
		total += vote.Points
	}
	return total
}

// Receiver is an entry in the emission receiver registry. MaxPct caps the
// share of epoch emissions the receiver may be allocated, in points out of
// MaxVotePoints.
type Receiver struct {
	ID      uint64
	Address [20]byte
	MaxPct  uint64
}

// Clone returns a copy.
func (r *Receiver) Clone() *Receiver {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
