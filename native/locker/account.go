package locker

import (
	"sort"

	"vetoken/native/decay"
)

// Account is the persistent lock state for a single address. The decaying
// locked balance is the ledger's rate; Unlocked holds matured lock units
// awaiting withdrawal and Frozen holds units converted to non-decaying
// weight. Locked and frozen balances are never both positive.
type Account struct {
	Unlocked uint64
	Frozen   uint64
	Ledger   *decay.Ledger
}

// NewAccount returns an empty account with an initialized ledger.
func NewAccount() *Account {
	return &Account{Ledger: decay.NewLedger()}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Unlocked: a.Unlocked, Frozen: a.Frozen}
	if a.Ledger != nil {
		clone.Ledger = a.Ledger.Clone()
	} else {
		clone.Ledger = decay.NewLedger()
	}
	return clone
}

// IsFrozen reports whether the account's weight is frozen at the maximum.
func (a *Account) IsFrozen() bool {
	return a.Frozen > 0
}

// ActiveLock reports one live lock bucket.
type ActiveLock struct {
	Amount         uint64
	EpochsToUnlock uint64
}

// activeLocks scans the unlock schedule and returns the live buckets at the
// given epoch, longest remaining duration first. Buckets maturing at or
// before the epoch are excluded; they are unlocked balance, not locks.
func (a *Account) activeLocks(now, minEpochs uint64) []ActiveLock {
	if minEpochs == 0 {
		minEpochs = 1
	}
	var locks []ActiveLock
	for e, amount, ok := a.Ledger.NextStep(now); ok; e, amount, ok = a.Ledger.NextStep(e) {
		remaining := e - now
		if remaining < minEpochs {
			continue
		}
		locks = append(locks, ActiveLock{Amount: amount, EpochsToUnlock: remaining})
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].EpochsToUnlock > locks[j].EpochsToUnlock })
	return locks
}

// lockedAt projects the decaying locked balance at the given epoch without
// materializing: scheduled steps at or before the epoch have matured and no
// longer count as locked.
func (a *Account) lockedAt(now uint64) uint64 {
	locked := a.Ledger.Rate()
	updated := a.Ledger.UpdatedEpoch()
	for e, amount, ok := a.Ledger.NextStep(updated); ok && e <= now; e, amount, ok = a.Ledger.NextStep(e) {
		locked -= amount
	}
	return locked
}

// unlockedAt projects the withdrawable balance at the given epoch.
func (a *Account) unlockedAt(now uint64) uint64 {
	unlocked := a.Unlocked
	updated := a.Ledger.UpdatedEpoch()
	for e, amount, ok := a.Ledger.NextStep(updated); ok && e <= now; e, amount, ok = a.Ledger.NextStep(e) {
		unlocked += amount
	}
	return unlocked
}
