package events

import (
	"math/big"

	"vetoken/core/types"
	"vetoken/crypto"
)

const (
	// TypeLockCreated captures new lock weight added by an account.
	TypeLockCreated = "lock.created"
	// TypeLockExtended captures an existing lock moved to a longer duration.
	TypeLockExtended = "lock.extended"
	// TypeLockFrozen is emitted when an account converts its locks to frozen weight.
	TypeLockFrozen = "lock.frozen"
	// TypeLockUnfrozen is emitted when frozen weight resumes decaying.
	TypeLockUnfrozen = "lock.unfrozen"
	// TypeLockWithdrawn captures expired balance leaving the locker.
	TypeLockWithdrawn = "lock.withdrawn"
	// TypeLockRelocked captures expired balance immediately locked again.
	TypeLockRelocked = "lock.relocked"
	// TypeLockPenaltyWithdrawn captures an early exit with a penalty payment.
	TypeLockPenaltyWithdrawn = "lock.withdrawnWithPenalty"
)

// LockCreated captures the lock units and duration added for an account.
type LockCreated struct {
	Account [20]byte
	Amount  uint64
	Epochs  uint64
	Frozen  bool
}

// EventType satisfies the Event interface.
func (LockCreated) EventType() string { return TypeLockCreated }

// Event converts the structured payload into a broadcastable event.
func (e LockCreated) Event() *types.Event {
	attrs := map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.Amount),
		"epochs": formatUint(e.Epochs),
	}
	if e.Frozen {
		attrs["frozen"] = "true"
	}
	return &types.Event{Type: TypeLockCreated, Attributes: attrs}
}

// LockExtended captures lock units moved from one duration bucket to a longer one.
type LockExtended struct {
	Account   [20]byte
	Amount    uint64
	Epochs    uint64
	NewEpochs uint64
}

// EventType satisfies the Event interface.
func (LockExtended) EventType() string { return TypeLockExtended }

// Event converts the structured payload into a broadcastable event.
func (e LockExtended) Event() *types.Event {
	return &types.Event{Type: TypeLockExtended, Attributes: map[string]string{
		"addr":      crypto.AddressFromRaw(e.Account).String(),
		"amount":    formatUint(e.Amount),
		"epochs":    formatUint(e.Epochs),
		"newEpochs": formatUint(e.NewEpochs),
	}}
}

// LockFrozen captures an account converting its decaying locks to frozen weight.
type LockFrozen struct {
	Account [20]byte
	Amount  uint64
}

// EventType satisfies the Event interface.
func (LockFrozen) EventType() string { return TypeLockFrozen }

// Event converts the structured payload into a broadcastable event.
func (e LockFrozen) Event() *types.Event {
	return &types.Event{Type: TypeLockFrozen, Attributes: map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.Amount),
	}}
}

// LockUnfrozen captures frozen weight resuming decay as a full-length lock.
type LockUnfrozen struct {
	Account  [20]byte
	Amount   uint64
	KeepVote bool
}

// EventType satisfies the Event interface.
func (LockUnfrozen) EventType() string { return TypeLockUnfrozen }

// Event converts the structured payload into a broadcastable event.
func (e LockUnfrozen) Event() *types.Event {
	attrs := map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.Amount),
	}
	if e.KeepVote {
		attrs["keepVote"] = "true"
	}
	return &types.Event{Type: TypeLockUnfrozen, Attributes: attrs}
}

// LockWithdrawn captures matured balance transferred back to its owner.
type LockWithdrawn struct {
	Account [20]byte
	Amount  uint64
}

// EventType satisfies the Event interface.
func (LockWithdrawn) EventType() string { return TypeLockWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e LockWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeLockWithdrawn, Attributes: map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.Amount),
	}}
}

// LockRelocked captures matured balance locked again instead of withdrawn.
type LockRelocked struct {
	Account [20]byte
	Amount  uint64
	Epochs  uint64
}

// EventType satisfies the Event interface.
func (LockRelocked) EventType() string { return TypeLockRelocked }

// Event converts the structured payload into a broadcastable event.
func (e LockRelocked) Event() *types.Event {
	return &types.Event{Type: TypeLockRelocked, Attributes: map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.Amount),
		"epochs": formatUint(e.Epochs),
	}}
}

// LockPenaltyWithdrawn captures an early exit, including the penalty kept by
// the fee receiver. Amounts are denominated in raw token balance.
type LockPenaltyWithdrawn struct {
	Account   [20]byte
	Withdrawn *big.Int
	Penalty   *big.Int
}

// EventType satisfies the Event interface.
func (LockPenaltyWithdrawn) EventType() string { return TypeLockPenaltyWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e LockPenaltyWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeLockPenaltyWithdrawn, Attributes: map[string]string{
		"addr":      crypto.AddressFromRaw(e.Account).String(),
		"withdrawn": formatAmount(e.Withdrawn),
		"penalty":   formatAmount(e.Penalty),
	}}
}
