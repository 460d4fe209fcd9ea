package events

import (
	"encoding/hex"
	"math/big"

	"vetoken/core/types"
	"vetoken/crypto"
)

const (
	// TypeEmissionsAllocated captures a per-epoch emission allocation to a receiver.
	TypeEmissionsAllocated = "emissions.allocated"
	// TypeEmissionsClaimed captures boosted emissions paid out or locked for a claimant.
	TypeEmissionsClaimed = "emissions.claimed"
	// TypeBoostDelegationSet captures an account enabling or disabling boost delegation.
	TypeBoostDelegationSet = "emissions.delegationSet"
	// TypeAllowanceTransferred captures an off-schedule transfer out of the vault.
	TypeAllowanceTransferred = "emissions.allowanceTransferred"
)

// EmissionsAllocated captures one receiver's share of an epoch's emissions.
type EmissionsAllocated struct {
	Epoch       uint64
	ReceiverID  uint64
	Amount      *big.Int
	CapExcess   *big.Int
	Unallocated *big.Int
	Digest      [32]byte
}

// EventType satisfies the Event interface.
func (EmissionsAllocated) EventType() string { return TypeEmissionsAllocated }

// Event converts the structured payload into a broadcastable event.
func (e EmissionsAllocated) Event() *types.Event {
	attrs := map[string]string{
		"epoch":       formatUint(e.Epoch),
		"receiver":    formatUint(e.ReceiverID),
		"amount":      formatAmount(e.Amount),
		"unallocated": formatAmount(e.Unallocated),
		"digest":      hex.EncodeToString(e.Digest[:]),
	}
	if e.CapExcess != nil && e.CapExcess.Sign() > 0 {
		attrs["capExcess"] = formatAmount(e.CapExcess)
	}
	return &types.Event{Type: TypeEmissionsAllocated, Attributes: attrs}
}

// EmissionsClaimed captures the result of a claim, including the boost applied.
type EmissionsClaimed struct {
	Claimant    [20]byte
	Receiver    [20]byte
	Delegate    [20]byte
	Requested   *big.Int
	Boosted     *big.Int
	Fee         *big.Int
	LockEpochs  uint64
	Unallocated *big.Int
}

// EventType satisfies the Event interface.
func (EmissionsClaimed) EventType() string { return TypeEmissionsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e EmissionsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"addr":      crypto.AddressFromRaw(e.Claimant).String(),
		"receiver":  crypto.AddressFromRaw(e.Receiver).String(),
		"requested": formatAmount(e.Requested),
		"boosted":   formatAmount(e.Boosted),
	}
	if !zeroAddress(e.Delegate) {
		attrs["delegate"] = crypto.AddressFromRaw(e.Delegate).String()
	}
	if e.Fee != nil && e.Fee.Sign() > 0 {
		attrs["fee"] = formatAmount(e.Fee)
	}
	if e.LockEpochs > 0 {
		attrs["lockEpochs"] = formatUint(e.LockEpochs)
	}
	if e.Unallocated != nil {
		attrs["unallocated"] = formatAmount(e.Unallocated)
	}
	return &types.Event{Type: TypeEmissionsClaimed, Attributes: attrs}
}

// BoostDelegationSet captures delegation parameters published by an account.
type BoostDelegationSet struct {
	Account [20]byte
	Enabled bool
	FeePct  uint64
}

// EventType satisfies the Event interface.
func (BoostDelegationSet) EventType() string { return TypeBoostDelegationSet }

// Event converts the structured payload into a broadcastable event.
func (e BoostDelegationSet) Event() *types.Event {
	attrs := map[string]string{
		"addr": crypto.AddressFromRaw(e.Account).String(),
	}
	if e.Enabled {
		attrs["enabled"] = "true"
		attrs["feePct"] = formatUint(e.FeePct)
	} else {
		attrs["enabled"] = "false"
	}
	return &types.Event{Type: TypeBoostDelegationSet, Attributes: attrs}
}

// AllowanceTransferred captures tokens leaving the vault outside emissions.
// Unallocated is set only for owner transfers, which draw on the pool rather
// than a bootstrapped allowance.
type AllowanceTransferred struct {
	Spender     [20]byte
	To          [20]byte
	Amount      *big.Int
	Unallocated *big.Int
}

// EventType satisfies the Event interface.
func (AllowanceTransferred) EventType() string { return TypeAllowanceTransferred }

// Event converts the structured payload into a broadcastable event.
func (e AllowanceTransferred) Event() *types.Event {
	attrs := map[string]string{
		"spender": crypto.AddressFromRaw(e.Spender).String(),
		"to":      crypto.AddressFromRaw(e.To).String(),
		"amount":  formatAmount(e.Amount),
	}
	if e.Unallocated != nil {
		attrs["unallocated"] = formatAmount(e.Unallocated)
	}
	return &types.Event{Type: TypeAllowanceTransferred, Attributes: attrs}
}
