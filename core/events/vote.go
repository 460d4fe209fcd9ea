package events

import (
	"strings"

	"vetoken/core/types"
	"vetoken/crypto"
)

const (
	// TypeVoteWeightRegistered captures an account registering lock weight for voting.
	TypeVoteWeightRegistered = "vote.weightRegistered"
	// TypeVoteCast captures points being pointed at emission receivers.
	TypeVoteCast = "vote.cast"
	// TypeVoteCleared captures an account removing all of its active votes.
	TypeVoteCleared = "vote.cleared"
	// TypeReceiverRegistered captures a new emission receiver entering the registry.
	TypeReceiverRegistered = "vote.receiverRegistered"
	// TypeReceiverCapUpdated captures a change to a receiver's emission cap.
	TypeReceiverCapUpdated = "vote.receiverCapUpdated"
)

// VoteWeightRegistered captures the snapshot an account registered for voting.
type VoteWeightRegistered struct {
	Account     [20]byte
	Frozen      bool
	LockCount   int
	TotalAmount uint64
}

// EventType satisfies the Event interface.
func (VoteWeightRegistered) EventType() string { return TypeVoteWeightRegistered }

// Event converts the structured payload into a broadcastable event.
func (e VoteWeightRegistered) Event() *types.Event {
	attrs := map[string]string{
		"addr":   crypto.AddressFromRaw(e.Account).String(),
		"amount": formatUint(e.TotalAmount),
	}
	if e.Frozen {
		attrs["frozen"] = "true"
	} else {
		attrs["locks"] = formatUint(uint64(e.LockCount))
	}
	return &types.Event{Type: TypeVoteWeightRegistered, Attributes: attrs}
}

// VoteCast captures the points allocated by an account in one vote call.
type VoteCast struct {
	Account     [20]byte
	Receivers   []uint64
	Points      []uint64
	TotalPoints uint64
	Cleared     bool
}

// EventType satisfies the Event interface.
func (VoteCast) EventType() string { return TypeVoteCast }

// Event converts the structured payload into a broadcastable event.
func (e VoteCast) Event() *types.Event {
	receivers := make([]string, len(e.Receivers))
	for i, id := range e.Receivers {
		receivers[i] = formatUint(id)
	}
	points := make([]string, len(e.Points))
	for i, p := range e.Points {
		points[i] = formatUint(p)
	}
	attrs := map[string]string{
		"addr":        crypto.AddressFromRaw(e.Account).String(),
		"receivers":   strings.Join(receivers, ","),
		"points":      strings.Join(points, ","),
		"totalPoints": formatUint(e.TotalPoints),
	}
	if e.Cleared {
		attrs["clearedPrevious"] = "true"
	}
	return &types.Event{Type: TypeVoteCast, Attributes: attrs}
}

// VoteCleared captures the removal of every active vote held by an account.
type VoteCleared struct {
	Account [20]byte
}

// EventType satisfies the Event interface.
func (VoteCleared) EventType() string { return TypeVoteCleared }

// Event converts the structured payload into a broadcastable event.
func (e VoteCleared) Event() *types.Event {
	return &types.Event{Type: TypeVoteCleared, Attributes: map[string]string{
		"addr": crypto.AddressFromRaw(e.Account).String(),
	}}
}

// ReceiverRegistered captures a new emission receiver and its assigned id.
type ReceiverRegistered struct {
	ID      uint64
	Address [20]byte
}

// EventType satisfies the Event interface.
func (ReceiverRegistered) EventType() string { return TypeReceiverRegistered }

// Event converts the structured payload into a broadcastable event.
func (e ReceiverRegistered) Event() *types.Event {
	return &types.Event{Type: TypeReceiverRegistered, Attributes: map[string]string{
		"id":   formatUint(e.ID),
		"addr": crypto.AddressFromRaw(e.Address).String(),
	}}
}

// ReceiverCapUpdated captures a change to a receiver's maximum emission share.
type ReceiverCapUpdated struct {
	ID     uint64
	MaxPct uint64
}

// EventType satisfies the Event interface.
func (ReceiverCapUpdated) EventType() string { return TypeReceiverCapUpdated }

// Event converts the structured payload into a broadcastable event.
func (e ReceiverCapUpdated) Event() *types.Event {
	return &types.Event{Type: TypeReceiverCapUpdated, Attributes: map[string]string{
		"id":     formatUint(e.ID),
		"maxPct": formatUint(e.MaxPct),
	}}
}
