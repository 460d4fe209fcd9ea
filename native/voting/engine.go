package voting

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"vetoken/core/epoch"
	"vetoken/core/events"
	"vetoken/native/common"
	"vetoken/native/decay"
	"vetoken/native/locker"
)

var (
	errStateNotConfigured  = errors.New("voting: state not configured")
	errLockerNotConfigured = errors.New("voting: lock weight source not configured")

	// ErrNoWeight rejects registering an account with nothing locked or frozen.
	ErrNoWeight = errors.New("voting: account has no weight to register")
	// ErrNotRegistered rejects voting without a registered weight snapshot.
	ErrNotRegistered = errors.New("voting: account weight not registered")
	// ErrZeroPoints rejects empty votes.
	ErrZeroPoints = errors.New("voting: vote points must be positive")
	// ErrTooManyPoints rejects allocations beyond MaxVotePoints.
	ErrTooManyPoints = errors.New("voting: vote points exceed allocation limit")
	// ErrUnknownReceiver rejects votes for ids outside the registry.
	ErrUnknownReceiver = errors.New("voting: unknown receiver")
	// ErrNotOwner rejects registry changes from non-owner addresses.
	ErrNotOwner = errors.New("voting: caller is not the owner")
	// ErrInvalidPct rejects receiver caps beyond MaxVotePoints.
	ErrInvalidPct = errors.New("voting: pct outside valid range")
	// ErrReceiverHook wraps a receiver integration rejecting its assigned id.
	ErrReceiverHook = errors.New("voting: receiver notification failed")
)

// votePctScale is the fixed-point base of ReceiverVotePct results.
var votePctScale = uint256.NewInt(1_000_000_000_000_000_000)

// engineState provides the persistence hooks the voting module depends on.
type engineState interface {
	common.PauseView
	VoterAccount(addr [20]byte) (*AccountVotes, error)
	PutVoterAccount(addr [20]byte, account *AccountVotes) error
	ReceiverCount() (uint64, error)
	PutReceiverCount(count uint64) error
	VoteReceiver(id uint64) (*Receiver, bool, error)
	PutVoteReceiver(receiver *Receiver) error
	ReceiverLedger(id uint64) (*decay.Ledger, error)
	PutReceiverLedger(id uint64, ledger *decay.Ledger) error
	VoteTotals() (*decay.Ledger, error)
	PutVoteTotals(ledger *decay.Ledger) error
}

// lockWeightSource exposes the locker snapshot consumed at registration time.
type lockWeightSource interface {
	GetAccountActiveLocks(account [20]byte, minEpochs uint64) ([]locker.ActiveLock, uint64, error)
}

// ReceiverHook is implemented by receiver-side integrations that want to be
// told which id was assigned to their address. The hook is untrusted: a
// failure aborts the registration.
type ReceiverHook interface {
	NotifyRegisteredID(address [20]byte, id uint64) error
}

// Engine maintains registered weight snapshots, per-receiver vote ledgers and
// the aggregate vote ledger used to split emissions.
type Engine struct {
	state   engineState
	locks   lockWeightSource
	emitter events.Emitter
	hook    ReceiverHook
	nowFn   func() time.Time
	clock   *epoch.Clock
	owner   [20]byte
}

// NewEngine constructs a voting engine bound to an epoch clock.
func NewEngine(clock *epoch.Clock, owner [20]byte) (*Engine, error) {
	if clock == nil {
		return nil, errors.New("voting: clock not configured")
	}
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		clock:   clock,
		owner:   owner,
	}, nil
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLockSource wires the engine to the locker view used for registration.
func (e *Engine) SetLockSource(locks lockWeightSource) { e.locks = locks }

// SetReceiverHook wires the integration notified of receiver ids as they are
// assigned. Optional; nil disables notifications.
func (e *Engine) SetReceiverHook(hook ReceiverHook) { e.hook = hook }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to resolve the current epoch.
// Nil restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return nil
}

func (e *Engine) voterAccount(addr [20]byte) (*AccountVotes, error) {
	acct, err := e.state.VoterAccount(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = NewAccountVotes()
	}
	return acct, nil
}

func (e *Engine) materializedReceiver(id, now uint64) (*decay.Ledger, error) {
	ledger, err := e.state.ReceiverLedger(id)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = decay.NewLedger()
	}
	if _, _, err := ledger.MaterializeTo(now); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (e *Engine) materializedTotals(now uint64) (*decay.Ledger, error) {
	totals, err := e.state.VoteTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = decay.NewLedger()
	}
	if _, _, err := totals.MaterializeTo(now); err != nil {
		return nil, err
	}
	return totals, nil
}

// RegisterAccountWeight snapshots the account's current lock state as its
// vote weight basis. Buckets with fewer than minEpochs remaining are left out
// to keep the snapshot small. Existing votes are not cleared: their receiver
// contributions are removed under the old snapshot and re-applied under the
// new one with the same point allocation.
func (e *Engine) RegisterAccountWeight(account [20]byte, minEpochs uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.locks == nil {
		return errLockerNotConfigured
	}
	if err := common.Guard(e.state, common.ModuleVoting); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	locks, frozen, err := e.locks.GetAccountActiveLocks(account, minEpochs)
	if err != nil {
		return fmt.Errorf("voting: lock snapshot failed: %w", err)
	}
	if len(locks) == 0 && frozen == 0 {
		return ErrNoWeight
	}
	acct, err := e.voterAccount(account)
	if err != nil {
		return err
	}
	if len(acct.Votes) > 0 {
		if err := e.shiftVotes(now, acct, acct.Votes, false); err != nil {
			return err
		}
	}
	acct.Frozen = frozen
	acct.Locks = nil
	var total uint64
	if frozen == 0 {
		acct.Locks = make([]RegisteredLock, 0, len(locks))
		for _, lock := range locks {
			acct.Locks = append(acct.Locks, RegisteredLock{Amount: lock.Amount, UnlockEpoch: now + lock.EpochsToUnlock})
			total += lock.Amount
		}
	} else {
		total = frozen
	}
	if len(acct.Votes) > 0 {
		if err := e.shiftVotes(now, acct, acct.Votes, true); err != nil {
			return err
		}
	}
	if err := e.state.PutVoterAccount(account, acct); err != nil {
		return err
	}
	e.emit(events.VoteWeightRegistered{Account: account, Frozen: frozen > 0, LockCount: len(acct.Locks), TotalAmount: total})
	return nil
}

// RegisterAccountWeightAndVote registers a fresh snapshot and replaces the
// account's votes in one operation.
func (e *Engine) RegisterAccountWeightAndVote(account [20]byte, minEpochs uint64, votes []Vote) error {
	if err := e.RegisterAccountWeight(account, minEpochs); err != nil {
		return err
	}
	return e.Vote(account, votes, true)
}

// Vote allocates points to receivers on the account's registered weight. With
// clearPrevious the existing allocation is removed first; otherwise the new
// votes are appended and the combined points must stay within MaxVotePoints.
func (e *Engine) Vote(account [20]byte, votes []Vote, clearPrevious bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleVoting); err != nil {
		return err
	}
	if len(votes) == 0 && !clearPrevious {
		return ErrZeroPoints
	}
	var newPoints uint64
	for _, vote := range votes {
		if vote.Points == 0 {
			return ErrZeroPoints
		}
		if _, ok, err := e.state.VoteReceiver(vote.ReceiverID); err != nil {
			return err
		} else if !ok {
			return ErrUnknownReceiver
		}
		sum, overflowed := common.OAdd(newPoints, vote.Points)
		if overflowed {
			return ErrTooManyPoints
		}
		newPoints = sum
	}
	now := e.clock.At(e.now())
	acct, err := e.voterAccount(account)
	if err != nil {
		return err
	}
	if !acct.Registered() {
		return ErrNotRegistered
	}
	if clearPrevious && len(acct.Votes) > 0 {
		if err := e.shiftVotes(now, acct, acct.Votes, false); err != nil {
			return err
		}
		acct.Votes = nil
	}
	totalPoints := acct.AllocatedPoints() + newPoints
	if totalPoints > MaxVotePoints {
		return ErrTooManyPoints
	}
	if err := e.shiftVotes(now, acct, votes, true); err != nil {
		return err
	}
	acct.Votes = append(acct.Votes, votes...)
	if err := e.state.PutVoterAccount(account, acct); err != nil {
		return err
	}
	receivers := make([]uint64, len(votes))
	points := make([]uint64, len(votes))
	for i, vote := range votes {
		receivers[i] = vote.ReceiverID
		points[i] = vote.Points
	}
	e.emit(events.VoteCast{Account: account, Receivers: receivers, Points: points, TotalPoints: totalPoints, Cleared: clearPrevious})
	return nil
}

// ClearVote removes the account's active votes, keeping the registered
// weight snapshot. Clearing an account with no votes is a no-op.
func (e *Engine) ClearVote(account [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleVoting); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.voterAccount(account)
	if err != nil {
		return err
	}
	if len(acct.Votes) == 0 {
		return nil
	}
	if err := e.shiftVotes(now, acct, acct.Votes, false); err != nil {
		return err
	}
	acct.Votes = nil
	if err := e.state.PutVoterAccount(account, acct); err != nil {
		return err
	}
	e.emit(events.VoteCleared{Account: account})
	return nil
}

// ClearRegisteredWeight removes the account's votes and registration in one
// pass. The locker invokes this during penalty withdrawals so that a drained
// account cannot keep voting on a stale snapshot; it therefore bypasses the
// module pause switch and tolerates unregistered accounts.
func (e *Engine) ClearRegisteredWeight(account [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.voterAccount(account)
	if err != nil {
		return err
	}
	if !acct.Registered() && len(acct.Votes) == 0 {
		return nil
	}
	if len(acct.Votes) > 0 {
		if err := e.shiftVotes(now, acct, acct.Votes, false); err != nil {
			return err
		}
	}
	if err := e.state.PutVoterAccount(account, NewAccountVotes()); err != nil {
		return err
	}
	e.emit(events.VoteCleared{Account: account})
	return nil
}

// UnfreezeVoteWeight migrates a frozen registration to a single full-length
// lock bucket. The locker invokes this when an account unfreezes; accounts
// without a frozen registration are left untouched. With keepVote the active
// votes are re-applied on the new decaying basis, otherwise they are cleared.
func (e *Engine) UnfreezeVoteWeight(account [20]byte, keepVote bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.voterAccount(account)
	if err != nil {
		return err
	}
	if acct.Frozen == 0 {
		return nil
	}
	hasVotes := len(acct.Votes) > 0
	if hasVotes {
		if err := e.shiftVotes(now, acct, acct.Votes, false); err != nil {
			return err
		}
	}
	amount := acct.Frozen
	acct.Frozen = 0
	acct.Locks = []RegisteredLock{{Amount: amount, UnlockEpoch: now + locker.MaxLockEpochs}}
	if hasVotes {
		if keepVote {
			if err := e.shiftVotes(now, acct, acct.Votes, true); err != nil {
				return err
			}
		} else {
			acct.Votes = nil
		}
	}
	if err := e.state.PutVoterAccount(account, acct); err != nil {
		return err
	}
	e.emit(events.VoteWeightRegistered{Account: account, LockCount: 1, TotalAmount: amount})
	return nil
}

// shiftVotes applies or removes the receiver and total ledger contributions
// of the given votes under the account's current weight basis. Ledgers are
// materialized to the current epoch first; removal is exact because paired
// operations derive identical (units, remaining) pairs from the snapshot.
func (e *Engine) shiftVotes(now uint64, acct *AccountVotes, votes []Vote, add bool) error {
	if len(votes) == 0 {
		return nil
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	ledgers := make(map[uint64]*decay.Ledger)
	order := make([]uint64, 0, len(votes))
	for _, vote := range votes {
		ledger, ok := ledgers[vote.ReceiverID]
		if !ok {
			ledger, err = e.materializedReceiver(vote.ReceiverID, now)
			if err != nil {
				return err
			}
			ledgers[vote.ReceiverID] = ledger
			order = append(order, vote.ReceiverID)
		}
		if err := shiftContribution(ledger, totals, acct, vote, now, add); err != nil {
			return err
		}
	}
	for _, id := range order {
		if err := e.state.PutReceiverLedger(id, ledgers[id]); err != nil {
			return err
		}
	}
	return e.state.PutVoteTotals(totals)
}

// shiftContribution moves one vote's weight into or out of a receiver ledger
// and the total ledger. Amounts are bounded by the locker's unit ceiling and
// points by MaxVotePoints, so the products stay far below 64 bits.
func shiftContribution(ledger, totals *decay.Ledger, acct *AccountVotes, vote Vote, now uint64, add bool) error {
	if acct.Frozen > 0 {
		units := acct.Frozen * vote.Points / MaxVotePoints
		weight := units * locker.MaxLockEpochs
		if weight == 0 {
			return nil
		}
		if add {
			if err := ledger.AddStatic(now, weight); err != nil {
				return err
			}
			return totals.AddStatic(now, weight)
		}
		if err := ledger.RemoveStatic(now, weight); err != nil {
			return err
		}
		return totals.RemoveStatic(now, weight)
	}
	for _, lock := range acct.Locks {
		if lock.UnlockEpoch <= now {
			continue
		}
		units := lock.Amount * vote.Points / MaxVotePoints
		if units == 0 {
			continue
		}
		remaining := lock.UnlockEpoch - now
		if add {
			if err := ledger.Add(now, units, remaining); err != nil {
				return err
			}
			if err := totals.Add(now, units, remaining); err != nil {
				return err
			}
			continue
		}
		if err := ledger.Remove(now, units, remaining); err != nil {
			return err
		}
		if err := totals.Remove(now, units, remaining); err != nil {
			return err
		}
	}
	return nil
}

// RegisterReceiver appends a receiver to the registry and returns its id.
// Ids are sequential from one; zero is never a valid receiver. Owner only.
func (e *Engine) RegisterReceiver(caller, address [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if caller != e.owner {
		return 0, ErrNotOwner
	}
	count, err := e.state.ReceiverCount()
	if err != nil {
		return 0, err
	}
	id := count + 1
	if e.hook != nil {
		if err := e.hook.NotifyRegisteredID(address, id); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrReceiverHook, err)
		}
	}
	receiver := &Receiver{ID: id, Address: address, MaxPct: MaxVotePoints}
	if err := e.state.PutVoteReceiver(receiver); err != nil {
		return 0, err
	}
	if err := e.state.PutReceiverCount(id); err != nil {
		return 0, err
	}
	e.emit(events.ReceiverRegistered{ID: id, Address: address})
	return id, nil
}

// SetReceiverMaxPct caps the share of epoch emissions a receiver may be
// allocated, in points out of MaxVotePoints. Owner only.
func (e *Engine) SetReceiverMaxPct(caller [20]byte, id, maxPct uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	if maxPct > MaxVotePoints {
		return ErrInvalidPct
	}
	receiver, ok, err := e.state.VoteReceiver(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownReceiver
	}
	receiver.MaxPct = maxPct
	if err := e.state.PutVoteReceiver(receiver); err != nil {
		return err
	}
	e.emit(events.ReceiverCapUpdated{ID: id, MaxPct: maxPct})
	return nil
}

// ReceiverByID returns the registry entry for id.
func (e *Engine) ReceiverByID(id uint64) (*Receiver, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.state.VoteReceiver(id)
}

// ReceiverCount returns the number of registered receivers.
func (e *Engine) ReceiverCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.ReceiverCount()
}

// ReceiverVotePct returns the receiver's share of total vote weight in the
// epoch before the given one, scaled by 1e18. The first epoch has no prior
// weight and always reports zero, as does any epoch with no votes at all.
// Both ledgers are materialized up to the prior epoch (never past the current
// one), so repeated calls within an epoch read stored history.
func (e *Engine) ReceiverVotePct(id, at uint64) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, ok, err := e.state.VoteReceiver(id); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrUnknownReceiver
	}
	if at == 0 {
		return new(uint256.Int), nil
	}
	prior := at - 1
	target := prior
	if now := e.clock.At(e.now()); target > now {
		target = now
	}
	ledger, err := e.materializedReceiver(id, target)
	if err != nil {
		return nil, err
	}
	totals, err := e.materializedTotals(target)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutReceiverLedger(id, ledger); err != nil {
		return nil, err
	}
	if err := e.state.PutVoteTotals(totals); err != nil {
		return nil, err
	}
	total := totals.WeightAt(prior)
	if total == 0 {
		return new(uint256.Int), nil
	}
	pct := new(uint256.Int).SetUint64(ledger.WeightAt(prior))
	pct.Mul(pct, votePctScale)
	return pct.Div(pct, new(uint256.Int).SetUint64(total)), nil
}

// ReceiverWeightAt projects a receiver's vote weight at the given epoch.
func (e *Engine) ReceiverWeightAt(id, at uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if _, ok, err := e.state.VoteReceiver(id); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrUnknownReceiver
	}
	ledger, err := e.state.ReceiverLedger(id)
	if err != nil {
		return 0, err
	}
	if ledger == nil {
		return 0, nil
	}
	return ledger.WeightAt(at), nil
}

// TotalVoteWeightAt projects the aggregate vote weight at the given epoch.
func (e *Engine) TotalVoteWeightAt(at uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	totals, err := e.state.VoteTotals()
	if err != nil {
		return 0, err
	}
	if totals == nil {
		return 0, nil
	}
	return totals.WeightAt(at), nil
}

// AccountVoteState returns the account's registration and active votes.
func (e *Engine) AccountVoteState(account [20]byte) (*AccountVotes, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.voterAccount(account)
}
