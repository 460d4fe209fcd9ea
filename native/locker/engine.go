package locker

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"vetoken/core/epoch"
	"vetoken/core/events"
	"vetoken/native/common"
	"vetoken/native/decay"
)

const (
	// MaxLockEpochs is the longest allowed lock duration. Weight decays
	// linearly from amount*MaxLockEpochs to zero across that span, and a
	// frozen account is weighted as if every unit were locked this long.
	MaxLockEpochs = 52
	// MaxLockUnits bounds the lockable supply expressed in lock units.
	// Keeping amounts within 32 bits means a weight can never exceed 38
	// bits, so aggregate arithmetic stays far away from uint64 overflow.
	MaxLockUnits = math.MaxUint32
)

var (
	errStateNotConfigured = errors.New("locker: state not configured")
	errTokenNotConfigured = errors.New("locker: token custody not configured")

	// ErrZeroAmount rejects operations on empty amounts.
	ErrZeroAmount = errors.New("locker: amount must be positive")
	// ErrInvalidDuration rejects durations outside [1, MaxLockEpochs].
	ErrInvalidDuration = errors.New("locker: lock duration outside valid range")
	// ErrAmountTooLarge rejects amounts beyond the lockable supply.
	ErrAmountTooLarge = errors.New("locker: amount exceeds lockable supply")
	// ErrAccountFrozen rejects operations unavailable to frozen accounts.
	ErrAccountFrozen = errors.New("locker: account is frozen")
	// ErrAccountNotFrozen rejects unfreezing an account with no frozen weight.
	ErrAccountNotFrozen = errors.New("locker: account is not frozen")
	// ErrNothingLocked rejects freezing an account with no active locks.
	ErrNothingLocked = errors.New("locker: no active locks")
	// ErrNothingUnlocked rejects withdrawals with no matured balance.
	ErrNothingUnlocked = errors.New("locker: no unlocked balance")
	// ErrPenaltyDisabled rejects early exits while they are switched off.
	ErrPenaltyDisabled = errors.New("locker: penalty withdrawals disabled")
	// ErrInsufficientBalance rejects withdrawals beyond withdrawable capacity.
	ErrInsufficientBalance = errors.New("locker: insufficient withdrawable balance")
	// ErrNotOwner rejects administrative calls from non-owner addresses.
	ErrNotOwner = errors.New("locker: caller is not the owner")
)

// engineState provides the persistence hooks the locker depends on. Reads
// return fresh copies; mutations are visible only after the matching Put.
type engineState interface {
	common.PauseView
	LockerAccount(addr [20]byte) (*Account, error)
	PutLockerAccount(addr [20]byte, account *Account) error
	LockerTotals() (*decay.Ledger, error)
	PutLockerTotals(ledger *decay.Ledger) error
	PenaltyWithdrawalsEnabled() (bool, error)
	SetPenaltyWithdrawalsEnabled(enabled bool) error
}

// TokenCustody moves raw token balance in and out of the locker's custody.
type TokenCustody interface {
	TransferToLocker(from [20]byte, amount *big.Int) error
	TransferFromLocker(to [20]byte, amount *big.Int) error
}

// VoteNotifier lets the locker push vote bookkeeping updates into the
// incentive voting module when lock state changes underneath it.
type VoteNotifier interface {
	ClearRegisteredWeight(account [20]byte) error
	UnfreezeVoteWeight(account [20]byte, keepVote bool) error
}

// LockInput describes one lock bucket to create in a batch.
type LockInput struct {
	Amount uint64
	Epochs uint64
}

// ExtendInput describes one bucket move in a batch.
type ExtendInput struct {
	Amount    uint64
	Epochs    uint64
	NewEpochs uint64
}

// Params fixes the economic constants of the locker.
type Params struct {
	TotalSupply      *big.Int
	LockToTokenRatio *big.Int
	Owner            [20]byte
	FeeReceiver      [20]byte
}

// Engine orchestrates lock accounting for all accounts plus the aggregate
// weight ledger consumed by voting and boost calculations.
type Engine struct {
	state       engineState
	token       TokenCustody
	votes       VoteNotifier
	emitter     events.Emitter
	nowFn       func() time.Time
	clock       *epoch.Clock
	ratio       *big.Int
	owner       [20]byte
	feeReceiver [20]byte
	maxUnits    uint64
}

// NewEngine constructs a locker engine bound to an epoch clock. The total
// supply expressed in lock units must fit the unit ceiling; a configuration
// that violates the bound is rejected outright rather than risking overflow
// in weight arithmetic later.
func NewEngine(clock *epoch.Clock, params Params) (*Engine, error) {
	if clock == nil {
		return nil, errors.New("locker: clock not configured")
	}
	if params.LockToTokenRatio == nil || params.LockToTokenRatio.Sign() <= 0 {
		return nil, errors.New("locker: lock-to-token ratio must be positive")
	}
	if params.TotalSupply == nil || params.TotalSupply.Sign() <= 0 {
		return nil, errors.New("locker: total supply must be positive")
	}
	maxUnits := new(big.Int).Div(params.TotalSupply, params.LockToTokenRatio)
	if !maxUnits.IsUint64() || maxUnits.Uint64() > MaxLockUnits {
		return nil, fmt.Errorf("locker: supply of %s lock units exceeds ceiling %d", maxUnits, uint64(MaxLockUnits))
	}
	if maxUnits.Sign() == 0 {
		return nil, errors.New("locker: total supply below one lock unit")
	}
	return &Engine{
		emitter:     events.NoopEmitter{},
		nowFn:       func() time.Time { return time.Now().UTC() },
		clock:       clock,
		ratio:       new(big.Int).Set(params.LockToTokenRatio),
		owner:       params.Owner,
		feeReceiver: params.FeeReceiver,
		maxUnits:    maxUnits.Uint64(),
	}, nil
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the engine to the token custody collaborator.
func (e *Engine) SetToken(token TokenCustody) { e.token = token }

// SetVoteNotifier wires the engine to the incentive voting module. Passing
// nil disables the notifications.
func (e *Engine) SetVoteNotifier(votes VoteNotifier) { e.votes = votes }

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

// RawAmount converts lock units to raw token balance.
func (e *Engine) RawAmount(units uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(units), e.ratio)
}

// MaxUnits returns the lockable supply ceiling in lock units.
func (e *Engine) MaxUnits() uint64 {
	return e.maxUnits
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return nil
}

// materializedAccount loads an account advanced to the given epoch, rolling
// matured lock units into the unlocked balance.
func (e *Engine) materializedAccount(addr [20]byte, now uint64) (*Account, error) {
	account, err := e.state.LockerAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = NewAccount()
	}
	_, matured, err := account.Ledger.MaterializeTo(now)
	if err != nil {
		return nil, err
	}
	unlocked, overflowed := common.OAdd(account.Unlocked, matured)
	if overflowed {
		return nil, fmt.Errorf("locker: unlocked balance overflow for %x", addr)
	}
	account.Unlocked = unlocked
	return account, nil
}

func (e *Engine) materializedTotals(now uint64) (*decay.Ledger, error) {
	totals, err := e.state.LockerTotals()
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

// Lock creates a new lock for account, funded by payer. Duration is clamped
// upwards when a one-epoch lock is requested in the second half of an epoch,
// since it would otherwise start decaying almost immediately. Locks made
// while the account is frozen accrue to the frozen balance instead.
func (e *Engine) Lock(payer, account [20]byte, amount, epochs uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.token == nil {
		return errTokenNotConfigured
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if amount > e.maxUnits {
		return ErrAmountTooLarge
	}
	if epochs == 0 || epochs > MaxLockEpochs {
		return ErrInvalidDuration
	}
	nowTime := e.now()
	now := e.clock.At(nowTime)
	if epochs == 1 && e.clock.InSecondHalf(nowTime) {
		epochs = 2
	}
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	frozen := acct.IsFrozen()
	if frozen {
		weight, overflowed := common.OMul(amount, MaxLockEpochs)
		if overflowed {
			return ErrAmountTooLarge
		}
		if err := acct.Ledger.AddStatic(now, weight); err != nil {
			return err
		}
		if err := totals.AddStatic(now, weight); err != nil {
			return err
		}
		balance, overflowed := common.OAdd(acct.Frozen, amount)
		if overflowed {
			return ErrAmountTooLarge
		}
		acct.Frozen = balance
	} else {
		if err := acct.Ledger.Add(now, amount, epochs); err != nil {
			return err
		}
		if err := totals.Add(now, amount, epochs); err != nil {
			return err
		}
	}
	if err := e.token.TransferToLocker(payer, e.RawAmount(amount)); err != nil {
		return fmt.Errorf("locker: deposit rejected: %w", err)
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	e.emit(events.LockCreated{Account: account, Amount: amount, Epochs: epochs, Frozen: frozen})
	return nil
}

// LockMany creates several locks for account in one operation, funded by a
// single transfer from payer. The inputs are validated up front so that a
// bad bucket rejects the whole batch.
func (e *Engine) LockMany(payer, account [20]byte, locks []LockInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.token == nil {
		return errTokenNotConfigured
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	if len(locks) == 0 {
		return ErrZeroAmount
	}
	var totalUnits uint64
	for _, input := range locks {
		if input.Amount == 0 {
			return ErrZeroAmount
		}
		if input.Epochs == 0 || input.Epochs > MaxLockEpochs {
			return ErrInvalidDuration
		}
		sum, overflowed := common.OAdd(totalUnits, input.Amount)
		if overflowed || sum > e.maxUnits {
			return ErrAmountTooLarge
		}
		totalUnits = sum
	}
	nowTime := e.now()
	now := e.clock.At(nowTime)
	secondHalf := e.clock.InSecondHalf(nowTime)
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	frozen := acct.IsFrozen()
	applied := make([]LockInput, 0, len(locks))
	for _, input := range locks {
		epochs := input.Epochs
		if epochs == 1 && secondHalf {
			epochs = 2
		}
		if frozen {
			weight, overflowed := common.OMul(input.Amount, MaxLockEpochs)
			if overflowed {
				return ErrAmountTooLarge
			}
			if err := acct.Ledger.AddStatic(now, weight); err != nil {
				return err
			}
			if err := totals.AddStatic(now, weight); err != nil {
				return err
			}
			balance, overflowed := common.OAdd(acct.Frozen, input.Amount)
			if overflowed {
				return ErrAmountTooLarge
			}
			acct.Frozen = balance
		} else {
			if err := acct.Ledger.Add(now, input.Amount, epochs); err != nil {
				return err
			}
			if err := totals.Add(now, input.Amount, epochs); err != nil {
				return err
			}
		}
		applied = append(applied, LockInput{Amount: input.Amount, Epochs: epochs})
	}
	if err := e.token.TransferToLocker(payer, e.RawAmount(totalUnits)); err != nil {
		return fmt.Errorf("locker: deposit rejected: %w", err)
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	for _, input := range applied {
		e.emit(events.LockCreated{Account: account, Amount: input.Amount, Epochs: input.Epochs, Frozen: frozen})
	}
	return nil
}

// ExtendLock moves amount from an existing bucket to a strictly longer one.
// The locked balance and its decay rate are unchanged; only the schedule and
// the weight move.
func (e *Engine) ExtendLock(account [20]byte, amount, epochs, newEpochs uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	if acct.IsFrozen() {
		return ErrAccountFrozen
	}
	if err := e.extendOne(acct, totals, now, ExtendInput{Amount: amount, Epochs: epochs, NewEpochs: newEpochs}); err != nil {
		return err
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	e.emit(events.LockExtended{Account: account, Amount: amount, Epochs: epochs, NewEpochs: newEpochs})
	return nil
}

// ExtendMany applies several bucket moves in one operation.
func (e *Engine) ExtendMany(account [20]byte, extends []ExtendInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	if len(extends) == 0 {
		return ErrZeroAmount
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	if acct.IsFrozen() {
		return ErrAccountFrozen
	}
	for _, input := range extends {
		if err := e.extendOne(acct, totals, now, input); err != nil {
			return err
		}
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	for _, input := range extends {
		e.emit(events.LockExtended{Account: account, Amount: input.Amount, Epochs: input.Epochs, NewEpochs: input.NewEpochs})
	}
	return nil
}

func (e *Engine) extendOne(acct *Account, totals *decay.Ledger, now uint64, input ExtendInput) error {
	if input.Amount == 0 {
		return ErrZeroAmount
	}
	if input.Epochs == 0 || input.NewEpochs <= input.Epochs || input.NewEpochs > MaxLockEpochs {
		return ErrInvalidDuration
	}
	if err := acct.Ledger.Remove(now, input.Amount, input.Epochs); err != nil {
		if errors.Is(err, decay.ErrExceedsRecorded) {
			return fmt.Errorf("%w: no %d units unlocking in %d epochs", ErrInsufficientBalance, input.Amount, input.Epochs)
		}
		return err
	}
	if err := totals.Remove(now, input.Amount, input.Epochs); err != nil {
		return err
	}
	if err := acct.Ledger.Add(now, input.Amount, input.NewEpochs); err != nil {
		return err
	}
	return totals.Add(now, input.Amount, input.NewEpochs)
}

// Freeze converts the account's entire decaying lock balance into frozen
// weight at the maximum multiplier. The unlock schedule is cleared; the
// account gives up maturity in exchange for weight that no longer decays.
func (e *Engine) Freeze(account [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	if acct.IsFrozen() {
		return ErrAccountFrozen
	}
	locked := acct.Ledger.Rate()
	if locked == 0 {
		return ErrNothingLocked
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	for _, lock := range acct.activeLocks(now, 1) {
		if err := acct.Ledger.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
			return err
		}
		if err := totals.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
			return err
		}
	}
	weight, overflowed := common.OMul(locked, MaxLockEpochs)
	if overflowed {
		return ErrAmountTooLarge
	}
	if err := acct.Ledger.AddStatic(now, weight); err != nil {
		return err
	}
	if err := totals.AddStatic(now, weight); err != nil {
		return err
	}
	acct.Frozen = locked
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	e.emit(events.LockFrozen{Account: account, Amount: locked})
	return nil
}

// Unfreeze converts the frozen balance back into a single lock of maximum
// duration, which resumes decaying. When keepVote is set, the incentive
// voting module re-applies the account's active votes on the new basis;
// otherwise the votes are cleared, which is cheaper.
func (e *Engine) Unfreeze(account [20]byte, keepVote bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	if !acct.IsFrozen() {
		return ErrAccountNotFrozen
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return err
	}
	frozen := acct.Frozen
	weight, overflowed := common.OMul(frozen, MaxLockEpochs)
	if overflowed {
		return ErrAmountTooLarge
	}
	if err := acct.Ledger.RemoveStatic(now, weight); err != nil {
		return err
	}
	if err := totals.RemoveStatic(now, weight); err != nil {
		return err
	}
	if err := acct.Ledger.Add(now, frozen, MaxLockEpochs); err != nil {
		return err
	}
	if err := totals.Add(now, frozen, MaxLockEpochs); err != nil {
		return err
	}
	acct.Frozen = 0
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return err
	}
	if e.votes != nil {
		if err := e.votes.UnfreezeVoteWeight(account, keepVote); err != nil {
			return fmt.Errorf("locker: vote bookkeeping failed: %w", err)
		}
	}
	e.emit(events.LockUnfrozen{Account: account, Amount: frozen, KeepVote: keepVote})
	return nil
}

// GetAccountActiveLocks returns the live lock buckets with at least
// minEpochs remaining, longest first, along with the frozen balance. The
// scan never mutates state, so it is safe on stale ledgers.
func (e *Engine) GetAccountActiveLocks(account [20]byte, minEpochs uint64) ([]ActiveLock, uint64, error) {
	if err := e.ready(); err != nil {
		return nil, 0, err
	}
	if minEpochs > MaxLockEpochs {
		return nil, 0, ErrInvalidDuration
	}
	acct, err := e.state.LockerAccount(account)
	if err != nil {
		return nil, 0, err
	}
	if acct == nil {
		return nil, 0, nil
	}
	now := e.clock.At(e.now())
	return acct.activeLocks(now, minEpochs), acct.Frozen, nil
}

// AccountBalances projects the locked, unlocked and frozen balances at the
// current epoch without touching state.
func (e *Engine) AccountBalances(account [20]byte) (locked, unlocked, frozen uint64, err error) {
	if err := e.ready(); err != nil {
		return 0, 0, 0, err
	}
	acct, err := e.state.LockerAccount(account)
	if err != nil {
		return 0, 0, 0, err
	}
	if acct == nil {
		return 0, 0, 0, nil
	}
	now := e.clock.At(e.now())
	return acct.lockedAt(now), acct.unlockedAt(now), acct.Frozen, nil
}

// WithdrawExpiredLocks pays out the matured unlocked balance, or locks it
// again for relockEpochs when that is non-zero.
func (e *Engine) WithdrawExpiredLocks(account [20]byte, relockEpochs uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.token == nil {
		return errTokenNotConfigured
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return err
	}
	if relockEpochs > MaxLockEpochs {
		return ErrInvalidDuration
	}
	nowTime := e.now()
	now := e.clock.At(nowTime)
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return err
	}
	unlocked := acct.Unlocked
	if unlocked == 0 {
		return ErrNothingUnlocked
	}
	acct.Unlocked = 0
	if relockEpochs > 0 {
		epochs := relockEpochs
		if epochs == 1 && e.clock.InSecondHalf(nowTime) {
			epochs = 2
		}
		totals, err := e.materializedTotals(now)
		if err != nil {
			return err
		}
		if acct.IsFrozen() {
			weight, overflowed := common.OMul(unlocked, MaxLockEpochs)
			if overflowed {
				return ErrAmountTooLarge
			}
			if err := acct.Ledger.AddStatic(now, weight); err != nil {
				return err
			}
			if err := totals.AddStatic(now, weight); err != nil {
				return err
			}
			balance, overflowed := common.OAdd(acct.Frozen, unlocked)
			if overflowed {
				return ErrAmountTooLarge
			}
			acct.Frozen = balance
		} else {
			if err := acct.Ledger.Add(now, unlocked, epochs); err != nil {
				return err
			}
			if err := totals.Add(now, unlocked, epochs); err != nil {
				return err
			}
		}
		if err := e.state.PutLockerAccount(account, acct); err != nil {
			return err
		}
		if err := e.state.PutLockerTotals(totals); err != nil {
			return err
		}
		e.emit(events.LockRelocked{Account: account, Amount: unlocked, Epochs: epochs})
		return nil
	}
	if err := e.token.TransferFromLocker(account, e.RawAmount(unlocked)); err != nil {
		return fmt.Errorf("locker: payout rejected: %w", err)
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return err
	}
	e.emit(events.LockWithdrawn{Account: account, Amount: unlocked})
	return nil
}

// WithdrawWithPenalty pays out exactly amountRaw to the account before locks
// mature. Unlocked balance is used first without penalty; remaining balance
// is taken from the soonest-maturing buckets, charging each one a penalty of
// epochsRemaining/MaxLockEpochs. Buckets at the full duration are skipped
// since their penalty would consume the entire amount. The returned values
// are the raw balance paid to the account and the raw penalty paid to the
// fee receiver.
func (e *Engine) WithdrawWithPenalty(account [20]byte, amountRaw *big.Int) (*big.Int, *big.Int, error) {
	if amountRaw == nil || amountRaw.Sign() <= 0 {
		return nil, nil, ErrZeroAmount
	}
	return e.penaltyWithdraw(account, new(big.Int).Set(amountRaw))
}

// WithdrawMaxWithPenalty drains every withdrawable balance: the whole
// unlocked amount plus every bucket below the full duration, net of
// penalties.
func (e *Engine) WithdrawMaxWithPenalty(account [20]byte) (*big.Int, *big.Int, error) {
	return e.penaltyWithdraw(account, nil)
}

// penaltyWithdraw implements both penalty withdrawal variants. A nil target
// means "maximum": consume everything that nets a positive payout.
func (e *Engine) penaltyWithdraw(account [20]byte, target *big.Int) (*big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if e.token == nil {
		return nil, nil, errTokenNotConfigured
	}
	if err := common.Guard(e.state, common.ModuleLocker); err != nil {
		return nil, nil, err
	}
	enabled, err := e.state.PenaltyWithdrawalsEnabled()
	if err != nil {
		return nil, nil, err
	}
	if !enabled {
		return nil, nil, ErrPenaltyDisabled
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return nil, nil, err
	}
	if acct.IsFrozen() {
		return nil, nil, ErrAccountFrozen
	}
	totals, err := e.materializedTotals(now)
	if err != nil {
		return nil, nil, err
	}

	paid := new(big.Int)
	penalty := new(big.Int)
	maxEpochs := big.NewInt(MaxLockEpochs)

	if target == nil {
		// Maximum withdrawal: everything unlocked, then every bucket that
		// nets a positive amount after its penalty.
		paid.Set(e.RawAmount(acct.Unlocked))
		acct.Unlocked = 0
		for _, lock := range acct.activeLocks(now, 1) {
			if lock.EpochsToUnlock == MaxLockEpochs {
				continue
			}
			bucketRaw := e.RawAmount(lock.Amount)
			bucketPenalty := new(big.Int).Mul(bucketRaw, new(big.Int).SetUint64(lock.EpochsToUnlock))
			bucketPenalty.Div(bucketPenalty, maxEpochs)
			bucketNet := new(big.Int).Sub(bucketRaw, bucketPenalty)
			if err := acct.Ledger.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
				return nil, nil, err
			}
			if err := totals.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
				return nil, nil, err
			}
			paid.Add(paid, bucketNet)
			penalty.Add(penalty, bucketPenalty)
		}
		if paid.Sign() == 0 {
			return nil, nil, ErrNothingUnlocked
		}
	} else {
		remaining := target
		unlockedRaw := e.RawAmount(acct.Unlocked)
		if unlockedRaw.Cmp(remaining) >= 0 {
			// The unlocked balance alone covers the request. Debit whole
			// units, rounding the payout up in the account's favor.
			debit := ceilDiv(remaining, e.ratio)
			acct.Unlocked -= debit.Uint64()
			paid.Mul(debit, e.ratio)
			remaining = new(big.Int)
		} else {
			paid.Set(unlockedRaw)
			remaining = new(big.Int).Sub(remaining, unlockedRaw)
			acct.Unlocked = 0
		}
		if remaining.Sign() > 0 {
			for _, lock := range soonestFirst(acct.activeLocks(now, 1)) {
				if lock.EpochsToUnlock == MaxLockEpochs {
					continue
				}
				weight := new(big.Int).SetUint64(lock.EpochsToUnlock)
				bucketRaw := e.RawAmount(lock.Amount)
				bucketPenalty := new(big.Int).Mul(bucketRaw, weight)
				bucketPenalty.Div(bucketPenalty, maxEpochs)
				bucketNet := new(big.Int).Sub(bucketRaw, bucketPenalty)
				if bucketNet.Cmp(remaining) <= 0 {
					if err := acct.Ledger.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
						return nil, nil, err
					}
					if err := totals.Remove(now, lock.Amount, lock.EpochsToUnlock); err != nil {
						return nil, nil, err
					}
					paid.Add(paid, bucketNet)
					penalty.Add(penalty, bucketPenalty)
					remaining.Sub(remaining, bucketNet)
					if remaining.Sign() == 0 {
						break
					}
					continue
				}
				// Break only part of the bucket: find the smallest gross
				// amount netting the remainder, round it up to whole lock
				// units, and charge everything beyond the payout as penalty.
				gross := new(big.Int).Mul(remaining, maxEpochs)
				gross = ceilDiv(gross, new(big.Int).Sub(maxEpochs, weight))
				grossUnits := ceilDiv(gross, e.ratio)
				if err := acct.Ledger.Remove(now, grossUnits.Uint64(), lock.EpochsToUnlock); err != nil {
					return nil, nil, err
				}
				if err := totals.Remove(now, grossUnits.Uint64(), lock.EpochsToUnlock); err != nil {
					return nil, nil, err
				}
				grossRaw := new(big.Int).Mul(grossUnits, e.ratio)
				paid.Add(paid, remaining)
				penalty.Add(penalty, new(big.Int).Sub(grossRaw, remaining))
				remaining = new(big.Int)
				break
			}
		}
		if remaining.Sign() > 0 {
			return nil, nil, ErrInsufficientBalance
		}
	}

	if e.votes != nil {
		if err := e.votes.ClearRegisteredWeight(account); err != nil {
			return nil, nil, fmt.Errorf("locker: vote bookkeeping failed: %w", err)
		}
	}
	if err := e.token.TransferFromLocker(account, paid); err != nil {
		return nil, nil, fmt.Errorf("locker: payout rejected: %w", err)
	}
	if penalty.Sign() > 0 {
		if err := e.token.TransferFromLocker(e.feeReceiver, penalty); err != nil {
			return nil, nil, fmt.Errorf("locker: penalty transfer rejected: %w", err)
		}
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return nil, nil, err
	}
	e.emit(events.LockPenaltyWithdrawn{Account: account, Withdrawn: paid, Penalty: penalty})
	return paid, penalty, nil
}

// SetPenaltyWithdrawalsEnabled toggles early exits. Owner only.
func (e *Engine) SetPenaltyWithdrawalsEnabled(caller [20]byte, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	return e.state.SetPenaltyWithdrawalsEnabled(enabled)
}

// AccountWeightAt projects an account's vote weight at the given epoch.
func (e *Engine) AccountWeightAt(account [20]byte, at uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	acct, err := e.state.LockerAccount(account)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, nil
	}
	return acct.Ledger.WeightAt(at), nil
}

// TotalWeightAt projects the aggregate vote weight at the given epoch.
func (e *Engine) TotalWeightAt(at uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	totals, err := e.state.LockerTotals()
	if err != nil {
		return 0, err
	}
	if totals == nil {
		return 0, nil
	}
	return totals.WeightAt(at), nil
}

// AccountWeightWrite materializes the account to the current epoch, persists
// the result, and returns the weight. Boost calculations use this variant so
// that repeated claims within an epoch hit stored history.
func (e *Engine) AccountWeightWrite(account [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	now := e.clock.At(e.now())
	acct, err := e.materializedAccount(account, now)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutLockerAccount(account, acct); err != nil {
		return 0, err
	}
	return acct.Ledger.WeightAt(now), nil
}

// TotalWeightWrite materializes the aggregate ledger to the current epoch,
// persists it, and returns the weight.
func (e *Engine) TotalWeightWrite() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	now := e.clock.At(e.now())
	totals, err := e.materializedTotals(now)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutLockerTotals(totals); err != nil {
		return 0, err
	}
	return totals.WeightAt(now), nil
}

func soonestFirst(locks []ActiveLock) []ActiveLock {
	out := make([]ActiveLock, len(locks))
	for i, lock := range locks {
		out[len(locks)-1-i] = lock
	}
	return out
}

func ceilDiv(a, b *big.Int) *big.Int {
	sum := new(big.Int).Add(a, b)
	sum.Sub(sum, big.NewInt(1))
	return sum.Div(sum, b)
}
