package emissions

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"vetoken/core/epoch"
	"vetoken/core/events"
	"vetoken/native/common"
	"vetoken/native/locker"
	"vetoken/native/voting"
)

// FeePctDynamic marks a delegation whose fee is resolved through the
// delegate's callback on every claim instead of a stored percentage.
const FeePctDynamic = 65535

var votePctScale = big.NewInt(1_000_000_000_000_000_000)

var (
	errStateNotConfigured = errors.New("emissions: state not configured")
	errTokenNotConfigured = errors.New("emissions: token custody not configured")
	errVotesNotConfigured = errors.New("emissions: vote source not configured")
	errLocksNotConfigured = errors.New("emissions: lock provider not configured")
	errBoostNotConfigured = errors.New("emissions: boost calculator not configured")

	// ErrNotInitialized is returned when the vault has no bootstrapped supply.
	ErrNotInitialized = errors.New("emissions: vault not initialized")
	// ErrAlreadyInitialized rejects a second bootstrap.
	ErrAlreadyInitialized = errors.New("emissions: vault already initialized")
	// ErrZeroAmount rejects empty transfers and claims.
	ErrZeroAmount = errors.New("emissions: amount must be positive")
	// ErrUnknownReceiver is returned for receiver ids never registered.
	ErrUnknownReceiver = errors.New("emissions: unknown receiver")
	// ErrNotReceiver rejects allocation and claim calls from addresses other
	// than the receiver's registered one.
	ErrNotReceiver = errors.New("emissions: caller is not the receiver")
	// ErrAlreadyAllocated rejects a second allocation for the same receiver
	// and epoch.
	ErrAlreadyAllocated = errors.New("emissions: receiver already allocated this epoch")
	// ErrAllocationNotDue is returned while the clock still reads epoch zero.
	ErrAllocationNotDue = errors.New("emissions: allocations begin after the first epoch")
	// ErrInsufficientAllocation rejects claims beyond the receiver's
	// allocated balance.
	ErrInsufficientAllocation = errors.New("emissions: claim exceeds receiver allocation")
	// ErrDelegationDisabled is returned when the named delegate has not
	// enabled boost delegation.
	ErrDelegationDisabled = errors.New("emissions: boost delegation disabled")
	// ErrDelegateFee is returned when a dynamic fee lookup fails on a claim.
	ErrDelegateFee = errors.New("emissions: delegate fee lookup failed")
	// ErrDelegateCallback is returned when a required delegate callback is
	// missing or rejects the claim.
	ErrDelegateCallback = errors.New("emissions: delegate callback failed")
	// ErrReceiverCallback is returned when the payout destination's own
	// callback handler is missing or rejects the claim.
	ErrReceiverCallback = errors.New("emissions: receiver callback failed")
	// ErrInvalidFeePct rejects delegation fees beyond 100%.
	ErrInvalidFeePct = errors.New("emissions: invalid delegation fee")
	// ErrInsufficientAllowance rejects transfers beyond the caller's
	// bootstrapped allowance.
	ErrInsufficientAllowance = errors.New("emissions: insufficient allowance")
	// ErrInsufficientUnallocated rejects owner transfers beyond the
	// unallocated supply.
	ErrInsufficientUnallocated = errors.New("emissions: insufficient unallocated supply")
	// ErrNotOwner guards owner-only operations.
	ErrNotOwner = errors.New("emissions: caller is not the owner")
	// ErrSupplyCeiling rejects bootstrapped supplies the locker cannot hold.
	ErrSupplyCeiling = errors.New("emissions: supply exceeds lockable ceiling")
)

// BoostDelegate is implemented by accounts that rent out their unused boost
// or want to hear about payouts landing on them. All hooks are untrusted:
// fee lookups degrade in view paths but abort real claims, and callbacks
// always abort the claim on failure.
type BoostDelegate interface {
	GetFeePct(claimant, receiver [20]byte, amount, previousAmount, totalEpochEmissions *big.Int) (uint64, error)
	DelegateCallback(claimant, receiver [20]byte, amount, adjustedAmount, fee, previousAmount, totalEpochEmissions *big.Int) error
	ReceiverCallback(claimant, receiver [20]byte, adjustedAmount *big.Int) error
}

// Delegation captures an account's published boost-delegation terms.
type Delegation struct {
	Enabled  bool
	FeePct   uint64
	Callback bool
}

// Clone returns an independent copy.
func (d *Delegation) Clone() *Delegation {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// Allowance grants an address the right to pull part of the bootstrapped
// supply out of the vault later (treasury, airdrops).
type Allowance struct {
	Address [20]byte
	Amount  *big.Int
}

// VaultState is the vault's persistent aggregate: how far emissions have
// been sized, what remains unallocated, and the live schedule.
type VaultState struct {
	UpdatedEpoch uint64
	Unallocated  *big.Int
	Schedule     *Schedule
}

// Clone returns an independent copy.
func (v *VaultState) Clone() *VaultState {
	if v == nil {
		return nil
	}
	out := &VaultState{UpdatedEpoch: v.UpdatedEpoch, Schedule: v.Schedule.Clone()}
	if v.Unallocated != nil {
		out.Unallocated = new(big.Int).Set(v.Unallocated)
	}
	return out
}

// engineState is the vault's persistence surface.
type engineState interface {
	common.PauseView
	EmissionVault() (*VaultState, error)
	PutEmissionVault(vs *VaultState) error
	EpochEmissions(e uint64) (*big.Int, error)
	PutEpochEmissions(e uint64, amount *big.Int) error
	ReceiverAllocation(id uint64) (*big.Int, error)
	PutReceiverAllocation(id uint64, amount *big.Int) error
	ReceiverEpochAllocated(id, e uint64) (bool, error)
	SetReceiverEpochAllocated(id, e uint64) error
	AccountEpochClaimed(account [20]byte, e uint64) (*big.Int, error)
	PutAccountEpochClaimed(account [20]byte, e uint64, amount *big.Int) error
	BoostDelegation(account [20]byte) (*Delegation, bool, error)
	PutBoostDelegation(account [20]byte, delegation *Delegation) error
	VaultAllowance(addr [20]byte) (*big.Int, error)
	PutVaultAllowance(addr [20]byte, amount *big.Int) error
}

// tokenCustody moves tokens out of the vault's own balance.
type tokenCustody interface {
	Transfer(to [20]byte, amount *big.Int) error
}

// voteSource resolves receivers and their prior-epoch vote shares.
type voteSource interface {
	ReceiverByID(id uint64) (*voting.Receiver, bool, error)
	ReceiverVotePct(id, at uint64) (*uint256.Int, error)
}

// lockProvider locks claimed emissions on the claimant's behalf, with the
// vault paying.
type lockProvider interface {
	Lock(payer, account [20]byte, amount, epochs uint64) error
}

// boostSource adjusts claim amounts by the claimant's weight share.
type boostSource interface {
	BoostedAmount(account [20]byte, amount, previous, totalEpochEmissions *big.Int) (*big.Int, error)
	BoostedAmountWrite(account [20]byte, amount, previous, totalEpochEmissions *big.Int) (*big.Int, error)
}

// Params fixes the vault's identity and custody arithmetic.
type Params struct {
	// Address is the vault's custody account; lock-on-claim payouts are
	// pulled from it by the locker.
	Address [20]byte
	// Owner may move unallocated supply and update the schedule.
	Owner [20]byte
	// LockToTokenRatio converts raw payouts into lockable units.
	LockToTokenRatio *big.Int
	// FixedInitialAmounts override schedule sizing for the first epochs.
	FixedInitialAmounts []*big.Int
}

// Vault holds the emission supply, sizes per-epoch emissions, routes
// allocations to receivers by vote share, and pays boosted claims.
type Vault struct {
	state     engineState
	token     tokenCustody
	votes     voteSource
	locks     lockProvider
	boost     boostSource
	emitter   events.Emitter
	nowFn     func() time.Time
	clock     *epoch.Clock
	address   [20]byte
	owner     [20]byte
	ratio     *big.Int
	fixed     []*big.Int
	delegates map[[20]byte]BoostDelegate
}

// NewVault constructs a vault bound to an epoch clock.
func NewVault(clock *epoch.Clock, params Params) (*Vault, error) {
	if clock == nil {
		return nil, errors.New("emissions: clock not configured")
	}
	if params.LockToTokenRatio == nil || params.LockToTokenRatio.Sign() <= 0 {
		return nil, errors.New("emissions: lock-to-token ratio must be positive")
	}
	fixed := make([]*big.Int, len(params.FixedInitialAmounts))
	for i, amount := range params.FixedInitialAmounts {
		if amount == nil || amount.Sign() < 0 {
			return nil, fmt.Errorf("emissions: fixed initial amount %d invalid", i)
		}
		fixed[i] = new(big.Int).Set(amount)
	}
	return &Vault{
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		clock:     clock,
		address:   params.Address,
		owner:     params.Owner,
		ratio:     new(big.Int).Set(params.LockToTokenRatio),
		fixed:     fixed,
		delegates: make(map[[20]byte]BoostDelegate),
	}, nil
}

// SetState wires the vault to its persistence backend.
func (v *Vault) SetState(state engineState) { v.state = state }

// SetToken wires the vault to token custody.
func (v *Vault) SetToken(token tokenCustody) { v.token = token }

// SetVoteSource wires the vault to the voting engine.
func (v *Vault) SetVoteSource(votes voteSource) { v.votes = votes }

// SetLockProvider wires the vault to the locker for lock-on-claim payouts.
func (v *Vault) SetLockProvider(locks lockProvider) { v.locks = locks }

// SetBoostCalculator wires the vault to the boost calculator.
func (v *Vault) SetBoostCalculator(boost boostSource) { v.boost = boost }

// SetEmitter attaches an event sink. Nil restores the noop emitter.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the time source. Nil restores the default UTC clock.
func (v *Vault) SetNowFunc(now func() time.Time) {
	if now == nil {
		v.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	v.nowFn = now
}

func (v *Vault) now() time.Time {
	if v == nil || v.nowFn == nil {
		return time.Now().UTC()
	}
	return v.nowFn()
}

func (v *Vault) emit(evt events.Event) {
	if v.emitter == nil {
		return
	}
	v.emitter.Emit(evt)
}

func (v *Vault) ready() error {
	if v.state == nil {
		return errStateNotConfigured
	}
	if v.token == nil {
		return errTokenNotConfigured
	}
	return nil
}

func (v *Vault) vaultState() (*VaultState, error) {
	vs, err := v.state.EmissionVault()
	if err != nil {
		return nil, err
	}
	if vs == nil {
		return nil, ErrNotInitialized
	}
	return vs, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Bootstrap seeds the vault with its total emission balance and the opening
// schedule. Allowances are carved out of the balance up front and stay
// transferable via TransferTokens.
func (v *Vault) Bootstrap(total *big.Int, schedule *Schedule, allowances []Allowance) error {
	if v.state == nil {
		return errStateNotConfigured
	}
	if total == nil || total.Sign() <= 0 {
		return ErrZeroAmount
	}
	if schedule == nil {
		return fmt.Errorf("%w: missing schedule", ErrInvalidSchedule)
	}
	if new(big.Int).Div(total, v.ratio).Cmp(new(big.Int).SetUint64(locker.MaxLockUnits)) > 0 {
		return ErrSupplyCeiling
	}
	existing, err := v.state.EmissionVault()
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyInitialized
	}
	unallocated := new(big.Int).Set(total)
	for _, grant := range allowances {
		amount := bigOrZero(grant.Amount)
		if amount.Sign() <= 0 {
			return ErrZeroAmount
		}
		if unallocated.Cmp(amount) < 0 {
			return ErrInsufficientUnallocated
		}
		unallocated.Sub(unallocated, amount)
		if err := v.state.PutVaultAllowance(grant.Address, amount); err != nil {
			return err
		}
	}
	return v.state.PutEmissionVault(&VaultState{
		Unallocated: unallocated,
		Schedule:    schedule.Clone(),
	})
}

// epochEmission records one epoch sized during the current operation but not
// yet persisted.
type epochEmission struct {
	epoch  uint64
	amount *big.Int
}

// materializeEmissions sizes every epoch between the vault's last update and
// e, deducting each epoch's emissions from the unallocated supply. Fixed
// initial amounts override the schedule for the earliest epochs. The sized
// epochs are returned for persistence on the commit path.
func (v *Vault) materializeEmissions(vs *VaultState, e uint64) []epochEmission {
	var sized []epochEmission
	for s := vs.UpdatedEpoch + 1; s <= e; s++ {
		amount, _ := vs.Schedule.EmissionsFor(s, vs.Unallocated)
		if s-1 < uint64(len(v.fixed)) {
			amount = new(big.Int).Set(v.fixed[s-1])
		}
		if amount.Cmp(vs.Unallocated) > 0 {
			amount = new(big.Int).Set(vs.Unallocated)
		}
		vs.Unallocated.Sub(vs.Unallocated, amount)
		sized = append(sized, epochEmission{epoch: s, amount: amount})
	}
	if e > vs.UpdatedEpoch {
		vs.UpdatedEpoch = e
	}
	return sized
}

func (v *Vault) putSized(sized []epochEmission) error {
	for _, entry := range sized {
		if err := v.state.PutEpochEmissions(entry.epoch, entry.amount); err != nil {
			return err
		}
	}
	return nil
}

// epochTotal resolves the sized emissions for epoch e, preferring entries
// sized during this operation over stored ones.
func (v *Vault) epochTotal(sized []epochEmission, e uint64) (*big.Int, error) {
	for _, entry := range sized {
		if entry.epoch == e {
			return new(big.Int).Set(entry.amount), nil
		}
	}
	stored, err := v.state.EpochEmissions(e)
	if err != nil {
		return nil, err
	}
	return bigOrZero(stored), nil
}

// AllocateNewEmissions sizes emissions through the current epoch and hands
// the calling receiver its vote-weighted share, capped by the receiver's
// maximum percentage. The capped excess stays unallocated. Callable once per
// receiver per epoch, by the receiver's registered address only.
func (v *Vault) AllocateNewEmissions(caller [20]byte, receiverID uint64) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if v.votes == nil {
		return nil, errVotesNotConfigured
	}
	if err := common.Guard(v.state, common.ModuleEmissions); err != nil {
		return nil, err
	}
	receiver, ok, err := v.votes.ReceiverByID(receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownReceiver
	}
	if caller != receiver.Address {
		return nil, ErrNotReceiver
	}
	e := v.clock.At(v.now())
	if e == 0 {
		return nil, ErrAllocationNotDue
	}
	vs, err := v.vaultState()
	if err != nil {
		return nil, err
	}
	allocated, err := v.state.ReceiverEpochAllocated(receiverID, e)
	if err != nil {
		return nil, err
	}
	if allocated {
		return nil, ErrAlreadyAllocated
	}

	sized := v.materializeEmissions(vs, e)
	total, err := v.epochTotal(sized, e)
	if err != nil {
		return nil, err
	}
	pct, err := v.votes.ReceiverVotePct(receiverID, e)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(total, pct.ToBig())
	amount.Div(amount, votePctScale)

	// The receiver cap returns oversubscribed weight to the pool.
	capExcess := new(big.Int)
	limit := new(big.Int).Mul(total, new(big.Int).SetUint64(receiver.MaxPct))
	limit.Div(limit, schedulePctBase)
	if amount.Cmp(limit) > 0 {
		capExcess.Sub(amount, limit)
		amount = limit
		vs.Unallocated.Add(vs.Unallocated, capExcess)
	}

	claimable, err := v.state.ReceiverAllocation(receiverID)
	if err != nil {
		return nil, err
	}
	claimable = bigOrZero(claimable)
	claimable.Add(claimable, amount)

	if err := v.putSized(sized); err != nil {
		return nil, err
	}
	if err := v.state.PutEmissionVault(vs); err != nil {
		return nil, err
	}
	if err := v.state.PutReceiverAllocation(receiverID, claimable); err != nil {
		return nil, err
	}
	if err := v.state.SetReceiverEpochAllocated(receiverID, e); err != nil {
		return nil, err
	}

	v.emit(events.EmissionsAllocated{
		Epoch:       e,
		ReceiverID:  receiverID,
		Amount:      new(big.Int).Set(amount),
		CapExcess:   capExcess,
		Unallocated: new(big.Int).Set(vs.Unallocated),
		Digest:      allocationDigest(e, receiverID, amount, vs.Unallocated),
	})
	return amount, nil
}

// Claim pays claimant out of the calling receiver's allocation, boosted by
// the claimant's own prior-epoch weight share.
func (v *Vault) Claim(caller, claimant [20]byte, receiverID uint64, amount *big.Int) (*big.Int, error) {
	return v.claim(caller, claimant, receiverID, nil, amount)
}

// ClaimWithDelegate pays claimant using the delegate's boost instead of the
// claimant's, with the delegate's published fee carved out of the payout.
func (v *Vault) ClaimWithDelegate(caller, claimant [20]byte, receiverID uint64, delegate [20]byte, amount *big.Int) (*big.Int, error) {
	return v.claim(caller, claimant, receiverID, &delegate, amount)
}

func (v *Vault) claim(caller, claimant [20]byte, receiverID uint64, delegate *[20]byte, amount *big.Int) (*big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if v.votes == nil {
		return nil, errVotesNotConfigured
	}
	if v.boost == nil {
		return nil, errBoostNotConfigured
	}
	if err := common.Guard(v.state, common.ModuleEmissions); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	receiver, ok, err := v.votes.ReceiverByID(receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownReceiver
	}
	if caller != receiver.Address {
		return nil, ErrNotReceiver
	}
	vs, err := v.vaultState()
	if err != nil {
		return nil, err
	}
	e := v.clock.At(v.now())
	sized := v.materializeEmissions(vs, e)
	total, err := v.epochTotal(sized, e)
	if err != nil {
		return nil, err
	}

	// Delegated claims borrow the delegate's boost position and owe the
	// delegate's fee.
	boostAccount := claimant
	feePct := uint64(0)
	var handler BoostDelegate
	if delegate != nil {
		record, ok, err := v.state.BoostDelegation(*delegate)
		if err != nil {
			return nil, err
		}
		if !ok || !record.Enabled {
			return nil, ErrDelegationDisabled
		}
		boostAccount = *delegate
		feePct = record.FeePct
		if record.Callback {
			handler = v.delegates[*delegate]
			if handler == nil {
				return nil, fmt.Errorf("%w: no handler registered", ErrDelegateCallback)
			}
		}
	}

	previous, err := v.state.AccountEpochClaimed(boostAccount, e)
	if err != nil {
		return nil, err
	}
	previous = bigOrZero(previous)
	if feePct == FeePctDynamic {
		feePct, err = handler.GetFeePct(claimant, receiver.Address, amount, previous, total)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDelegateFee, err)
		}
		if feePct > MaxSchedulePct {
			return nil, ErrInvalidFeePct
		}
	}

	claimable, err := v.state.ReceiverAllocation(receiverID)
	if err != nil {
		return nil, err
	}
	claimable = bigOrZero(claimable)
	if claimable.Cmp(amount) < 0 {
		return nil, ErrInsufficientAllocation
	}
	claimable.Sub(claimable, amount)

	boosted, err := v.boost.BoostedAmountWrite(boostAccount, amount, previous, total)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(boosted, new(big.Int).SetUint64(feePct))
	fee.Div(fee, schedulePctBase)
	payout := new(big.Int).Sub(boosted, fee)

	// The boost shave returns to the pool.
	vs.Unallocated.Add(vs.Unallocated, new(big.Int).Sub(amount, boosted))

	if handler != nil {
		if err := handler.DelegateCallback(claimant, receiver.Address, amount, boosted, fee, previous, total); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDelegateCallback, err)
		}
	}

	// The claimant's own delegation record opts it into payout notifications,
	// unless its handler was already consulted as this claim's fee delegate.
	if delegate == nil || *delegate != claimant {
		record, ok, err := v.state.BoostDelegation(claimant)
		if err != nil {
			return nil, err
		}
		if ok && record.Enabled && record.Callback {
			recv := v.delegates[claimant]
			if recv == nil {
				return nil, fmt.Errorf("%w: no handler registered", ErrReceiverCallback)
			}
			if err := recv.ReceiverCallback(claimant, receiver.Address, boosted); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrReceiverCallback, err)
			}
		}
	}

	lockEpochs := vs.Schedule.LockEpochs
	if err := v.payTokens(vs, claimant, payout, lockEpochs); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 && delegate != nil {
		if err := v.payTokens(vs, *delegate, fee, lockEpochs); err != nil {
			return nil, err
		}
	}

	previous.Add(previous, amount)
	if err := v.putSized(sized); err != nil {
		return nil, err
	}
	if err := v.state.PutEmissionVault(vs); err != nil {
		return nil, err
	}
	if err := v.state.PutReceiverAllocation(receiverID, claimable); err != nil {
		return nil, err
	}
	if err := v.state.PutAccountEpochClaimed(boostAccount, e, previous); err != nil {
		return nil, err
	}

	evt := events.EmissionsClaimed{
		Claimant:    claimant,
		Receiver:    receiver.Address,
		Requested:   new(big.Int).Set(amount),
		Boosted:     new(big.Int).Set(boosted),
		Fee:         fee,
		LockEpochs:  lockEpochs,
		Unallocated: new(big.Int).Set(vs.Unallocated),
	}
	if delegate != nil {
		evt.Delegate = *delegate
	}
	v.emit(evt)
	return payout, nil
}

// payTokens delivers a payout either as a transfer or, while the emission
// lock duration is live, as a lock created on the recipient's behalf. Raw
// dust below one lockable unit returns to the pool.
func (v *Vault) payTokens(vs *VaultState, to [20]byte, raw *big.Int, lockEpochs uint64) error {
	if raw.Sign() == 0 {
		return nil
	}
	if lockEpochs == 0 {
		return v.token.Transfer(to, raw)
	}
	if v.locks == nil {
		return errLocksNotConfigured
	}
	units := new(big.Int).Div(raw, v.ratio)
	dust := new(big.Int).Mul(units, v.ratio)
	dust.Sub(raw, dust)
	if dust.Sign() > 0 {
		vs.Unallocated.Add(vs.Unallocated, dust)
	}
	if units.Sign() == 0 {
		return nil
	}
	return v.locks.Lock(v.address, to, units.Uint64(), lockEpochs)
}

// SetBoostDelegation publishes or withdraws the account's boost-delegation
// terms. A FeePctDynamic fee requires a callback handler; any registered
// handler is also consulted after each delegated claim.
func (v *Vault) SetBoostDelegation(account [20]byte, enabled bool, feePct uint64, delegate BoostDelegate) error {
	if v.state == nil {
		return errStateNotConfigured
	}
	if err := common.Guard(v.state, common.ModuleEmissions); err != nil {
		return err
	}
	if !enabled {
		if err := v.state.PutBoostDelegation(account, &Delegation{}); err != nil {
			return err
		}
		delete(v.delegates, account)
		v.emit(events.BoostDelegationSet{Account: account})
		return nil
	}
	if feePct > MaxSchedulePct && feePct != FeePctDynamic {
		return ErrInvalidFeePct
	}
	if feePct == FeePctDynamic && delegate == nil {
		return fmt.Errorf("%w: dynamic fee requires a handler", ErrDelegateCallback)
	}
	record := &Delegation{Enabled: true, FeePct: feePct, Callback: delegate != nil}
	if err := v.state.PutBoostDelegation(account, record); err != nil {
		return err
	}
	if delegate != nil {
		v.delegates[account] = delegate
	} else {
		delete(v.delegates, account)
	}
	v.emit(events.BoostDelegationSet{Account: account, Enabled: true, FeePct: feePct})
	return nil
}

// ClaimableWithBoost previews the payout and fee for a prospective claim.
// Delegation problems degrade to a zero quote instead of failing: the view
// is advisory.
func (v *Vault) ClaimableWithBoost(claimant [20]byte, receiverID uint64, delegate [20]byte, amount *big.Int) (*big.Int, *big.Int, error) {
	if v.state == nil {
		return nil, nil, errStateNotConfigured
	}
	if v.votes == nil {
		return nil, nil, errVotesNotConfigured
	}
	if v.boost == nil {
		return nil, nil, errBoostNotConfigured
	}
	if amount == nil || amount.Sign() < 0 {
		return new(big.Int), new(big.Int), nil
	}
	receiver, ok, err := v.votes.ReceiverByID(receiverID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnknownReceiver
	}
	e := v.clock.At(v.now())
	total, err := v.state.EpochEmissions(e)
	if err != nil {
		return nil, nil, err
	}
	total = bigOrZero(total)

	boostAccount := claimant
	feePct := uint64(0)
	if delegate != ([20]byte{}) {
		record, ok, err := v.state.BoostDelegation(delegate)
		if err != nil {
			return nil, nil, err
		}
		if !ok || !record.Enabled {
			return new(big.Int), new(big.Int), nil
		}
		boostAccount = delegate
		feePct = record.FeePct
	}
	previous, err := v.state.AccountEpochClaimed(boostAccount, e)
	if err != nil {
		return nil, nil, err
	}
	previous = bigOrZero(previous)
	if feePct == FeePctDynamic {
		handler := v.delegates[delegate]
		if handler == nil {
			return new(big.Int), new(big.Int), nil
		}
		feePct, err = handler.GetFeePct(claimant, receiver.Address, amount, previous, total)
		if err != nil || feePct > MaxSchedulePct {
			return new(big.Int), new(big.Int), nil
		}
	}
	boosted, err := v.boost.BoostedAmount(boostAccount, amount, previous, total)
	if err != nil {
		return nil, nil, err
	}
	fee := new(big.Int).Mul(boosted, new(big.Int).SetUint64(feePct))
	fee.Div(fee, schedulePctBase)
	return new(big.Int).Sub(boosted, fee), fee, nil
}

// TransferTokens moves tokens out of the vault: the owner draws from the
// unallocated supply, everyone else from their bootstrapped allowance.
func (v *Vault) TransferTokens(caller, to [20]byte, amount *big.Int) error {
	if err := v.ready(); err != nil {
		return err
	}
	if err := common.Guard(v.state, common.ModuleEmissions); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	evt := events.AllowanceTransferred{Spender: caller, To: to, Amount: new(big.Int).Set(amount)}
	if caller == v.owner {
		vs, err := v.vaultState()
		if err != nil {
			return err
		}
		if vs.Unallocated.Cmp(amount) < 0 {
			return ErrInsufficientUnallocated
		}
		vs.Unallocated.Sub(vs.Unallocated, amount)
		if err := v.token.Transfer(to, amount); err != nil {
			return err
		}
		if err := v.state.PutEmissionVault(vs); err != nil {
			return err
		}
		evt.Unallocated = new(big.Int).Set(vs.Unallocated)
	} else {
		allowance, err := v.state.VaultAllowance(caller)
		if err != nil {
			return err
		}
		allowance = bigOrZero(allowance)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		allowance.Sub(allowance, amount)
		if err := v.token.Transfer(to, amount); err != nil {
			return err
		}
		if err := v.state.PutVaultAllowance(caller, allowance); err != nil {
			return err
		}
	}
	v.emit(evt)
	return nil
}

// UpdateSchedulePcts replaces the pending emission-percentage updates.
// Owner-gated; updates must be sorted and land after the epochs already
// sized.
func (v *Vault) UpdateSchedulePcts(caller [20]byte, updates []ScheduledPct) error {
	if v.state == nil {
		return errStateNotConfigured
	}
	if caller != v.owner {
		return ErrNotOwner
	}
	vs, err := v.vaultState()
	if err != nil {
		return err
	}
	if err := vs.Schedule.Reschedule(updates, vs.UpdatedEpoch); err != nil {
		return err
	}
	return v.state.PutEmissionVault(vs)
}

// Unallocated reports the supply not yet sized into any epoch.
func (v *Vault) Unallocated() (*big.Int, error) {
	if v.state == nil {
		return nil, errStateNotConfigured
	}
	vs, err := v.vaultState()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(vs.Unallocated), nil
}

// EpochEmissionsAt reports the sized emissions for an epoch, zero if the
// epoch has not been sized.
func (v *Vault) EpochEmissionsAt(e uint64) (*big.Int, error) {
	if v.state == nil {
		return nil, errStateNotConfigured
	}
	total, err := v.state.EpochEmissions(e)
	if err != nil {
		return nil, err
	}
	return bigOrZero(total), nil
}

// ReceiverClaimable reports a receiver's remaining allocated balance.
func (v *Vault) ReceiverClaimable(id uint64) (*big.Int, error) {
	if v.state == nil {
		return nil, errStateNotConfigured
	}
	claimable, err := v.state.ReceiverAllocation(id)
	if err != nil {
		return nil, err
	}
	return bigOrZero(claimable), nil
}

// AllowanceOf reports an address's remaining bootstrapped allowance.
func (v *Vault) AllowanceOf(addr [20]byte) (*big.Int, error) {
	if v.state == nil {
		return nil, errStateNotConfigured
	}
	allowance, err := v.state.VaultAllowance(addr)
	if err != nil {
		return nil, err
	}
	return bigOrZero(allowance), nil
}

// DelegationOf reports an account's published delegation terms.
func (v *Vault) DelegationOf(account [20]byte) (*Delegation, bool, error) {
	if v.state == nil {
		return nil, false, errStateNotConfigured
	}
	return v.state.BoostDelegation(account)
}

// allocationDigest fingerprints one epoch allocation for audit trails.
func allocationDigest(e, receiverID uint64, amount, unallocated *big.Int) [32]byte {
	buf := make([]byte, 0, 80)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], e)
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], receiverID)
	buf = append(buf, scratch[:]...)
	buf = append(buf, amount.FillBytes(make([]byte, 32))...)
	buf = append(buf, unallocated.FillBytes(make([]byte, 32))...)
	return blake3.Sum256(buf)
}
