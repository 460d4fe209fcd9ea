package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"vetoken/config"
	"vetoken/core/epoch"
	"vetoken/core/state"
	"vetoken/core/types"
	"vetoken/crypto"
	"vetoken/native/boost"
	"vetoken/native/emissions"
	"vetoken/native/locker"
	"vetoken/native/token"
	"vetoken/native/voting"
	"vetoken/observability"
	"vetoken/storage"
)

// ErrGenesisMismatch reports a configured genesis instant that disagrees with
// the one already pinned in storage. Moving the genesis would silently shift
// every epoch boundary, so the node refuses to start instead.
var ErrGenesisMismatch = errors.New("node: configured genesis time differs from the stored one")

// Node is the central controller: it owns the storage-backed state manager,
// the epoch clock and the protocol engines, serializes every mutating
// operation behind a single writer lock, and fans emitted events out to
// stream subscribers. Engines stage their aggregates in memory and persist
// only on success, so the writer lock is what keeps concurrent readers from
// observing a half-applied operation.
type Node struct {
	db     storage.Database
	state  *state.Manager
	clock  *epoch.Clock
	tokens *token.Ledger
	locks  *locker.Engine
	votes  *voting.Engine
	boost  *boost.Calculator
	vault  *emissions.Vault

	owner      [20]byte
	lockerAddr [20]byte
	vaultAddr  [20]byte

	nowFn func() time.Time

	mu sync.RWMutex

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamSubs    map[uint64]chan types.Event
	streamHistory []types.Event
}

// NewNode opens the protocol over the provided database. On an empty
// database it pins the genesis instant, mints the full token supply to the
// vault's custody account and bootstraps the emission vault with the
// configured schedule and allowances; on later boots those records are
// loaded back and the same wiring is rebuilt around them.
func NewNode(db storage.Database, rt *config.Runtime) (*Node, error) {
	if db == nil {
		return nil, errors.New("node: database not configured")
	}
	if rt == nil {
		return nil, errors.New("node: runtime parameters not configured")
	}
	manager := state.NewManager(db)

	genesis, err := pinGenesis(manager, rt.GenesisTime)
	if err != nil {
		return nil, err
	}
	start := epoch.AlignedStart(genesis, rt.EpochLength, rt.StartOffset)
	clock, err := epoch.NewClock(start, rt.EpochLength)
	if err != nil {
		return nil, err
	}

	n := &Node{
		db:         db,
		state:      manager,
		clock:      clock,
		owner:      rt.Owner,
		lockerAddr: rt.Locker,
		vaultAddr:  rt.Vault,
		nowFn:      func() time.Time { return time.Now().UTC() },
		streamSubs: make(map[uint64]chan types.Event),
	}

	n.tokens = token.NewLedger()
	n.tokens.SetState(manager)

	n.locks, err = locker.NewEngine(clock, locker.Params{
		TotalSupply:      rt.TotalSupply,
		LockToTokenRatio: rt.LockToTokenRatio,
		Owner:            rt.Owner,
		FeeReceiver:      rt.FeeReceiver,
	})
	if err != nil {
		return nil, err
	}
	n.locks.SetState(manager)
	n.locks.SetToken(token.NewLockerCustody(n.tokens, rt.Locker))
	n.locks.SetEmitter(n)

	n.votes, err = voting.NewEngine(clock, rt.Owner)
	if err != nil {
		return nil, err
	}
	n.votes.SetState(manager)
	n.votes.SetLockSource(n.locks)
	n.votes.SetEmitter(n)
	n.locks.SetVoteNotifier(n.votes)

	n.boost, err = boost.NewCalculator(clock, boost.Params{
		GraceEpochs:     rt.BoostGraceEpochs,
		MaxBoostMult:    rt.MaxBoostMult,
		MaxBoostablePct: rt.MaxBoostablePct,
		DecayBoostPct:   rt.DecayBoostPct,
	})
	if err != nil {
		return nil, err
	}
	n.boost.SetState(manager)
	n.boost.SetWeightSource(n.locks)

	n.vault, err = emissions.NewVault(clock, emissions.Params{
		Address:             rt.Vault,
		Owner:               rt.Owner,
		LockToTokenRatio:    rt.LockToTokenRatio,
		FixedInitialAmounts: rt.FixedInitialAmounts,
	})
	if err != nil {
		return nil, err
	}
	n.vault.SetState(manager)
	n.vault.SetToken(token.NewAccountCustody(n.tokens, rt.Vault))
	n.vault.SetVoteSource(n.votes)
	n.vault.SetLockProvider(n.locks)
	n.vault.SetBoostCalculator(n.boost)
	n.vault.SetEmitter(n)

	if err := n.bootstrap(rt); err != nil {
		return nil, err
	}
	observability.Engine().SetEpoch(clock.At(n.nowFn()))
	return n, nil
}

// pinGenesis resolves the deployment instant: the stored record wins, a
// configured instant seeds the record on first boot, and with neither the
// current wall clock is pinned.
func pinGenesis(manager *state.Manager, configured time.Time) (time.Time, error) {
	stored, ok, err := manager.GenesisTime()
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		if !configured.IsZero() && !configured.Equal(stored) {
			return time.Time{}, fmt.Errorf("%w: stored %s, configured %s",
				ErrGenesisMismatch, stored.Format(time.RFC3339), configured.Format(time.RFC3339))
		}
		return stored, nil
	}
	genesis := configured
	if genesis.IsZero() {
		genesis = time.Now().UTC().Truncate(time.Second)
	}
	if err := manager.SetGenesisTime(genesis); err != nil {
		return time.Time{}, err
	}
	return genesis, nil
}

// bootstrap performs the first-boot supply mint and vault initialization.
// Each step is gated on its own stored record so a crash between them
// resumes cleanly.
func (n *Node) bootstrap(rt *config.Runtime) error {
	supply, err := n.tokens.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Sign() == 0 {
		if err := n.tokens.Mint(rt.Vault, rt.TotalSupply); err != nil {
			return err
		}
		if err := n.state.SetPenaltyWithdrawalsEnabled(rt.PenaltyWithdrawals); err != nil {
			return err
		}
	}

	vs, err := n.state.EmissionVault()
	if err != nil {
		return err
	}
	if vs != nil {
		return nil
	}
	updates := make([]emissions.ScheduledPct, len(rt.EpochPctSchedule))
	for i, update := range rt.EpochPctSchedule {
		updates[i] = emissions.ScheduledPct{Epoch: update.Epoch, Pct: update.Pct}
	}
	schedule, err := emissions.NewSchedule(rt.InitialPerEpochPct, rt.InitialLockDuration, rt.LockEpochsDecayRate, updates)
	if err != nil {
		return err
	}
	allowances := make([]emissions.Allowance, len(rt.Allowances))
	for i, grant := range rt.Allowances {
		allowances[i] = emissions.Allowance{Address: grant.Address, Amount: grant.Amount}
	}
	return n.vault.Bootstrap(rt.TotalSupply, schedule, allowances)
}

// SetNowFunc overrides the wall clock for the node and every engine.
func (n *Node) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	n.nowFn = now
	n.locks.SetNowFunc(now)
	n.votes.SetNowFunc(now)
	n.boost.SetNowFunc(now)
	n.vault.SetNowFunc(now)
}

// SetReceiverHook wires the integration notified of receiver ids as they are
// assigned.
func (n *Node) SetReceiverHook(hook voting.ReceiverHook) {
	n.votes.SetReceiverHook(hook)
}

// Clock exposes the epoch clock derived from the pinned genesis.
func (n *Node) Clock() *epoch.Clock { return n.clock }

// State exposes the underlying state manager. Callers must not write
// through it while the node is serving.
func (n *Node) State() *state.Manager { return n.state }

// CurrentEpoch returns the epoch the node's clock is in right now.
func (n *Node) CurrentEpoch() uint64 {
	return n.clock.At(n.nowFn())
}

// mutate runs fn under the writer lock and records the operation outcome.
func (n *Node) mutate(module, op string, fn func() error) error {
	if n == nil {
		return errors.New("node unavailable")
	}
	start := time.Now()
	n.mu.Lock()
	err := fn()
	n.mu.Unlock()
	observability.Engine().Observe(module, op, err, time.Since(start))
	observability.Engine().SetEpoch(n.clock.At(n.nowFn()))
	return err
}

// Lock locks amount units of payer's tokens under account for the given
// number of epochs.
func (n *Node) Lock(payer, account [20]byte, amount, epochs uint64) error {
	return n.mutate("locker", "lock", func() error {
		return n.locks.Lock(payer, account, amount, epochs)
	})
}

// LockMany creates several lock buckets with a single token transfer.
func (n *Node) LockMany(payer, account [20]byte, inputs []locker.LockInput) error {
	return n.mutate("locker", "lock_many", func() error {
		return n.locks.LockMany(payer, account, inputs)
	})
}

// ExtendLock moves amount units from an existing bucket to a longer one.
func (n *Node) ExtendLock(account [20]byte, amount, epochs, newEpochs uint64) error {
	return n.mutate("locker", "extend", func() error {
		return n.locks.ExtendLock(account, amount, epochs, newEpochs)
	})
}

// ExtendMany applies several extensions under one materialization.
func (n *Node) ExtendMany(account [20]byte, inputs []locker.ExtendInput) error {
	return n.mutate("locker", "extend_many", func() error {
		return n.locks.ExtendMany(account, inputs)
	})
}

// Freeze converts the account's decaying locks into frozen weight.
func (n *Node) Freeze(account [20]byte) error {
	return n.mutate("locker", "freeze", func() error {
		return n.locks.Freeze(account)
	})
}

// Unfreeze resumes decay for a frozen account at the maximum duration.
func (n *Node) Unfreeze(account [20]byte, keepVote bool) error {
	return n.mutate("locker", "unfreeze", func() error {
		return n.locks.Unfreeze(account, keepVote)
	})
}

// WithdrawExpiredLocks pays out the account's matured balance, or relocks it
// when relockEpochs is positive.
func (n *Node) WithdrawExpiredLocks(account [20]byte, relockEpochs uint64) error {
	return n.mutate("locker", "withdraw_expired", func() error {
		return n.locks.WithdrawExpiredLocks(account, relockEpochs)
	})
}

// WithdrawWithPenalty exits early, paying the linear early-exit penalty to
// the fee receiver. It returns the net payout and the penalty charged.
func (n *Node) WithdrawWithPenalty(account [20]byte, amount *big.Int) (net, penalty *big.Int, err error) {
	err = n.mutate("locker", "withdraw_penalty", func() error {
		var inner error
		net, penalty, inner = n.locks.WithdrawWithPenalty(account, amount)
		return inner
	})
	return net, penalty, err
}

// WithdrawMaxWithPenalty drains every withdrawable unit, leaving only
// full-duration buckets whose penalty would consume them entirely.
func (n *Node) WithdrawMaxWithPenalty(account [20]byte) (net, penalty *big.Int, err error) {
	err = n.mutate("locker", "withdraw_penalty_max", func() error {
		var inner error
		net, penalty, inner = n.locks.WithdrawMaxWithPenalty(account)
		return inner
	})
	return net, penalty, err
}

// SetPenaltyWithdrawalsEnabled flips the owner-controlled early-exit switch.
func (n *Node) SetPenaltyWithdrawalsEnabled(caller [20]byte, enabled bool) error {
	return n.mutate("locker", "set_penalty_enabled", func() error {
		return n.locks.SetPenaltyWithdrawalsEnabled(caller, enabled)
	})
}

// RegisterAccountWeight snapshots the account's current locks as its voting
// basis.
func (n *Node) RegisterAccountWeight(account [20]byte, minEpochs uint64) error {
	return n.mutate("voting", "register_weight", func() error {
		return n.votes.RegisterAccountWeight(account, minEpochs)
	})
}

// RegisterAccountWeightAndVote registers the weight basis and casts votes in
// one operation.
func (n *Node) RegisterAccountWeightAndVote(account [20]byte, minEpochs uint64, votes []voting.Vote) error {
	return n.mutate("voting", "register_and_vote", func() error {
		return n.votes.RegisterAccountWeightAndVote(account, minEpochs, votes)
	})
}

// Vote points registered weight at receivers.
func (n *Node) Vote(account [20]byte, votes []voting.Vote, clearPrevious bool) error {
	return n.mutate("voting", "vote", func() error {
		return n.votes.Vote(account, votes, clearPrevious)
	})
}

// ClearVote removes the account's active votes.
func (n *Node) ClearVote(account [20]byte) error {
	return n.mutate("voting", "clear_vote", func() error {
		return n.votes.ClearVote(account)
	})
}

// ClearRegisteredWeight removes the account's votes and registered basis.
func (n *Node) ClearRegisteredWeight(account [20]byte) error {
	return n.mutate("voting", "clear_weight", func() error {
		return n.votes.ClearRegisteredWeight(account)
	})
}

// RegisterReceiver adds an emission receiver and returns its id.
func (n *Node) RegisterReceiver(caller, address [20]byte) (id uint64, err error) {
	err = n.mutate("voting", "register_receiver", func() error {
		var inner error
		id, inner = n.votes.RegisterReceiver(caller, address)
		return inner
	})
	return id, err
}

// SetReceiverMaxPct caps the share of epoch emissions a receiver may take.
func (n *Node) SetReceiverMaxPct(caller [20]byte, id, maxPct uint64) error {
	return n.mutate("voting", "set_receiver_max_pct", func() error {
		return n.votes.SetReceiverMaxPct(caller, id, maxPct)
	})
}

// AllocateEmissions sizes and allocates the receiver's share of the current
// epoch's emissions. The caller must be the receiver's registered address.
func (n *Node) AllocateEmissions(caller [20]byte, receiverID uint64) (allocated *big.Int, err error) {
	err = n.mutate("emissions", "allocate", func() error {
		var inner error
		allocated, inner = n.vault.AllocateNewEmissions(caller, receiverID)
		return inner
	})
	return allocated, err
}

// Claim pays out part of a receiver's allocation to the claimant, boosted by
// the claimant's prior-epoch weight share.
func (n *Node) Claim(caller, claimant [20]byte, receiverID uint64, amount *big.Int) (claimed *big.Int, err error) {
	err = n.mutate("emissions", "claim", func() error {
		var inner error
		claimed, inner = n.vault.Claim(caller, claimant, receiverID, amount)
		return inner
	})
	return claimed, err
}

// ClaimWithDelegate is Claim with the boost computed against a delegate's
// published terms.
func (n *Node) ClaimWithDelegate(caller, claimant [20]byte, receiverID uint64, delegate [20]byte, amount *big.Int) (claimed *big.Int, err error) {
	err = n.mutate("emissions", "claim_delegated", func() error {
		var inner error
		claimed, inner = n.vault.ClaimWithDelegate(caller, claimant, receiverID, delegate, amount)
		return inner
	})
	return claimed, err
}

// SetBoostDelegation publishes or withdraws the account's boost-delegation
// terms.
func (n *Node) SetBoostDelegation(account [20]byte, enabled bool, feePct uint64, delegate emissions.BoostDelegate) error {
	return n.mutate("emissions", "set_delegation", func() error {
		return n.vault.SetBoostDelegation(account, enabled, feePct, delegate)
	})
}

// TransferTokens moves unallocated supply out of the vault against the
// caller's allowance.
func (n *Node) TransferTokens(caller, to [20]byte, amount *big.Int) error {
	return n.mutate("emissions", "transfer_allowance", func() error {
		return n.vault.TransferTokens(caller, to, amount)
	})
}

// UpdateSchedulePcts replaces the pending per-epoch emission percentages.
func (n *Node) UpdateSchedulePcts(caller [20]byte, updates []emissions.ScheduledPct) error {
	return n.mutate("emissions", "update_schedule", func() error {
		return n.vault.UpdateSchedulePcts(caller, updates)
	})
}

// SetModulePaused flips a module's pause switch. Only the owner may do so.
func (n *Node) SetModulePaused(caller [20]byte, module string, paused bool) error {
	return n.mutate(module, "set_paused", func() error {
		if caller != n.owner {
			return errors.New("node: caller is not the owner")
		}
		return n.state.SetModulePaused(module, paused)
	})
}

// Status summarizes the protocol at the node's current epoch.
type Status struct {
	Epoch              uint64
	EpochStart         time.Time
	EpochEnd           time.Time
	GenesisStart       time.Time
	TotalLockWeight    uint64
	TotalVoteWeight    uint64
	ReceiverCount      uint64
	TokenSupply        *big.Int
	VaultBalance       *big.Int
	LockerBalance      *big.Int
	Unallocated        *big.Int
	PenaltyWithdrawals bool
}

// AccountInfo is the full per-account view: token balance, lock balances,
// projected weight and the registered voting record.
type AccountInfo struct {
	Address      [20]byte
	TokenBalance *big.Int
	Locked       uint64
	Unlocked     uint64
	Frozen       uint64
	Weight       uint64
	ActiveLocks  []locker.ActiveLock
	Votes        *voting.AccountVotes
	Delegation   *emissions.Delegation
	Allowance    *big.Int
}

// ReceiverInfo is the per-receiver view: registry record, projected weight,
// the share it would be allocated this epoch and its unclaimed balance.
type ReceiverInfo struct {
	ID        uint64
	Address   [20]byte
	MaxPct    uint64
	Weight    uint64
	VotePct   *uint256.Int
	Claimable *big.Int
}

// EpochInfo describes the current epoch window.
type EpochInfo struct {
	Epoch       uint64
	Start       time.Time
	End         time.Time
	Length      time.Duration
	SecondHalf  bool
	GenesisTime time.Time
}

var votePctScale = uint256.NewInt(1_000_000_000_000_000_000)

// Status reports the protocol-wide aggregates at the current epoch.
func (n *Node) Status() (*Status, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	now := n.clock.At(n.nowFn())
	st := &Status{
		Epoch:        now,
		EpochStart:   n.clock.StartOf(now),
		EpochEnd:     n.clock.StartOf(now + 1),
		GenesisStart: n.clock.StartTime(),
	}
	var err error
	if st.TotalLockWeight, err = n.locks.TotalWeightAt(now); err != nil {
		return nil, err
	}
	if st.TotalVoteWeight, err = n.votes.TotalVoteWeightAt(now); err != nil {
		return nil, err
	}
	if st.ReceiverCount, err = n.votes.ReceiverCount(); err != nil {
		return nil, err
	}
	if st.TokenSupply, err = n.tokens.TotalSupply(); err != nil {
		return nil, err
	}
	if st.VaultBalance, err = n.tokens.BalanceOf(n.vaultAddr); err != nil {
		return nil, err
	}
	if st.LockerBalance, err = n.tokens.BalanceOf(n.lockerAddr); err != nil {
		return nil, err
	}
	if st.Unallocated, err = n.vault.Unallocated(); err != nil {
		return nil, err
	}
	if st.PenaltyWithdrawals, err = n.state.PenaltyWithdrawalsEnabled(); err != nil {
		return nil, err
	}
	return st, nil
}

// AccountInfo resolves the account view at the current epoch.
func (n *Node) AccountInfo(account [20]byte) (*AccountInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	now := n.clock.At(n.nowFn())
	info := &AccountInfo{Address: account}
	var err error
	if info.TokenBalance, err = n.tokens.BalanceOf(account); err != nil {
		return nil, err
	}
	if info.Locked, info.Unlocked, info.Frozen, err = n.locks.AccountBalances(account); err != nil {
		return nil, err
	}
	if info.Weight, err = n.locks.AccountWeightAt(account, now); err != nil {
		return nil, err
	}
	if info.ActiveLocks, _, err = n.locks.GetAccountActiveLocks(account, 0); err != nil {
		return nil, err
	}
	if info.Votes, err = n.votes.AccountVoteState(account); err != nil {
		return nil, err
	}
	delegation, ok, err := n.vault.DelegationOf(account)
	if err != nil {
		return nil, err
	}
	if ok {
		info.Delegation = delegation
	}
	if info.Allowance, err = n.vault.AllowanceOf(account); err != nil {
		return nil, err
	}
	return info, nil
}

// ReceiverInfo resolves one receiver's view at the current epoch. The second
// return reports whether the receiver exists.
func (n *Node) ReceiverInfo(id uint64) (*ReceiverInfo, bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.receiverInfo(id, n.clock.At(n.nowFn()))
}

// Receivers lists every registered receiver in id order.
func (n *Node) Receivers() ([]ReceiverInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count, err := n.votes.ReceiverCount()
	if err != nil {
		return nil, err
	}
	now := n.clock.At(n.nowFn())
	infos := make([]ReceiverInfo, 0, count)
	for id := uint64(1); id <= count; id++ {
		info, ok, err := n.receiverInfo(id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// receiverInfo projects a receiver's weight and vote share without touching
// stored ledgers; allocations use the materializing path instead.
func (n *Node) receiverInfo(id, now uint64) (*ReceiverInfo, bool, error) {
	receiver, ok, err := n.votes.ReceiverByID(id)
	if err != nil || !ok {
		return nil, false, err
	}
	info := &ReceiverInfo{ID: receiver.ID, Address: receiver.Address, MaxPct: receiver.MaxPct}
	if info.Weight, err = n.votes.ReceiverWeightAt(id, now); err != nil {
		return nil, false, err
	}
	info.VotePct = new(uint256.Int)
	if now > 0 {
		prior := now - 1
		weight, err := n.votes.ReceiverWeightAt(id, prior)
		if err != nil {
			return nil, false, err
		}
		total, err := n.votes.TotalVoteWeightAt(prior)
		if err != nil {
			return nil, false, err
		}
		if total > 0 && weight > 0 {
			info.VotePct.SetUint64(weight)
			info.VotePct.Mul(info.VotePct, votePctScale)
			info.VotePct.Div(info.VotePct, new(uint256.Int).SetUint64(total))
		}
	}
	if info.Claimable, err = n.vault.ReceiverClaimable(id); err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// EpochInfo describes the window the node's clock is in right now.
func (n *Node) EpochInfo() *EpochInfo {
	now := n.nowFn()
	current := n.clock.At(now)
	return &EpochInfo{
		Epoch:       current,
		Start:       n.clock.StartOf(current),
		End:         n.clock.StartOf(current + 1),
		Length:      n.clock.EpochLength(),
		SecondHalf:  n.clock.InSecondHalf(now),
		GenesisTime: n.clock.StartTime(),
	}
}

// OwnerAddress returns the configured protocol owner.
func (n *Node) OwnerAddress() crypto.Address {
	return crypto.AddressFromRaw(n.owner)
}
