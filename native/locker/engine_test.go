package locker

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"vetoken/core/epoch"
	"vetoken/core/events"
	"vetoken/native/common"
	"vetoken/native/decay"
)

var (
	testRatio  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	testSupply = new(big.Int).Mul(big.NewInt(1_000_000), testRatio)
)

type mockLockerState struct {
	accounts map[string]*Account
	totals   *decay.Ledger
	penalty  bool
	paused   map[string]bool
}

func newMockLockerState() *mockLockerState {
	return &mockLockerState{
		accounts: make(map[string]*Account),
		penalty:  true,
	}
}

func (m *mockLockerState) IsPaused(module string) bool { return m.paused[module] }

func (m *mockLockerState) LockerAccount(addr [20]byte) (*Account, error) {
	if acct, ok := m.accounts[string(addr[:])]; ok {
		return acct.Clone(), nil
	}
	return nil, nil
}

func (m *mockLockerState) PutLockerAccount(addr [20]byte, account *Account) error {
	m.accounts[string(addr[:])] = account.Clone()
	return nil
}

func (m *mockLockerState) LockerTotals() (*decay.Ledger, error) {
	if m.totals == nil {
		return nil, nil
	}
	return m.totals.Clone(), nil
}

func (m *mockLockerState) PutLockerTotals(ledger *decay.Ledger) error {
	m.totals = ledger.Clone()
	return nil
}

func (m *mockLockerState) PenaltyWithdrawalsEnabled() (bool, error) { return m.penalty, nil }

func (m *mockLockerState) SetPenaltyWithdrawalsEnabled(enabled bool) error {
	m.penalty = enabled
	return nil
}

type mockCustody struct {
	pulled map[string]*big.Int
	paid   map[string]*big.Int
}

func newMockCustody() *mockCustody {
	return &mockCustody{pulled: make(map[string]*big.Int), paid: make(map[string]*big.Int)}
}

func accumulate(m map[string]*big.Int, addr [20]byte, amount *big.Int) {
	key := string(addr[:])
	if current, ok := m[key]; ok {
		m[key] = new(big.Int).Add(current, amount)
		return
	}
	m[key] = new(big.Int).Set(amount)
}

func (m *mockCustody) TransferToLocker(from [20]byte, amount *big.Int) error {
	accumulate(m.pulled, from, amount)
	return nil
}

func (m *mockCustody) TransferFromLocker(to [20]byte, amount *big.Int) error {
	accumulate(m.paid, to, amount)
	return nil
}

func (m *mockCustody) pulledFrom(addr [20]byte) *big.Int {
	if amount, ok := m.pulled[string(addr[:])]; ok {
		return amount
	}
	return big.NewInt(0)
}

func (m *mockCustody) paidTo(addr [20]byte) *big.Int {
	if amount, ok := m.paid[string(addr[:])]; ok {
		return amount
	}
	return big.NewInt(0)
}

type unfreezeCall struct {
	account  [20]byte
	keepVote bool
}

type mockVotes struct {
	cleared  [][20]byte
	unfrozen []unfreezeCall
}

func (m *mockVotes) ClearRegisteredWeight(account [20]byte) error {
	m.cleared = append(m.cleared, account)
	return nil
}

func (m *mockVotes) UnfreezeVoteWeight(account [20]byte, keepVote bool) error {
	m.unfrozen = append(m.unfrozen, unfreezeCall{account: account, keepVote: keepVote})
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

const testEpochSeconds = 100

var testStart = time.Unix(1_700_000_000, 0).UTC()

// testEngine wires an engine against mocks with a settable clock. The
// returned advance function positions "now" at the given offset (in seconds)
// inside the given epoch.
func testEngine(t *testing.T) (*Engine, *mockLockerState, *mockCustody, func(epochNumber, offset int64)) {
	t.Helper()
	clock, err := epoch.NewClock(testStart, testEpochSeconds*time.Second)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	var owner, fees [20]byte
	owner[19] = 0xaa
	fees[19] = 0xfe
	engine, err := NewEngine(clock, Params{
		TotalSupply:      testSupply,
		LockToTokenRatio: testRatio,
		Owner:            owner,
		FeeReceiver:      fees,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	state := newMockLockerState()
	custody := newMockCustody()
	engine.SetState(state)
	engine.SetToken(custody)
	advance := func(epochNumber, offset int64) {
		at := testStart.Add(time.Duration(epochNumber*testEpochSeconds+offset) * time.Second)
		engine.SetNowFunc(func() time.Time { return at })
	}
	advance(0, 10)
	return engine, state, custody, advance
}

func addr(tag byte) [20]byte {
	var out [20]byte
	out[0] = tag
	return out
}

func raw(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), testRatio)
}

func accountWeight(t *testing.T, engine *Engine, account [20]byte, e uint64) uint64 {
	t.Helper()
	weight, err := engine.AccountWeightAt(account, e)
	if err != nil {
		t.Fatalf("account weight at %d: %v", e, err)
	}
	return weight
}

func totalWeight(t *testing.T, engine *Engine, e uint64) uint64 {
	t.Helper()
	weight, err := engine.TotalWeightAt(e)
	if err != nil {
		t.Fatalf("total weight at %d: %v", e, err)
	}
	return weight
}

func TestLockCreatesDecayingWeight(t *testing.T) {
	engine, _, custody, _ := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 5); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if got := custody.pulledFrom(alice); got.Cmp(raw(10)) != 0 {
		t.Fatalf("unexpected deposit: got %s want %s", got, raw(10))
	}
	for e, want := range map[uint64]uint64{0: 50, 1: 40, 4: 10, 5: 0, 9: 0} {
		if got := accountWeight(t, engine, alice, e); got != want {
			t.Fatalf("account weight at %d: got %d want %d", e, got, want)
		}
		if got := totalWeight(t, engine, e); got != want {
			t.Fatalf("total weight at %d: got %d want %d", e, got, want)
		}
	}

	locked, unlocked, frozen, err := engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 10 || unlocked != 0 || frozen != 0 {
		t.Fatalf("unexpected balances: locked=%d unlocked=%d frozen=%d", locked, unlocked, frozen)
	}
}

func TestLockValidation(t *testing.T) {
	engine, state, _, _ := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 0, 5); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if err := engine.Lock(alice, alice, 10, 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected duration rejection, got %v", err)
	}
	if err := engine.Lock(alice, alice, 10, MaxLockEpochs+1); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected duration rejection, got %v", err)
	}
	if err := engine.Lock(alice, alice, engine.MaxUnits()+1, 5); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected amount rejection, got %v", err)
	}

	state.paused = map[string]bool{common.ModuleLocker: true}
	if err := engine.Lock(alice, alice, 10, 5); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected pause rejection, got %v", err)
	}
}

func TestLockPromotesOneEpochInSecondHalf(t *testing.T) {
	engine, _, _, advance := testEngine(t)
	alice := addr(1)
	bob := addr(2)

	advance(0, 49)
	if err := engine.Lock(alice, alice, 10, 1); err != nil {
		t.Fatalf("lock first half: %v", err)
	}
	locks, _, err := engine.GetAccountActiveLocks(alice, 0)
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	if len(locks) != 1 || locks[0].EpochsToUnlock != 1 {
		t.Fatalf("expected single one-epoch lock, got %+v", locks)
	}

	advance(0, 50)
	if err := engine.Lock(bob, bob, 10, 1); err != nil {
		t.Fatalf("lock second half: %v", err)
	}
	locks, _, err = engine.GetAccountActiveLocks(bob, 0)
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	if len(locks) != 1 || locks[0].EpochsToUnlock != 2 {
		t.Fatalf("expected promotion to two epochs, got %+v", locks)
	}
}

func TestLockManyAggregatesDeposit(t *testing.T) {
	engine, _, custody, _ := testEngine(t)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	alice := addr(1)

	err := engine.LockMany(alice, alice, []LockInput{
		{Amount: 10, Epochs: 4},
		{Amount: 5, Epochs: 8},
	})
	if err != nil {
		t.Fatalf("lock many: %v", err)
	}

	if got := custody.pulledFrom(alice); got.Cmp(raw(15)) != 0 {
		t.Fatalf("unexpected deposit: got %s want %s", got, raw(15))
	}
	if got := accountWeight(t, engine, alice, 0); got != 80 {
		t.Fatalf("unexpected weight: got %d want 80", got)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected two events, got %d", len(emitter.events))
	}
	created, ok := emitter.events[0].(events.LockCreated)
	if !ok {
		t.Fatalf("unexpected event type %T", emitter.events[0])
	}
	if created.Amount != 10 || created.Epochs != 4 || created.Frozen {
		t.Fatalf("unexpected event payload: %+v", created)
	}

	err = engine.LockMany(alice, alice, []LockInput{{Amount: 10, Epochs: 4}, {Amount: 0, Epochs: 2}})
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected batch rejection, got %v", err)
	}
}

func TestExtendLockMovesBucket(t *testing.T) {
	engine, _, _, _ := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.ExtendLock(alice, 6, 4, 8); err != nil {
		t.Fatalf("extend: %v", err)
	}

	if got := accountWeight(t, engine, alice, 0); got != 64 {
		t.Fatalf("unexpected weight: got %d want 64", got)
	}
	locked, _, _, err := engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 10 {
		t.Fatalf("locked balance changed: got %d want 10", locked)
	}
	locks, _, err := engine.GetAccountActiveLocks(alice, 0)
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	if len(locks) != 2 || locks[0].EpochsToUnlock != 8 || locks[0].Amount != 6 || locks[1].EpochsToUnlock != 4 || locks[1].Amount != 4 {
		t.Fatalf("unexpected buckets: %+v", locks)
	}

	if err := engine.ExtendLock(alice, 6, 4, 8); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected missing bucket rejection, got %v", err)
	}
	if err := engine.ExtendLock(alice, 4, 4, 4); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected non-increasing duration rejection, got %v", err)
	}
}

func TestFreezeAndUnfreezeRoundTrip(t *testing.T) {
	engine, _, _, advance := testEngine(t)
	votes := &mockVotes{}
	engine.SetVoteNotifier(votes)
	alice := addr(1)

	if err := engine.Freeze(alice); !errors.Is(err, ErrNothingLocked) {
		t.Fatalf("expected empty freeze rejection, got %v", err)
	}
	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.Freeze(alice); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := engine.Freeze(alice); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("expected double freeze rejection, got %v", err)
	}

	for _, e := range []uint64{0, 4, 30} {
		if got := accountWeight(t, engine, alice, e); got != 520 {
			t.Fatalf("frozen weight at %d: got %d want 520", e, got)
		}
	}
	locked, _, frozen, err := engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 0 || frozen != 10 {
		t.Fatalf("unexpected balances: locked=%d frozen=%d", locked, frozen)
	}

	// Locks made while frozen accrue at the maximum weight.
	if err := engine.Lock(alice, alice, 5, 3); err != nil {
		t.Fatalf("lock while frozen: %v", err)
	}
	if got := accountWeight(t, engine, alice, 20); got != 780 {
		t.Fatalf("unexpected frozen weight: got %d want 780", got)
	}

	advance(2, 10)
	if err := engine.Unfreeze(alice, true); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if len(votes.unfrozen) != 1 || votes.unfrozen[0].account != alice || !votes.unfrozen[0].keepVote {
		t.Fatalf("unexpected vote notification: %+v", votes.unfrozen)
	}
	if got := accountWeight(t, engine, alice, 2); got != 780 {
		t.Fatalf("weight at unfreeze epoch: got %d want 780", got)
	}
	if got := accountWeight(t, engine, alice, 3); got != 765 {
		t.Fatalf("weight one epoch later: got %d want 765", got)
	}
	locked, _, frozen, err = engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 15 || frozen != 0 {
		t.Fatalf("unexpected balances after unfreeze: locked=%d frozen=%d", locked, frozen)
	}

	if err := engine.Unfreeze(alice, false); !errors.Is(err, ErrAccountNotFrozen) {
		t.Fatalf("expected unfrozen rejection, got %v", err)
	}
}

func TestWithdrawExpiredLocksPaysOut(t *testing.T) {
	engine, _, custody, advance := testEngine(t)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.WithdrawExpiredLocks(alice, 0); !errors.Is(err, ErrNothingUnlocked) {
		t.Fatalf("expected nothing unlocked, got %v", err)
	}

	advance(2, 10)
	locked, unlocked, _, err := engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 0 || unlocked != 10 {
		t.Fatalf("unexpected matured balances: locked=%d unlocked=%d", locked, unlocked)
	}

	if err := engine.WithdrawExpiredLocks(alice, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := custody.paidTo(alice); got.Cmp(raw(10)) != 0 {
		t.Fatalf("unexpected payout: got %s want %s", got, raw(10))
	}
	_, unlocked, _, err = engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if unlocked != 0 {
		t.Fatalf("unlocked balance not cleared: %d", unlocked)
	}
	last := emitter.events[len(emitter.events)-1]
	if _, ok := last.(events.LockWithdrawn); !ok {
		t.Fatalf("unexpected final event %T", last)
	}
}

func TestWithdrawExpiredLocksRelocks(t *testing.T) {
	engine, _, custody, advance := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	advance(2, 60)
	if err := engine.WithdrawExpiredLocks(alice, 1); err != nil {
		t.Fatalf("relock: %v", err)
	}

	if got := custody.paidTo(alice); got.Sign() != 0 {
		t.Fatalf("relock must not pay out, got %s", got)
	}
	locks, _, err := engine.GetAccountActiveLocks(alice, 0)
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	// Relocking in the second half of the epoch promotes one epoch to two.
	if len(locks) != 1 || locks[0].Amount != 10 || locks[0].EpochsToUnlock != 2 {
		t.Fatalf("unexpected relocked bucket: %+v", locks)
	}
}

func TestWithdrawMaxWithPenalty(t *testing.T) {
	engine, _, custody, _ := testEngine(t)
	votes := &mockVotes{}
	engine.SetVoteNotifier(votes)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	alice := addr(1)
	fees := addr(0)
	fees[19] = 0xfe

	if err := engine.Lock(alice, alice, 100, 26); err != nil {
		t.Fatalf("lock: %v", err)
	}
	paid, penalty, err := engine.WithdrawMaxWithPenalty(alice)
	if err != nil {
		t.Fatalf("withdraw max: %v", err)
	}

	if paid.Cmp(raw(50)) != 0 {
		t.Fatalf("unexpected payout: got %s want %s", paid, raw(50))
	}
	if penalty.Cmp(raw(50)) != 0 {
		t.Fatalf("unexpected penalty: got %s want %s", penalty, raw(50))
	}
	if got := custody.paidTo(alice); got.Cmp(raw(50)) != 0 {
		t.Fatalf("unexpected custody payout: got %s", got)
	}
	if got := custody.paidTo(fees); got.Cmp(raw(50)) != 0 {
		t.Fatalf("unexpected fee transfer: got %s", got)
	}
	if got := accountWeight(t, engine, alice, 0); got != 0 {
		t.Fatalf("weight not cleared: %d", got)
	}
	if len(votes.cleared) != 1 || votes.cleared[0] != alice {
		t.Fatalf("expected vote clearing, got %+v", votes.cleared)
	}
	last, ok := emitter.events[len(emitter.events)-1].(events.LockPenaltyWithdrawn)
	if !ok {
		t.Fatalf("unexpected final event %T", emitter.events[len(emitter.events)-1])
	}
	if last.Withdrawn.Cmp(raw(50)) != 0 || last.Penalty.Cmp(raw(50)) != 0 {
		t.Fatalf("unexpected event payload: %+v", last)
	}
}

func TestWithdrawWithPenaltyUsesUnlockedFirst(t *testing.T) {
	engine, _, custody, advance := testEngine(t)
	alice := addr(1)
	fees := addr(0)
	fees[19] = 0xfe

	if err := engine.Lock(alice, alice, 10, 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	advance(2, 10)
	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("second lock: %v", err)
	}

	// 10 units matured penalty-free, the remaining 2 raw tokens come out of
	// the four-epoch bucket: gross of 3 units, 1 raw token penalty.
	paid, penalty, err := engine.WithdrawWithPenalty(alice, raw(12))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(raw(12)) != 0 {
		t.Fatalf("unexpected payout: got %s want %s", paid, raw(12))
	}
	if penalty.Cmp(raw(1)) != 0 {
		t.Fatalf("unexpected penalty: got %s want %s", penalty, raw(1))
	}
	if got := custody.paidTo(alice); got.Cmp(raw(12)) != 0 {
		t.Fatalf("unexpected custody payout: got %s", got)
	}
	if got := custody.paidTo(fees); got.Cmp(raw(1)) != 0 {
		t.Fatalf("unexpected fee transfer: got %s", got)
	}

	locked, unlocked, _, err := engine.AccountBalances(alice)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if locked != 7 || unlocked != 0 {
		t.Fatalf("unexpected balances: locked=%d unlocked=%d", locked, unlocked)
	}
	if got := accountWeight(t, engine, alice, 2); got != 28 {
		t.Fatalf("unexpected weight: got %d want 28", got)
	}
}

func TestWithdrawWithPenaltySkipsFullLengthBuckets(t *testing.T) {
	engine, _, _, _ := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, MaxLockEpochs); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, _, err := engine.WithdrawMaxWithPenalty(alice); !errors.Is(err, ErrNothingUnlocked) {
		t.Fatalf("expected nothing withdrawable, got %v", err)
	}
	if _, _, err := engine.WithdrawWithPenalty(alice, raw(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := accountWeight(t, engine, alice, 0); got != 520 {
		t.Fatalf("full-length bucket must stay intact, got weight %d", got)
	}
}

func TestWithdrawWithPenaltyGating(t *testing.T) {
	engine, _, _, _ := testEngine(t)
	alice := addr(1)
	owner := addr(0)
	owner[19] = 0xaa

	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.SetPenaltyWithdrawalsEnabled(alice, false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected owner gate, got %v", err)
	}
	if err := engine.SetPenaltyWithdrawalsEnabled(owner, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, _, err := engine.WithdrawMaxWithPenalty(alice); !errors.Is(err, ErrPenaltyDisabled) {
		t.Fatalf("expected disabled rejection, got %v", err)
	}
	if err := engine.SetPenaltyWithdrawalsEnabled(owner, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, _, err := engine.WithdrawMaxWithPenalty(alice); err != nil {
		t.Fatalf("withdraw after enable: %v", err)
	}

	if err := engine.Freeze(alice); !errors.Is(err, ErrNothingLocked) {
		t.Fatalf("expected drained account, got %v", err)
	}
}

func TestWithdrawWithPenaltyRejectsFrozen(t *testing.T) {
	engine, _, _, _ := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.Freeze(alice); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, _, err := engine.WithdrawMaxWithPenalty(alice); !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("expected frozen rejection, got %v", err)
	}
}

func TestTotalWeightTracksAccounts(t *testing.T) {
	engine, _, _, advance := testEngine(t)
	alice := addr(1)
	bob := addr(2)
	carol := addr(3)

	if err := engine.Lock(alice, alice, 10, 4); err != nil {
		t.Fatalf("lock alice: %v", err)
	}
	if err := engine.Lock(bob, bob, 7, 2); err != nil {
		t.Fatalf("lock bob: %v", err)
	}
	if err := engine.Lock(carol, carol, 5, MaxLockEpochs); err != nil {
		t.Fatalf("lock carol: %v", err)
	}
	if err := engine.Freeze(carol); err != nil {
		t.Fatalf("freeze carol: %v", err)
	}

	advance(1, 10)
	if err := engine.ExtendLock(alice, 4, 3, 10); err != nil {
		t.Fatalf("extend alice: %v", err)
	}

	advance(2, 10)
	if _, _, err := engine.WithdrawMaxWithPenalty(bob); err != nil {
		t.Fatalf("withdraw bob: %v", err)
	}

	for e := uint64(0); e <= 12; e++ {
		var sum uint64
		for _, account := range [][20]byte{alice, bob, carol} {
			sum += accountWeight(t, engine, account, e)
		}
		if total := totalWeight(t, engine, e); total != sum {
			t.Fatalf("total weight diverged at epoch %d: total=%d sum=%d", e, total, sum)
		}
	}
}

func TestWeightWriteMaterializesState(t *testing.T) {
	engine, state, _, advance := testEngine(t)
	alice := addr(1)

	if err := engine.Lock(alice, alice, 10, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	advance(5, 10)
	weight, err := engine.AccountWeightWrite(alice)
	if err != nil {
		t.Fatalf("weight write: %v", err)
	}
	if weight != 0 {
		t.Fatalf("unexpected weight: got %d want 0", weight)
	}
	stored := state.accounts[string(alice[:])]
	if stored == nil {
		t.Fatalf("expected stored account")
	}
	if stored.Unlocked != 10 {
		t.Fatalf("maturity not persisted: unlocked=%d", stored.Unlocked)
	}
	if stored.Ledger.UpdatedEpoch() != 5 {
		t.Fatalf("ledger not materialized: epoch=%d", stored.Ledger.UpdatedEpoch())
	}

	if _, err := engine.TotalWeightWrite(); err != nil {
		t.Fatalf("total weight write: %v", err)
	}
	if state.totals.UpdatedEpoch() != 5 {
		t.Fatalf("totals not materialized: epoch=%d", state.totals.UpdatedEpoch())
	}
}
