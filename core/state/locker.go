package state

import (
	"fmt"

	"vetoken/native/decay"
	"vetoken/native/locker"
)

// storedLockerAccount is the serialized form of a lock account. The decay
// ledger travels as its snapshot so the stored record stays a flat RLP
// struct.
type storedLockerAccount struct {
	Unlocked uint64
	Frozen   uint64
	Ledger   decay.Snapshot
}

func lockerAccountKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf(lockerAccountKeyFormat, addr))
}

// LockerAccount loads the lock state for an address. Missing entries
// default to an empty account.
func (m *Manager) LockerAccount(addr [20]byte) (*locker.Account, error) {
	var stored storedLockerAccount
	ok, err := m.load(lockerAccountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return locker.NewAccount(), nil
	}
	ledger, err := decay.FromSnapshot(stored.Ledger)
	if err != nil {
		return nil, fmt.Errorf("state: locker account %x: %w", addr, err)
	}
	return &locker.Account{Unlocked: stored.Unlocked, Frozen: stored.Frozen, Ledger: ledger}, nil
}

// PutLockerAccount persists the lock state for an address.
func (m *Manager) PutLockerAccount(addr [20]byte, account *locker.Account) error {
	if account == nil {
		account = locker.NewAccount()
	}
	stored := storedLockerAccount{Unlocked: account.Unlocked, Frozen: account.Frozen}
	if account.Ledger != nil {
		stored.Ledger = account.Ledger.Snapshot()
	}
	return m.write(lockerAccountKey(addr), stored)
}

// LockerTotals loads the aggregate lock-weight ledger.
func (m *Manager) LockerTotals() (*decay.Ledger, error) {
	return m.loadLedger(lockerTotalsKeyBytes)
}

// PutLockerTotals persists the aggregate lock-weight ledger.
func (m *Manager) PutLockerTotals(ledger *decay.Ledger) error {
	return m.writeLedger(lockerTotalsKeyBytes, ledger)
}

// PenaltyWithdrawalsEnabled reports whether early exits with penalty are
// open. The flag defaults to off.
func (m *Manager) PenaltyWithdrawalsEnabled() (bool, error) {
	var enabled bool
	ok, err := m.load(lockerPenaltyKeyBytes, &enabled)
	if err != nil || !ok {
		return false, err
	}
	return enabled, nil
}

// SetPenaltyWithdrawalsEnabled flips the early-exit flag.
func (m *Manager) SetPenaltyWithdrawalsEnabled(enabled bool) error {
	return m.write(lockerPenaltyKeyBytes, enabled)
}

func (m *Manager) loadLedger(key []byte) (*decay.Ledger, error) {
	var snapshot decay.Snapshot
	ok, err := m.load(key, &snapshot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return decay.NewLedger(), nil
	}
	ledger, err := decay.FromSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("state: ledger %q: %w", key, err)
	}
	return ledger, nil
}

func (m *Manager) writeLedger(key []byte, ledger *decay.Ledger) error {
	if ledger == nil {
		ledger = decay.NewLedger()
	}
	return m.write(key, ledger.Snapshot())
}
