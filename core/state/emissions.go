package state

import (
	"fmt"
	"math/big"

	"vetoken/native/emissions"
)

func epochEmissionsKey(e uint64) []byte {
	return []byte(fmt.Sprintf(epochEmissionsKeyFormat, e))
}

func receiverAllocKey(id uint64) []byte {
	return []byte(fmt.Sprintf(receiverAllocKeyFormat, id))
}

func epochAllocatedKey(id, e uint64) []byte {
	return []byte(fmt.Sprintf(epochAllocatedKeyFormat, id, e))
}

func accountClaimedKey(account [20]byte, e uint64) []byte {
	return []byte(fmt.Sprintf(accountClaimedKeyFormat, account, e))
}

func delegationKey(account [20]byte) []byte {
	return []byte(fmt.Sprintf(delegationKeyFormat, account))
}

func allowanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf(allowanceKeyFormat, addr))
}

// EmissionVault loads the vault aggregate. A nil result means the vault has
// not been bootstrapped.
func (m *Manager) EmissionVault() (*emissions.VaultState, error) {
	vs := &emissions.VaultState{}
	ok, err := m.load(vaultKeyBytes, vs)
	if err != nil || !ok {
		return nil, err
	}
	return vs, nil
}

// PutEmissionVault persists the vault aggregate.
func (m *Manager) PutEmissionVault(vs *emissions.VaultState) error {
	if vs == nil {
		return fmt.Errorf("state: vault state required")
	}
	return m.write(vaultKeyBytes, vs)
}

// EpochEmissions returns the sized emissions for an epoch, or nil when the
// epoch has not been sized yet.
func (m *Manager) EpochEmissions(e uint64) (*big.Int, error) {
	return m.loadBig(epochEmissionsKey(e))
}

// PutEpochEmissions persists the sized emissions for an epoch.
func (m *Manager) PutEpochEmissions(e uint64, amount *big.Int) error {
	return m.writeBig(epochEmissionsKey(e), amount)
}

// ReceiverAllocation returns the receiver's claimable balance.
func (m *Manager) ReceiverAllocation(id uint64) (*big.Int, error) {
	return m.loadBig(receiverAllocKey(id))
}

// PutReceiverAllocation persists the receiver's claimable balance.
func (m *Manager) PutReceiverAllocation(id uint64, amount *big.Int) error {
	return m.writeBig(receiverAllocKey(id), amount)
}

// ReceiverEpochAllocated reports whether the receiver has taken its
// allocation for the epoch.
func (m *Manager) ReceiverEpochAllocated(id, e uint64) (bool, error) {
	return m.has(epochAllocatedKey(id, e))
}

// SetReceiverEpochAllocated marks the receiver's allocation for the epoch
// as taken.
func (m *Manager) SetReceiverEpochAllocated(id, e uint64) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return m.db.Put(epochAllocatedKey(id, e), []byte{1})
}

// AccountEpochClaimed returns the gross amount the account has claimed
// against an epoch, or nil when nothing has been claimed.
func (m *Manager) AccountEpochClaimed(account [20]byte, e uint64) (*big.Int, error) {
	return m.loadBig(accountClaimedKey(account, e))
}

// PutAccountEpochClaimed persists the account's gross claimed amount for an
// epoch.
func (m *Manager) PutAccountEpochClaimed(account [20]byte, e uint64, amount *big.Int) error {
	return m.writeBig(accountClaimedKey(account, e), amount)
}

// BoostDelegation loads the account's published delegation record. The
// second return distinguishes a withdrawn record from one never published.
func (m *Manager) BoostDelegation(account [20]byte) (*emissions.Delegation, bool, error) {
	record := &emissions.Delegation{}
	ok, err := m.load(delegationKey(account), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// PutBoostDelegation persists the account's delegation record.
func (m *Manager) PutBoostDelegation(account [20]byte, delegation *emissions.Delegation) error {
	if delegation == nil {
		delegation = &emissions.Delegation{}
	}
	return m.write(delegationKey(account), delegation)
}

// VaultAllowance returns the drawable balance granted to an address at
// bootstrap.
func (m *Manager) VaultAllowance(addr [20]byte) (*big.Int, error) {
	return m.loadBig(allowanceKey(addr))
}

// PutVaultAllowance persists the drawable balance for an address.
func (m *Manager) PutVaultAllowance(addr [20]byte, amount *big.Int) error {
	return m.writeBig(allowanceKey(addr), amount)
}

func (m *Manager) loadBig(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.load(key, amount)
	if err != nil || !ok {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) writeBig(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.write(key, amount)
}
