package state

import (
	"fmt"

	"vetoken/native/decay"
	"vetoken/native/voting"
)

func votingAccountKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf(votingAccountKeyFormat, addr))
}

func votingReceiverKey(id uint64) []byte {
	return []byte(fmt.Sprintf(votingReceiverKeyFormat, id))
}

func votingLedgerKey(id uint64) []byte {
	return []byte(fmt.Sprintf(votingLedgerKeyFormat, id))
}

// VoterAccount loads the voting record for an address. Missing entries
// default to an unregistered record.
func (m *Manager) VoterAccount(addr [20]byte) (*voting.AccountVotes, error) {
	account := voting.NewAccountVotes()
	ok, err := m.load(votingAccountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return voting.NewAccountVotes(), nil
	}
	return account, nil
}

// PutVoterAccount persists the voting record for an address.
func (m *Manager) PutVoterAccount(addr [20]byte, account *voting.AccountVotes) error {
	if account == nil {
		account = voting.NewAccountVotes()
	}
	return m.write(votingAccountKey(addr), account)
}

// ReceiverCount returns how many receivers have been registered.
func (m *Manager) ReceiverCount() (uint64, error) {
	var count uint64
	ok, err := m.load(votingReceiversKeyBytes, &count)
	if err != nil || !ok {
		return 0, err
	}
	return count, nil
}

// PutReceiverCount persists the receiver registry size.
func (m *Manager) PutReceiverCount(count uint64) error {
	return m.write(votingReceiversKeyBytes, count)
}

// VoteReceiver loads a receiver registry entry by id.
func (m *Manager) VoteReceiver(id uint64) (*voting.Receiver, bool, error) {
	receiver := &voting.Receiver{}
	ok, err := m.load(votingReceiverKey(id), receiver)
	if err != nil || !ok {
		return nil, false, err
	}
	return receiver, true, nil
}

// PutVoteReceiver persists a receiver registry entry under its id.
func (m *Manager) PutVoteReceiver(receiver *voting.Receiver) error {
	if receiver == nil {
		return fmt.Errorf("state: receiver required")
	}
	return m.write(votingReceiverKey(receiver.ID), receiver)
}

// ReceiverLedger loads the decaying vote-weight ledger for one receiver.
func (m *Manager) ReceiverLedger(id uint64) (*decay.Ledger, error) {
	return m.loadLedger(votingLedgerKey(id))
}

// PutReceiverLedger persists the vote-weight ledger for one receiver.
func (m *Manager) PutReceiverLedger(id uint64, ledger *decay.Ledger) error {
	return m.writeLedger(votingLedgerKey(id), ledger)
}

// VoteTotals loads the aggregate vote-weight ledger across all receivers.
func (m *Manager) VoteTotals() (*decay.Ledger, error) {
	return m.loadLedger(votingTotalsKeyBytes)
}

// PutVoteTotals persists the aggregate vote-weight ledger.
func (m *Manager) PutVoteTotals(ledger *decay.Ledger) error {
	return m.writeLedger(votingTotalsKeyBytes, ledger)
}
