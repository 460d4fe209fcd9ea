package state

import (
	"fmt"
	"math/big"
)

func tokenBalanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf(tokenBalanceKeyFormat, addr))
}

// TokenBalance returns the governance-token balance for an address. Missing
// entries default to zero.
func (m *Manager) TokenBalance(addr [20]byte) (*big.Int, error) {
	balance, err := m.loadBig(tokenBalanceKey(addr))
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// PutTokenBalance persists the governance-token balance for an address.
func (m *Manager) PutTokenBalance(addr [20]byte, balance *big.Int) error {
	if balance != nil && balance.Sign() < 0 {
		return fmt.Errorf("state: balance for %x cannot be negative", addr)
	}
	return m.writeBig(tokenBalanceKey(addr), balance)
}

// TokenSupply returns the recorded total supply. Missing entries default to
// zero.
func (m *Manager) TokenSupply() (*big.Int, error) {
	supply, err := m.loadBig(tokenSupplyKeyBytes)
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return big.NewInt(0), nil
	}
	return supply, nil
}

// PutTokenSupply persists the total supply.
func (m *Manager) PutTokenSupply(supply *big.Int) error {
	if supply != nil && supply.Sign() < 0 {
		return fmt.Errorf("state: supply cannot be negative")
	}
	return m.writeBig(tokenSupplyKeyBytes, supply)
}
