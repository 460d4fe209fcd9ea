package token

import (
	"errors"
	"math/big"
	"testing"
)

type mockTokenState struct {
	balances map[string]*big.Int
	supply   *big.Int
}

func newMockTokenState() *mockTokenState {
	return &mockTokenState{balances: make(map[string]*big.Int)}
}

func (m *mockTokenState) TokenBalance(addr [20]byte) (*big.Int, error) {
	balance, ok := m.balances[string(addr[:])]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockTokenState) PutTokenBalance(addr [20]byte, balance *big.Int) error {
	m.balances[string(addr[:])] = new(big.Int).Set(balance)
	return nil
}

func (m *mockTokenState) TokenSupply() (*big.Int, error) {
	if m.supply == nil {
		return nil, nil
	}
	return new(big.Int).Set(m.supply), nil
}

func (m *mockTokenState) PutTokenSupply(supply *big.Int) error {
	m.supply = new(big.Int).Set(supply)
	return nil
}

func tokenAddr(tag byte) [20]byte {
	var out [20]byte
	out[19] = tag
	return out
}

func balanceOf(t *testing.T, ledger *Ledger, addr [20]byte) *big.Int {
	t.Helper()
	balance, err := ledger.BalanceOf(addr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	return balance
}

func TestMintAndTransfer(t *testing.T) {
	ledger := NewLedger()
	ledger.SetState(newMockTokenState())
	alice := tokenAddr(0x01)
	bob := tokenAddr(0x02)

	if err := ledger.Mint(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := ledger.Mint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("Mint again: %v", err)
	}
	supply, err := ledger.TotalSupply()
	if err != nil {
		t.Fatalf("TotalSupply: %v", err)
	}
	if supply.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("supply = %s, want 1500", supply)
	}

	if err := ledger.Transfer(alice, bob, big.NewInt(600)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("alice balance = %s, want 900", got)
	}
	if got := balanceOf(t, ledger, bob); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("bob balance = %s, want 600", got)
	}
}

func TestTransferValidation(t *testing.T) {
	ledger := NewLedger()
	ledger.SetState(newMockTokenState())
	alice := tokenAddr(0x01)
	bob := tokenAddr(0x02)

	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw error = %v, want ErrInsufficientBalance", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("negative error = %v, want ErrNegativeAmount", err)
	}
	// Zero and nil amounts are no-ops.
	if err := ledger.Transfer(alice, bob, nil); err != nil {
		t.Fatalf("nil transfer: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	// Self transfers only need a covering balance.
	if err := ledger.Transfer(alice, alice, big.NewInt(100)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice balance = %s, want 100", got)
	}
}

func TestCustodyAdapters(t *testing.T) {
	ledger := NewLedger()
	ledger.SetState(newMockTokenState())
	alice := tokenAddr(0x01)
	lockerAddr := tokenAddr(0xcc)
	vaultAddr := tokenAddr(0xdd)

	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := ledger.Mint(vaultAddr, big.NewInt(1000)); err != nil {
		t.Fatalf("Mint vault: %v", err)
	}

	custody := NewLockerCustody(ledger, lockerAddr)
	if err := custody.TransferToLocker(alice, big.NewInt(40)); err != nil {
		t.Fatalf("TransferToLocker: %v", err)
	}
	if got := balanceOf(t, ledger, lockerAddr); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("locker balance = %s, want 40", got)
	}
	if err := custody.TransferFromLocker(alice, big.NewInt(15)); err != nil {
		t.Fatalf("TransferFromLocker: %v", err)
	}
	if got := balanceOf(t, ledger, alice); got.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("alice balance = %s, want 75", got)
	}

	vault := NewAccountCustody(ledger, vaultAddr)
	if err := vault.Transfer(alice, big.NewInt(200)); err != nil {
		t.Fatalf("vault transfer: %v", err)
	}
	if got := balanceOf(t, ledger, vaultAddr); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("vault balance = %s, want 800", got)
	}
}
