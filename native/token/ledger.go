package token

import (
	"errors"
	"math/big"
)

var (
	errStateNotConfigured = errors.New("token: state not configured")

	// ErrInsufficientBalance rejects transfers beyond the sender's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrNegativeAmount rejects negative transfer or mint amounts.
	ErrNegativeAmount = errors.New("token: negative amount")
)

// engineState persists token balances and the running supply.
type engineState interface {
	TokenBalance(addr [20]byte) (*big.Int, error)
	PutTokenBalance(addr [20]byte, balance *big.Int) error
	TokenSupply() (*big.Int, error)
	PutTokenSupply(supply *big.Int) error
}

// Ledger is the governance token's balance book. It carries no approval
// machinery: the locker and the vault are its only privileged movers, wired
// through the custody adapters below.
type Ledger struct {
	state engineState
}

// NewLedger constructs an unwired balance book.
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState wires the ledger to its persistence backend.
func (l *Ledger) SetState(state engineState) { l.state = state }

func (l *Ledger) balance(addr [20]byte) (*big.Int, error) {
	stored, err := l.state.TokenBalance(addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(stored), nil
}

// Mint credits an address and grows the supply. Genesis wiring only.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l.state == nil {
		return errStateNotConfigured
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	balance, err := l.balance(to)
	if err != nil {
		return err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	supply.Add(supply, amount)
	if err := l.state.PutTokenBalance(to, balance); err != nil {
		return err
	}
	return l.state.PutTokenSupply(supply)
}

// Transfer moves amount between addresses. Zero amounts are a no-op.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l.state == nil {
		return errStateNotConfigured
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	source, err := l.balance(from)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	dest, err := l.balance(to)
	if err != nil {
		return err
	}
	source.Sub(source, amount)
	dest.Add(dest, amount)
	if err := l.state.PutTokenBalance(from, source); err != nil {
		return err
	}
	return l.state.PutTokenBalance(to, dest)
}

// BalanceOf reports an address's balance.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l.state == nil {
		return nil, errStateNotConfigured
	}
	return l.balance(addr)
}

// TotalSupply reports the minted supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l.state == nil {
		return nil, errStateNotConfigured
	}
	stored, err := l.state.TokenSupply()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(stored), nil
}

// LockerCustody routes the locker's custody pulls and payouts through the
// ledger using the locker's own holding address.
type LockerCustody struct {
	ledger  *Ledger
	address [20]byte
}

// NewLockerCustody binds the ledger to the locker's holding address.
func NewLockerCustody(ledger *Ledger, address [20]byte) *LockerCustody {
	return &LockerCustody{ledger: ledger, address: address}
}

// TransferToLocker pulls locked tokens into custody.
func (c *LockerCustody) TransferToLocker(from [20]byte, amount *big.Int) error {
	return c.ledger.Transfer(from, c.address, amount)
}

// TransferFromLocker pays withdrawn tokens back out of custody.
func (c *LockerCustody) TransferFromLocker(to [20]byte, amount *big.Int) error {
	return c.ledger.Transfer(c.address, to, amount)
}

// AccountCustody binds outgoing transfers to one fixed sender. The vault
// uses it to spend its own balance.
type AccountCustody struct {
	ledger  *Ledger
	address [20]byte
}

// NewAccountCustody binds the ledger to a sender address.
func NewAccountCustody(ledger *Ledger, address [20]byte) *AccountCustody {
	return &AccountCustody{ledger: ledger, address: address}
}

// Transfer sends from the bound address.
func (c *AccountCustody) Transfer(to [20]byte, amount *big.Int) error {
	return c.ledger.Transfer(c.address, to, amount)
}
