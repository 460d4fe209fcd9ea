package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

func boostPctKey(account [20]byte, e uint64) []byte {
	return []byte(fmt.Sprintf(boostPctKeyFormat, account, e))
}

// BoostPct returns the cached weight share for an account at an epoch. The
// second return reports whether a share has been published; a stored zero
// share is distinct from an absent one.
func (m *Manager) BoostPct(account [20]byte, e uint64) (*uint256.Int, bool, error) {
	pct := new(big.Int)
	ok, err := m.load(boostPctKey(account, e), pct)
	if err != nil || !ok {
		return nil, false, err
	}
	out, overflow := uint256.FromBig(pct)
	if overflow {
		return nil, false, fmt.Errorf("state: boost pct %x/%d out of range", account, e)
	}
	return out, true, nil
}

// PutBoostPct caches the weight share for an account at an epoch.
func (m *Manager) PutBoostPct(account [20]byte, e uint64, pct *uint256.Int) error {
	if pct == nil {
		pct = uint256.NewInt(0)
	}
	return m.write(boostPctKey(account, e), pct.ToBig())
}
