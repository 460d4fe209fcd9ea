package state

import (
	"fmt"
	"time"
)

// GenesisTime returns the protocol deployment instant pinned on first boot.
// It reports false when no instant has been recorded yet.
func (m *Manager) GenesisTime() (time.Time, bool, error) {
	var unix uint64
	ok, err := m.load(genesisKeyBytes, &unix)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.Unix(int64(unix), 0).UTC(), true, nil
}

// SetGenesisTime records the protocol deployment instant. The record is
// written once and never moved afterwards: the epoch clock derives every
// epoch boundary from it.
func (m *Manager) SetGenesisTime(t time.Time) error {
	if t.IsZero() || t.Unix() < 0 {
		return fmt.Errorf("state: genesis time must be a positive unix instant")
	}
	return m.write(genesisKeyBytes, uint64(t.Unix()))
}
