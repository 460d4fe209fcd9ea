package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"vetoken/storage"
)

// Manager reads and writes module state through a key-value backend. Every
// record is RLP-encoded under a human-readable prefixed key; absent keys
// decode to each module's zero value so engines never special-case first
// use. One Manager instance backs every module engine, which keeps the
// pause switchboard and cross-module reads on a single storage view.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// load fetches key and decodes it into out. It reports false with no error
// when the key is absent.
func (m *Manager) load(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// write encodes value and stores it under key.
func (m *Manager) write(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) has(key []byte) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	return m.db.Has(key)
}

func pauseKey(module string) []byte {
	return []byte(fmt.Sprintf(pauseKeyFormat, module))
}

// IsPaused reports whether the named module's mutating operations are
// switched off. Storage failures read as not paused; the guarded write
// that follows will surface the fault instead.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.load(pauseKey(module), &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

// SetModulePaused flips the pause flag for the named module.
func (m *Manager) SetModulePaused(module string, paused bool) error {
	if module == "" {
		return fmt.Errorf("state: module name required")
	}
	return m.write(pauseKey(module), paused)
}
