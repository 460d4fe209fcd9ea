package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Module names understood by the pause switchboard.
const (
	ModuleLocker    = "locker"
	ModuleVoting    = "voting"
	ModuleEmissions = "emissions"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
