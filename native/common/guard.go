package common

import "errors"

// ErrModulePaused is returned when a guarded operation runs while its module
// is paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the externally-owned pause switches. The engine only ever
// reads this flag; mutation lives with the host.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name means the flow is never pause-blocked.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
