package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches maintained by the node. Modules consult
// it through Guard before accepting state-mutating operations.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
