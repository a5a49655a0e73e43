// Package common carries the plumbing the ledger modules share: the
// operator pause switchboard and the guard the engines consult before
// mutating state.
package common

import (
	"errors"
	"sort"
)

var (
	// ErrModulePaused rejects operations while an operator hold is
	// active on the module.
	ErrModulePaused = errors.New("module paused")
	// ErrUnknownModule rejects pause requests naming a module the
	// switchboard does not know.
	ErrUnknownModule = errors.New("unknown module")
)

// Pausable module names.
const (
	// ModuleMarket holds every ledger mutation: floating and fixed
	// operations, liquidations and membership changes.
	ModuleMarket = "market"
	// ModuleOracle holds operator price posting.
	ModuleOracle = "oracle"
)

var knownModules = map[string]struct{}{
	ModuleMarket: {},
	ModuleOracle: {},
}

// Known reports whether the module name is pausable.
func Known(module string) bool {
	_, ok := knownModules[module]
	return ok
}

// Modules lists the pausable module names in sorted order.
func Modules() []string {
	out := make([]string, 0, len(knownModules))
	for module := range knownModules {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

// PauseView exposes the switchboard state to the engines.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when a hold is active on the module.
// A nil view or empty module name never holds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
