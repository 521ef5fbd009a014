// Package state holds the engine's persisted, crash-safe view of what
// was requested and what is actually deployed.
package state

// ModuleLocation is the URI identity of a managed module, used as the
// key for snapshot-update checksum tracking.
type ModuleLocation string

// State is the five-field persisted snapshot described in spec.md §3.
// It is loaded once at Engine construction, mutated only under the
// engine's global mutex, and rewritten atomically after every
// successful deployment.
type State struct {
	// RequiredFeatures is what the user asked for, as "name/version" ids.
	RequiredFeatures []string `yaml:"requiredFeatures"`
	// InstalledFeatures is what was actually resolved, as "name/version" ids.
	InstalledFeatures []string `yaml:"installedFeatures"`
	// ManagedModules is the set of module ids the engine owns the
	// lifecycle of, keyed by the runtime.ModuleID string form.
	ManagedModules []string `yaml:"managedModules"`
	// ModuleChecksums fingerprints the content of every managed,
	// updateable module, for snapshot-update detection.
	ModuleChecksums map[ModuleLocation]uint32 `yaml:"moduleChecksums"`
	// BootDone records whether the initial boot feature set has
	// finished deploying.
	BootDone bool `yaml:"bootDone"`
}

// Empty returns a zero-value State with its map initialized, safe to
// mutate immediately.
func Empty() State {
	return State{ModuleChecksums: make(map[ModuleLocation]uint32)}
}

// Clone returns a deep copy, used by the engine to take a stale-proof
// snapshot under its lock before releasing it for I/O (spec.md §5).
func (s State) Clone() State {
	clone := State{
		RequiredFeatures:  append([]string(nil), s.RequiredFeatures...),
		InstalledFeatures: append([]string(nil), s.InstalledFeatures...),
		ManagedModules:    append([]string(nil), s.ManagedModules...),
		ModuleChecksums:   make(map[ModuleLocation]uint32, len(s.ModuleChecksums)),
		BootDone:          s.BootDone,
	}
	for k, v := range s.ModuleChecksums {
		clone.ModuleChecksums[k] = v
	}
	return clone
}
