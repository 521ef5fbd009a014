// Package runtime defines the ModuleHost contract the deployment
// executor drives — install/update/stop/start/refresh/uninstall on the
// live modular runtime — and ships an in-memory Fake implementation
// for tests and the no-external-runtime demo mode. The real runtime
// (whatever process actually hosts loaded modules) is an external
// collaborator out of scope for this engine.
package runtime

import (
	"context"
	"io"
)

// ModuleID identifies a live module on the host. It is distinct from a
// resolver.Resource — resources are resolved candidates, modules are
// what's actually running; resourceToModule is the only bridge between
// the two (spec.md §9).
type ModuleID string

// State is a module's lifecycle state on the host.
type State int

const (
	Installed State = iota
	Resolved
	Starting
	Active
	Stopping
	Uninstalled
)

func (s State) String() string {
	switch s {
	case Installed:
		return "INSTALLED"
	case Resolved:
		return "RESOLVED"
	case Starting:
		return "STARTING"
	case Active:
		return "ACTIVE"
	case Stopping:
		return "STOPPING"
	case Uninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// ServiceRef is a service a module has registered, identified well
// enough for the stop-ordering tie-breaker (spec.md §4.5 phase 1: "stop
// the module providing the lowest-ranked registered service").
type ServiceRef struct {
	Interface string
	Rank      int
}

// Module is a read-only snapshot of a live module's state, used by the
// executor to decide stop/start ordering and by tests to assert on
// outcomes.
type Module struct {
	ID             ModuleID
	SymbolicName   string
	Version        string
	Location       string
	State          State
	StartLevel     uint32
	FragmentHost   string // non-empty if this module is a fragment
	Registers      []ServiceRef
	UsesInterfaces []string // interfaces of services this module consumes
}

// IsFragment reports whether this module declares a fragment-host
// header — fragments follow their host and are never stopped/started
// independently.
func (m Module) IsFragment() bool {
	return m.FragmentHost != ""
}

// ModuleHost is the live runtime primitive the executor drives.
type ModuleHost interface {
	// Install installs new module content and returns its id. The
	// returned module starts in the Installed state.
	Install(ctx context.Context, location string, content io.Reader) (ModuleID, error)

	// Update replaces a module's content in place, preserving its id.
	Update(ctx context.Context, id ModuleID, content io.Reader) error

	// Uninstall removes a module permanently.
	Uninstall(ctx context.Context, id ModuleID) error

	// Stop transitions a module to Resolved, preserving persisted
	// start state (a "transient" stop, per spec.md §4.5 phase 1).
	Stop(ctx context.Context, id ModuleID) error

	// Start transitions a module to Active.
	Start(ctx context.Context, id ModuleID) error

	// Refresh reloads the class space of the given modules and blocks
	// until the host signals completion.
	Refresh(ctx context.Context, ids []ModuleID) error

	// Modules returns a snapshot of every module currently on the host.
	Modules() []Module

	// SetStartLevel sets a module's desired start level.
	SetStartLevel(ctx context.Context, id ModuleID, level uint32) error
}
