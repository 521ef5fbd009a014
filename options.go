package karaf

import (
	"github.com/go-logr/logr"
	"github.com/PeteGashek/karaf/catalog"
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
)

// callOptions holds the per-deployment-call configuration enumerated
// in spec.md §6. NoAutoRefresh, NoAutoStart, and ContinueOnFailure are
// reserved and not wired into the executor yet.
type callOptions struct {
	Verbose           bool
	NoAutoRefresh     bool
	NoAutoStart       bool
	ContinueOnFailure bool
}

// Option configures a single Install/Uninstall call.
type Option func(*callOptions)

// Verbose mirrors log lines to stdout for this call.
func Verbose() Option {
	return func(o *callOptions) { o.Verbose = true }
}

// NoAutoRefresh is reserved; not wired into the core.
func NoAutoRefresh() Option {
	return func(o *callOptions) { o.NoAutoRefresh = true }
}

// NoAutoStart is reserved; not wired into the core.
func NoAutoStart() Option {
	return func(o *callOptions) { o.NoAutoStart = true }
}

// ContinueOnFailure is reserved; not wired into the core.
func ContinueOnFailure() Option {
	return func(o *callOptions) { o.ContinueOnFailure = true }
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithLogger sets the logger every deployment derives per-call loggers
// from via WithValues, mirroring the teacher's log.FromContext(ctx).WithValues(...).
func WithLogger(logger logr.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithStreamProviders registers a static URI→StreamProvider map used
// for checksum computation and install/update content, for resolver
// implementations (like DefaultResolver) that don't themselves supply
// resolver.Output.StreamProviders.
func WithStreamProviders(providers map[string]resolver.StreamProvider) EngineOption {
	return func(e *Engine) {
		for uri, p := range providers {
			e.streamProviders[uri] = p
		}
	}
}

// WithEngineModuleID marks the module id the engine itself runs as, so
// the executor's start phase always starts it last.
func WithEngineModuleID(id runtime.ModuleID) EngineOption {
	return func(e *Engine) { e.executor.EngineModuleID = id }
}

// WithConfigInstaller wires the out-of-scope ConfigInstaller
// collaborator invoked during phase 6 of a deployment.
func WithConfigInstaller(install func(featureID string) error) EngineOption {
	return func(e *Engine) { e.installConfigs = install }
}

// WithFeatureResolutionRange overrides the featureResolutionRange
// tunable (default "${range;[====,====]}", exact match).
func WithFeatureResolutionRange(macro string) EngineOption {
	return func(e *Engine) { e.featureResolutionRange = macro }
}

// WithFinder registers a catalog.Finder that Install consults for any
// requested feature name not already declared by a loaded repository,
// before resolution: the matching repository URI is loaded the same
// way an explicit AddRepository call would. The lookup backend itself
// (a registry or index over external metadata) is out of scope.
func WithFinder(f catalog.Finder) EngineOption {
	return func(e *Engine) { e.finder = f }
}
