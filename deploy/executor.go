package deploy

import (
	"context"
	"fmt"
	"sort"

	"github.com/PeteGashek/karaf/metrics"
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
	"go.uber.org/multierr"
)

// CommitFunc is invoked once, mid-deployment, to persist the new
// EngineState under the engine's lock (spec.md §4.5 phase 5). It runs
// after modules have been stopped/uninstalled/updated/installed but
// before configuration installation and refresh/start, so configs and
// restarts never precede the state they describe.
type CommitFunc func(result CommitInput) error

// CommitInput is everything CommitFunc needs to compute and persist the
// new EngineState.
type CommitInput struct {
	RequiredFeatureIDs  []string
	InstalledFeatureIDs []string
	ManagedModules      map[runtime.ModuleID]bool
	NewChecksums        map[state.ModuleLocation]uint32
}

// InstallConfigsFunc installs the configuration set for a newly
// installed feature (spec.md §4.5 phase 6). It is an external
// collaborator out of scope to implement here.
type InstallConfigsFunc func(featureID string) error

// RefreshExpandFunc optionally widens the refresh set (spec.md §4.5
// phase 7): modules with now-satisfiable optional imports, or fragments
// of a host being refreshed. Returning toRefresh unchanged is valid.
type RefreshExpandFunc func(toRefresh []runtime.ModuleID, host runtime.ModuleHost) []runtime.ModuleID

// Executor enacts a Plan against a ModuleHost in the mandatory nine
// phases of spec.md §4.5. It holds no lock on engine state itself; it
// is handed a snapshot plan and a commit callback that runs under the
// engine's lock at the right point in the sequence.
type Executor struct {
	Host runtime.ModuleHost

	// EngineModuleID, if set, is always started last (spec.md §4.5
	// phase 9): the engine's own module must outlive everything it just
	// brought up.
	EngineModuleID runtime.ModuleID

	NoRefreshUnmanaged bool
	NoRefreshManaged   bool
	NoRefresh          bool

	RefreshExpand RefreshExpandFunc
}

// NewExecutor builds an Executor with the tunables' documented
// defaults (noRefreshUnmanaged=true, noRefreshManaged=true, noRefresh=false).
func NewExecutor(host runtime.ModuleHost) *Executor {
	return &Executor{Host: host, NoRefreshUnmanaged: true, NoRefreshManaged: true}
}

// Execute runs the plan to completion: phases 1-4 against the host,
// commit under commitFn, phase 6 config installs, phase 7-8 refresh,
// phase 9 start. streamProviders is keyed by resource URI.
func (e *Executor) Execute(
	ctx context.Context,
	plan Plan,
	streamProviders map[string]resolver.StreamProvider,
	requiredFeatureIDs []string,
	featureResources []resolver.Resource,
	managed map[runtime.ModuleID]bool,
	commit CommitFunc,
	installConfigs InstallConfigsFunc,
	newlyInstalledFeatureIDs []string,
) error {
	toStop := e.stopTargets(plan)
	toRefresh := map[runtime.ModuleID]bool{}
	toStart := map[runtime.ModuleID]bool{}

	// Phase 1 — stop.
	for _, m := range stopOrder(toStop) {
		if err := e.Host.Stop(ctx, m.ID); err != nil {
			return fmt.Errorf("deploy: stop %s: %w", m.SymbolicName, err)
		}
		metrics.ModulesStoppedTotal.Inc()
	}

	// Phase 2 — uninstall.
	for _, id := range plan.ToDelete {
		if err := e.Host.Uninstall(ctx, id); err != nil {
			return fmt.Errorf("deploy: uninstall %s: %w", id, err)
		}
		delete(managed, id)
		toRefresh[id] = true
	}

	// Phase 3 — update.
	for id, resource := range plan.ToUpdate {
		provider, ok := streamProviders[resource.URI]
		if !ok {
			return fmt.Errorf("deploy: no stream provider for %s", resource.URI)
		}
		stream, err := provider.Open()
		if err != nil {
			return fmt.Errorf("deploy: open update stream for %s: %w", resource.URI, err)
		}
		err = e.Host.Update(ctx, id, stream)
		stream.Close()
		if err != nil {
			return fmt.Errorf("deploy: update %s: %w", resource.SymbolicName, err)
		}
		toRefresh[id] = true
		toStart[id] = true
		if err := e.applyStartLevel(ctx, id, resource); err != nil {
			return err
		}
	}

	// Phase 4 — install.
	for _, resource := range plan.ToInstall {
		provider, ok := streamProviders[resource.URI]
		if !ok {
			return fmt.Errorf("deploy: no stream provider for %s", resource.URI)
		}
		stream, err := provider.Open()
		if err != nil {
			return fmt.Errorf("deploy: open install stream for %s: %w", resource.URI, err)
		}
		id, err := e.Host.Install(ctx, resource.URI, stream)
		stream.Close()
		if err != nil {
			return fmt.Errorf("deploy: install %s: %w", resource.SymbolicName, err)
		}
		managed[id] = true
		toStart[id] = true
		plan.ResourceToModule[resource] = id
		if IsUpdateable(resource) {
			sum, err := e.checksumFromProvider(provider)
			if err != nil {
				return err
			}
			plan.NewChecksums[state.ModuleLocation(resource.URI)] = sum
		}
		if err := e.applyStartLevel(ctx, id, resource); err != nil {
			return err
		}
	}

	// Phase 5 — state commit.
	installedFeatureIDs := make([]string, 0, len(featureResources))
	for _, res := range featureResources {
		installedFeatureIDs = append(installedFeatureIDs, fmt.Sprintf("%s/%s", res.FeatureName, res.FeatureVersion))
	}
	if commit != nil {
		if err := commit(CommitInput{
			RequiredFeatureIDs:  requiredFeatureIDs,
			InstalledFeatureIDs: installedFeatureIDs,
			ManagedModules:      managed,
			NewChecksums:        plan.NewChecksums,
		}); err != nil {
			return fmt.Errorf("deploy: commit state: %w", err)
		}
	}

	// Phase 6 — configuration installation, only for newly added features.
	if installConfigs != nil {
		for _, id := range newlyInstalledFeatureIDs {
			if err := installConfigs(id); err != nil {
				return fmt.Errorf("deploy: install configs for %s: %w", id, err)
			}
		}
	}

	// Phase 7 — refresh expansion.
	refreshIDs := make([]runtime.ModuleID, 0, len(toRefresh))
	for id := range toRefresh {
		refreshIDs = append(refreshIDs, id)
	}
	if e.NoRefreshUnmanaged {
		refreshIDs = filterManaged(refreshIDs, managed)
	}
	if !e.NoRefreshManaged && e.RefreshExpand != nil {
		refreshIDs = e.RefreshExpand(refreshIDs, e.Host)
	}

	// Phase 8 — refresh.
	if !e.NoRefresh && len(refreshIDs) > 0 {
		refreshModules := modulesByID(e.Host, refreshIDs)
		for _, m := range stopOrder(refreshModules) {
			if err := e.Host.Stop(ctx, m.ID); err != nil {
				return fmt.Errorf("deploy: stop %s for refresh: %w", m.SymbolicName, err)
			}
			metrics.ModulesStoppedTotal.Inc()
			toStart[m.ID] = true
		}
		if err := e.Host.Refresh(ctx, refreshIDs); err != nil {
			return fmt.Errorf("deploy: refresh: %w", err)
		}
	}

	// Phase 9 — start.
	return e.start(ctx, toStart)
}

func (e *Executor) applyStartLevel(ctx context.Context, id runtime.ModuleID, resource resolver.Resource) error {
	if resource.StartLevel == nil {
		return nil
	}
	if err := e.Host.SetStartLevel(ctx, id, *resource.StartLevel); err != nil {
		return fmt.Errorf("deploy: set start level for %s: %w", resource.SymbolicName, err)
	}
	return nil
}

func (e *Executor) checksumFromProvider(provider resolver.StreamProvider) (uint32, error) {
	stream, err := provider.Open()
	if err != nil {
		return 0, fmt.Errorf("deploy: open checksum stream: %w", err)
	}
	defer stream.Close()
	sum, err := Checksum(stream)
	if err != nil {
		return 0, fmt.Errorf("deploy: checksum: %w", err)
	}
	return sum, nil
}

func (e *Executor) stopTargets(plan Plan) []runtime.Module {
	ids := map[runtime.ModuleID]bool{}
	for id := range plan.ToUpdate {
		ids[id] = true
	}
	for _, id := range plan.ToDelete {
		ids[id] = true
	}
	var targets []runtime.Module
	for _, m := range e.Host.Modules() {
		if !ids[m.ID] {
			continue
		}
		if m.State == runtime.Uninstalled || m.State == runtime.Resolved || m.State == runtime.Stopping {
			continue
		}
		if m.IsFragment() {
			continue
		}
		targets = append(targets, m)
	}
	return targets
}

func (e *Executor) start(ctx context.Context, toStart map[runtime.ModuleID]bool) error {
	ids := make([]runtime.ModuleID, 0, len(toStart))
	for id := range toStart {
		ids = append(ids, id)
	}
	modules := modulesByID(e.Host, ids)

	var startable []runtime.Module
	for _, m := range modules {
		if m.State == runtime.Uninstalled || m.State == runtime.Active || m.State == runtime.Starting {
			continue
		}
		if m.IsFragment() {
			continue
		}
		startable = append(startable, m)
	}

	ordered := startOrder(startable, e.EngineModuleID)

	var errs error
	for _, m := range ordered {
		if err := e.Host.Start(ctx, m.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("start %s: %w", m.SymbolicName, err))
		}
	}
	return errs
}

func filterManaged(ids []runtime.ModuleID, managed map[runtime.ModuleID]bool) []runtime.ModuleID {
	out := make([]runtime.ModuleID, 0, len(ids))
	for _, id := range ids {
		if managed[id] {
			out = append(out, id)
		}
	}
	return out
}

func modulesByID(host runtime.ModuleHost, ids []runtime.ModuleID) []runtime.Module {
	want := map[runtime.ModuleID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []runtime.Module
	for _, m := range host.Modules() {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// stopOrder produces a stop sequence where, for any two modules A and B
// with A consuming a service B registers, A precedes B (spec.md §4.5
// phase 1 / §8 "stop ordering" invariant).
func stopOrder(modules []runtime.Module) []runtime.Module {
	remaining := append([]runtime.Module(nil), modules...)
	var order []runtime.Module

	for len(remaining) > 0 {
		stoppable := stoppableNow(remaining)
		if len(stoppable) == 0 {
			stoppable = []runtime.Module{lowestRankedProvider(remaining)}
		}
		order = append(order, stoppable...)
		remaining = without(remaining, stoppable)
	}
	return order
}

func stoppableNow(remaining []runtime.Module) []runtime.Module {
	var out []runtime.Module
	for _, m := range remaining {
		if !consumedByAnother(m, remaining) {
			out = append(out, m)
		}
	}
	return out
}

func consumedByAnother(m runtime.Module, remaining []runtime.Module) bool {
	for _, reg := range m.Registers {
		for _, other := range remaining {
			if other.ID == m.ID {
				continue
			}
			for _, use := range other.UsesInterfaces {
				if use == reg.Interface {
					return true
				}
			}
		}
	}
	return false
}

func lowestRankedProvider(remaining []runtime.Module) runtime.Module {
	victim := remaining[0]
	bestRank := 0
	found := false
	for _, m := range remaining {
		for _, reg := range m.Registers {
			if !found || reg.Rank < bestRank || (reg.Rank == bestRank && m.SymbolicName < victim.SymbolicName) {
				victim, bestRank, found = m, reg.Rank, true
			}
		}
	}
	return victim
}

func without(all []runtime.Module, remove []runtime.Module) []runtime.Module {
	removeIDs := map[runtime.ModuleID]bool{}
	for _, m := range remove {
		removeIDs[m.ID] = true
	}
	var out []runtime.Module
	for _, m := range all {
		if !removeIDs[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// startOrder sorts modules by symbolic name, with engineModuleID (if
// present) always last. It does not sort by capability/requirement
// dependencies and does not put independent ("root") modules first:
// resource dependency information doesn't survive onto a live Module,
// so that classification is not available at start time.
func startOrder(modules []runtime.Module, engineModuleID runtime.ModuleID) []runtime.Module {
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].SymbolicName < modules[j].SymbolicName
	})
	var rest []runtime.Module
	var engine []runtime.Module
	for _, m := range modules {
		if engineModuleID != "" && m.ID == engineModuleID {
			engine = append(engine, m)
			continue
		}
		rest = append(rest, m)
	}
	return append(rest, engine...)
}
