// Package karaf is the feature resolution and deployment engine: it
// ties the catalog, resolver, conditional expander, deployment planner
// and executor together behind a single-mutex, crash-safe facade.
package karaf

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/PeteGashek/karaf/catalog"
	"github.com/PeteGashek/karaf/conditional"
	"github.com/PeteGashek/karaf/deploy"
	"github.com/PeteGashek/karaf/logging"
	"github.com/PeteGashek/karaf/metrics"
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
	"github.com/PeteGashek/karaf/version"
)

// Engine is the public facade: install/uninstall/list, catalog
// mutation, listener fanout, and state commit, serialized by a single
// process-wide mutex (spec.md §5).
type Engine struct {
	mu sync.Mutex

	catalog  *catalog.Catalog
	resolver resolver.Resolver
	expander conditional.Expander
	host     runtime.ModuleHost
	store    state.Store
	planner  *deploy.Planner
	executor *deploy.Executor

	st        state.State
	listeners []Listener
	logger    logr.Logger

	streamProviders        map[string]resolver.StreamProvider
	installConfigs         func(featureID string) error
	featureResolutionRange string
	finder                 catalog.Finder
}

// New constructs an Engine, loading its persisted state from store.
func New(cat *catalog.Catalog, res resolver.Resolver, host runtime.ModuleHost, store state.Store, opts ...EngineOption) (*Engine, error) {
	st, err := store.Load()
	if err != nil {
		return nil, newError(IO, "load state", err)
	}
	e := &Engine{
		catalog:                 cat,
		resolver:                res,
		expander:                conditional.New(cat),
		host:                    host,
		store:                   store,
		planner:                 deploy.NewPlanner(),
		executor:                deploy.NewExecutor(host),
		st:                      st,
		logger:                  logging.Discard(),
		streamProviders:         make(map[string]resolver.StreamProvider),
		featureResolutionRange:  "${range;[====,====]}",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddRepository loads uri (and, transitively, every repository it
// references) into the catalog and notifies listeners.
func (e *Engine) AddRepository(uri string) error {
	added, err := e.catalog.AddRepository(uri)
	if err != nil {
		return newError(IO, "add repository", err)
	}
	e.notifyRepositoryListeners(added, false, false)
	return nil
}

// RemoveRepository evicts uri and every repository only reachable
// through it, and notifies listeners.
func (e *Engine) RemoveRepository(uri string) error {
	removed := e.catalog.RemoveRepository(uri)
	e.notifyRepositoryListeners(removed, true, false)
	return nil
}

// resolveUndeclaredRepositories consults e.finder, if set, for any
// featureID whose name no loaded repository currently declares, and
// loads the repository it names so the resolve pass that follows can
// find it without the caller having called AddRepository first.
func (e *Engine) resolveUndeclaredRepositories(featureIDs []string) {
	if e.finder == nil {
		return
	}
	declared := e.catalog.Features()
	for _, raw := range featureIDs {
		name := catalog.ParseFeatureID(raw).Name
		if _, ok := declared[name]; ok {
			continue
		}
		uri, err := e.finder.FindRepositoryURI(name)
		if err != nil || uri == "" {
			continue
		}
		added, err := e.catalog.AddRepository(uri)
		if err != nil {
			continue
		}
		e.notifyRepositoryListeners(added, false, false)
	}
}

// List returns the currently installed feature ids.
func (e *Engine) List() []catalog.FeatureID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]catalog.FeatureID, 0, len(e.st.InstalledFeatures))
	for _, raw := range e.st.InstalledFeatures {
		ids = append(ids, catalog.ParseFeatureID(raw))
	}
	return ids
}

// MarkBootDone flips and persists EngineState.BootDone, mirroring the
// original's post-boot latch used by startup tooling to know the
// initial feature set has finished deploying.
func (e *Engine) MarkBootDone() error {
	e.mu.Lock()
	e.st.BootDone = true
	snapshot := e.st.Clone()
	e.mu.Unlock()
	if err := e.store.Save(snapshot); err != nil {
		return newError(IO, "mark boot done", err)
	}
	return nil
}

// AddListener registers l and immediately replays RepositoryAdded and
// FeatureInstalled events for every already-loaded repository and
// installed feature, each with Replayed set, so a newly registered
// listener catches up without missing prior state (spec.md §6).
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	installed := append([]string(nil), e.st.InstalledFeatures...)
	e.mu.Unlock()

	for _, uri := range e.catalog.Repositories() {
		l.RepositoryChanged(RepositoryEvent{URI: uri, Replayed: true})
	}
	for _, id := range installed {
		l.FeatureChanged(FeatureEvent{ID: catalog.ParseFeatureID(id), Replayed: true})
	}
}

// Install adds featureIDs to the required set and deploys to reach it.
// Idempotent: installing an already-required feature performs zero
// module operations.
func (e *Engine) Install(ctx context.Context, featureIDs []string, opts ...Option) error {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}

	e.resolveUndeclaredRepositories(featureIDs)

	e.mu.Lock()
	required := map[string]bool{}
	for _, id := range e.st.RequiredFeatures {
		required[id] = true
	}
	for _, raw := range featureIDs {
		required[catalog.ParseFeatureID(raw).String()] = true
	}
	newRequired := sortedKeys(required)
	managed := cloneManagedSet(e.st.ManagedModules)
	oldChecksums := cloneChecksums(e.st.ModuleChecksums)
	oldInstalled := toSet(e.st.InstalledFeatures)
	logger := e.logger.WithValues("op", "install", "requiredFeatures", newRequired)
	e.mu.Unlock()

	return e.deploy(ctx, newRequired, managed, oldChecksums, oldInstalled, o, logger)
}

// Uninstall removes spec ("<name>(/<version>)?") from the required set
// and deploys to reach it. A missing version normalizes to the
// wildcard "/0.0.0", which matches all installed versions during
// uninstall only; if more than one version is installed and no version
// was supplied, Uninstall fails with Ambiguous and leaves state
// unchanged.
func (e *Engine) Uninstall(ctx context.Context, spec string, opts ...Option) error {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}

	e.mu.Lock()
	target := catalog.ParseFeatureID(spec)
	if target.Version == version.Zero {
		var matches []string
		for _, id := range e.st.InstalledFeatures {
			if catalog.ParseFeatureID(id).Name == target.Name {
				matches = append(matches, id)
			}
		}
		switch len(matches) {
		case 0:
			e.mu.Unlock()
			return newError(NotFound, "uninstall", fmt.Errorf("%s", target.Name))
		case 1:
			target = catalog.ParseFeatureID(matches[0])
		default:
			e.mu.Unlock()
			return newError(Ambiguous, "uninstall", fmt.Errorf("multiple versions installed for %s: %v", target.Name, matches))
		}
	}

	required := map[string]bool{}
	for _, id := range e.st.RequiredFeatures {
		if id != target.String() {
			required[id] = true
		}
	}
	newRequired := sortedKeys(required)
	managed := cloneManagedSet(e.st.ManagedModules)
	oldChecksums := cloneChecksums(e.st.ModuleChecksums)
	oldInstalled := toSet(e.st.InstalledFeatures)
	logger := e.logger.WithValues("op", "uninstall", "target", target.String())
	e.mu.Unlock()

	return e.deploy(ctx, newRequired, managed, oldChecksums, oldInstalled, o, logger)
}

// deploy runs one resolve→expand→plan→execute cycle and commits the
// result. It is the only place a deployment worker goroutine is
// spawned (spec.md §4.5's "dedicated worker thread" requirement): the
// caller blocks on it, but a cancelled caller context cannot strand an
// in-flight refresh, because the worker keeps running to completion
// regardless of ctx's fate and deploy only relays its result.
func (e *Engine) deploy(
	ctx context.Context,
	required []string,
	managed map[runtime.ModuleID]bool,
	oldChecksums map[state.ModuleLocation]uint32,
	oldInstalled map[string]bool,
	o *callOptions,
	logger logr.Logger,
) error {
	result := make(chan error, 1)
	go func() {
		result <- e.runDeployment(context.WithoutCancel(ctx), required, managed, oldChecksums, oldInstalled, o, logger)
	}()
	return <-result
}

func (e *Engine) runDeployment(
	ctx context.Context,
	required []string,
	managed map[runtime.ModuleID]bool,
	oldChecksums map[state.ModuleLocation]uint32,
	oldInstalled map[string]bool,
	o *callOptions,
	logger logr.Logger,
) error {
	start := time.Now()
	logger.V(1).Info("resolving")
	if o.Verbose {
		fmt.Println("karaf: resolving", required)
	}

	out, err := e.resolver.Resolve(ctx, resolver.Input{
		TargetFeatureIDs:       required,
		FeatureResolutionRange: e.featureResolutionRange,
	})
	if err != nil {
		metrics.UnresolvableTotal.Inc()
		return newError(Unresolvable, "resolve", err)
	}

	installed := featureIDsFrom(out.Resources)
	synthetic := e.expander.Expand(installed)
	if len(synthetic) > 0 {
		logger.V(1).Info("expanding conditionals", "count", len(synthetic))
		if o.Verbose {
			fmt.Println("karaf: expanding conditionals", conditional.IDs(synthetic))
		}
		targets := append(append([]string(nil), required...), conditional.IDs(synthetic)...)
		out, err = e.resolver.Resolve(ctx, resolver.Input{
			TargetFeatureIDs:       targets,
			ExtraFeatures:          synthetic,
			FeatureResolutionRange: e.featureResolutionRange,
		})
		if err != nil {
			metrics.UnresolvableTotal.Inc()
			return newError(Unresolvable, "resolve-conditional", err)
		}
	}

	var bundleResources, featureResources []resolver.Resource
	for _, r := range out.Resources {
		if r.IsFeatureNamespace() {
			featureResources = append(featureResources, r)
		} else {
			bundleResources = append(bundleResources, r)
		}
	}

	streamProviders := e.mergedStreamProviders(out.StreamProviders)
	live := e.host.Modules()

	logger.V(1).Info("planning", "resources", len(bundleResources), "liveModules", len(live))
	if o.Verbose {
		fmt.Println("karaf: planning", len(bundleResources), "resources against", len(live), "live modules")
	}
	plan, err := e.planner.Plan(bundleResources, live, managed, oldChecksums, streamProviders)
	if err != nil {
		return newError(IO, "plan", err)
	}

	var newlyInstalled []string
	newInstalledSet := map[string]bool{}
	for _, r := range featureResources {
		id := fmt.Sprintf("%s/%s", r.FeatureName, r.FeatureVersion)
		newInstalledSet[id] = true
		if !oldInstalled[id] {
			newlyInstalled = append(newlyInstalled, id)
		}
	}
	var uninstalledFeatures []string
	for id := range oldInstalled {
		if !newInstalledSet[id] {
			uninstalledFeatures = append(uninstalledFeatures, id)
		}
	}

	commit := func(in deploy.CommitInput) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		next := state.Empty()
		next.RequiredFeatures = in.RequiredFeatureIDs
		next.InstalledFeatures = in.InstalledFeatureIDs
		next.ManagedModules = moduleIDStrings(in.ManagedModules)
		next.ModuleChecksums = in.NewChecksums
		next.BootDone = e.st.BootDone
		if err := e.store.Save(next); err != nil {
			// spec.md §7: IO on state save is logged, not propagated —
			// the next successful save corrects it.
			logger.Error(err, "failed to persist engine state")
		}
		e.st = next
		return nil
	}

	logger.V(1).Info("executing", "toInstall", len(plan.ToInstall), "toUpdate", len(plan.ToUpdate), "toDelete", len(plan.ToDelete))
	if o.Verbose {
		fmt.Println("karaf: executing", "install:", len(plan.ToInstall), "update:", len(plan.ToUpdate), "delete:", len(plan.ToDelete))
	}
	err = e.executor.Execute(ctx, plan, streamProviders, required, featureResources, managed, commit, e.installConfigs, newlyInstalled)
	metrics.DeploymentDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DeploymentsTotal.WithLabelValues("failure").Inc()
		return newError(ModuleOperation, "execute", err)
	}
	metrics.DeploymentsTotal.WithLabelValues("success").Inc()
	metrics.ModulesStartedTotal.Add(float64(len(plan.ToInstall) + len(plan.ToUpdate)))

	e.notifyFeatureListeners(newlyInstalled, false)
	e.notifyFeatureListeners(uninstalledFeatures, true)
	logger.Info("deployment complete", "duration", time.Since(start))
	if o.Verbose {
		fmt.Println("karaf: deployment complete in", time.Since(start))
	}
	return nil
}

func (e *Engine) mergedStreamProviders(fromResolver map[string]resolver.StreamProvider) map[string]resolver.StreamProvider {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := make(map[string]resolver.StreamProvider, len(e.streamProviders)+len(fromResolver))
	for uri, p := range e.streamProviders {
		merged[uri] = p
	}
	for uri, p := range fromResolver {
		merged[uri] = p
	}
	return merged
}

func (e *Engine) listenersSnapshot() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Listener(nil), e.listeners...)
}

func (e *Engine) notifyRepositoryListeners(uris []string, removed, replayed bool) {
	for _, l := range e.listenersSnapshot() {
		for _, uri := range uris {
			l.RepositoryChanged(RepositoryEvent{URI: uri, Removed: removed, Replayed: replayed})
		}
	}
}

func (e *Engine) notifyFeatureListeners(ids []string, uninstalled bool) {
	for _, l := range e.listenersSnapshot() {
		for _, id := range ids {
			l.FeatureChanged(FeatureEvent{ID: catalog.ParseFeatureID(id), Uninstalled: uninstalled})
		}
	}
}

func featureIDsFrom(resources []resolver.Resource) []catalog.FeatureID {
	var ids []catalog.FeatureID
	for _, r := range resources {
		if r.IsFeatureNamespace() {
			ids = append(ids, catalog.FeatureID{Name: r.FeatureName, Version: r.FeatureVersion})
		}
	}
	return ids
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func cloneManagedSet(ids []string) map[runtime.ModuleID]bool {
	set := make(map[runtime.ModuleID]bool, len(ids))
	for _, id := range ids {
		set[runtime.ModuleID(id)] = true
	}
	return set
}

func cloneChecksums(src map[state.ModuleLocation]uint32) map[state.ModuleLocation]uint32 {
	dst := make(map[state.ModuleLocation]uint32, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func moduleIDStrings(ids map[runtime.ModuleID]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
