package deploy

import (
	"fmt"
	"strings"

	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
	"github.com/PeteGashek/karaf/version"
)

// Planner computes a Plan from a resolved resource set and the modules
// live on the runtime, per spec.md §4.4's two-pass diff.
type Planner struct {
	// UpdateSnapshots mirrors the updateSnapshots tunable (default true).
	UpdateSnapshots bool
	// BundleUpdateRangeMacro is applied to a remaining resource's version
	// in pass 2 to compute the module-update range (default
	// "${range;[==,=+)}": same major+minor, any patch).
	BundleUpdateRangeMacro string
}

// NewPlanner builds a Planner with the tunables' documented defaults.
func NewPlanner() *Planner {
	return &Planner{UpdateSnapshots: true, BundleUpdateRangeMacro: "${range;[==,=+)}"}
}

// Plan diffs resolved (module-namespace resources only — callers strip
// feature-namespace resources before calling) against live, classifying
// each resource and live module per spec.md §4.4. managed marks which
// live module ids the engine owns; streams opens a resource's content
// for checksum computation, keyed by resource URI.
func (p *Planner) Plan(
	resolved []resolver.Resource,
	live []runtime.Module,
	managed map[runtime.ModuleID]bool,
	oldChecksums map[state.ModuleLocation]uint32,
	streams map[string]resolver.StreamProvider,
) (Plan, error) {
	plan := newPlan(oldChecksums)
	toDeploy := append([]resolver.Resource(nil), resolved...)

	liveByID := make(map[runtime.ModuleID]runtime.Module, len(live))
	for _, m := range live {
		liveByID[m.ID] = m
	}

	// Pass 1 — match-by-identity.
	for _, m := range live {
		if m.SymbolicName == "" {
			continue // the system module is immune
		}
		idx := indexOfMatch(toDeploy, m.SymbolicName, m.Version)
		if idx < 0 {
			if managed[m.ID] {
				plan.ToDelete = append(plan.ToDelete, m.ID)
			}
			continue
		}
		resource := toDeploy[idx]
		if IsUpdateable(resource) && p.UpdateSnapshots && managed[m.ID] {
			changed, newSum, err := p.checksumChanged(resource, m, oldChecksums, streams)
			if err != nil {
				return Plan{}, err
			}
			if changed {
				plan.ToUpdate[m.ID] = resource
				plan.NewChecksums[state.ModuleLocation(m.Location)] = newSum
			}
		}
		plan.ResourceToModule[resource] = m.ID
		toDeploy = append(toDeploy[:idx], toDeploy[idx+1:]...)
	}

	// Pass 2 — version-range rehoming.
	for _, resource := range toDeploy {
		rangeLiteral, err := version.Transform(p.BundleUpdateRangeMacro, resource.Version)
		if err != nil {
			return Plan{}, fmt.Errorf("deploy: bundle update range for %s: %w", resource.SymbolicName, err)
		}
		updateRange, err := version.ParseRange(rangeLiteral)
		if err != nil {
			return Plan{}, fmt.Errorf("deploy: parse bundle update range %q: %w", rangeLiteral, err)
		}

		rehomeIdx := -1
		var rehomeVersion version.Version
		for i, id := range plan.ToDelete {
			m := liveByID[id]
			if m.SymbolicName != resource.SymbolicName {
				continue
			}
			v, err := version.Parse(m.Version)
			if err != nil || !updateRange.Contains(v) {
				continue
			}
			if rehomeIdx < 0 || version.Compare(v, rehomeVersion) > 0 {
				rehomeIdx, rehomeVersion = i, v
			}
		}

		if rehomeIdx >= 0 {
			id := plan.ToDelete[rehomeIdx]
			plan.ToDelete = append(plan.ToDelete[:rehomeIdx], plan.ToDelete[rehomeIdx+1:]...)
			plan.ToUpdate[id] = resource
			plan.ResourceToModule[resource] = id
			continue
		}
		plan.ToInstall = append(plan.ToInstall, resource)
	}

	return plan, nil
}

func (p *Planner) checksumChanged(
	resource resolver.Resource,
	m runtime.Module,
	oldChecksums map[state.ModuleLocation]uint32,
	streams map[string]resolver.StreamProvider,
) (changed bool, newSum uint32, err error) {
	provider, ok := streams[resource.URI]
	if !ok {
		return false, 0, fmt.Errorf("deploy: no stream provider for %s", resource.URI)
	}
	stream, err := provider.Open()
	if err != nil {
		return false, 0, fmt.Errorf("deploy: open stream for %s: %w", resource.URI, err)
	}
	defer stream.Close()
	sum, err := Checksum(stream)
	if err != nil {
		return false, 0, fmt.Errorf("deploy: checksum %s: %w", resource.URI, err)
	}
	old := oldChecksums[state.ModuleLocation(m.Location)]
	return sum != old, sum, nil
}

func indexOfMatch(resources []resolver.Resource, symbolicName, ver string) int {
	for i, r := range resources {
		if r.SymbolicName == symbolicName && versionsEqual(r.Version, ver) {
			return i
		}
	}
	return -1
}

func versionsEqual(a, b string) bool {
	if strings.TrimSpace(a) == strings.TrimSpace(b) {
		return true
	}
	va, errA := version.Parse(a)
	vb, errB := version.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return version.Equal(va, vb)
}
