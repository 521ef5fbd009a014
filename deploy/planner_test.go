package deploy

import (
	"testing"

	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
)

func TestPlanFreshInstall(t *testing.T) {
	p := NewPlanner()
	resolved := []resolver.Resource{{SymbolicName: "x.b", Version: "1.0.0", URI: "mvn:x/b/1.0.0"}}

	plan, err := p.Plan(resolved, nil, nil, nil, streamProviders(map[string]string{"mvn:x/b/1.0.0": "content"}))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToInstall) != 1 || plan.ToInstall[0].SymbolicName != "x.b" {
		t.Fatalf("ToInstall = %+v, want [x.b]", plan.ToInstall)
	}
	if len(plan.ToUpdate) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("ToUpdate/ToDelete should be empty on a fresh install, got %+v / %+v", plan.ToUpdate, plan.ToDelete)
	}
}

func TestPlanSnapshotUpdateOnChangedChecksum(t *testing.T) {
	p := NewPlanner()
	resolved := []resolver.Resource{{SymbolicName: "x.b", Version: "1.0.0-SNAPSHOT", URI: "mvn:x/b/1.0.0-SNAPSHOT"}}
	live := []runtime.Module{{ID: "m1", SymbolicName: "x.b", Version: "1.0.0-SNAPSHOT", Location: "mvn:x/b/1.0.0-SNAPSHOT", State: runtime.Active}}
	managed := map[runtime.ModuleID]bool{"m1": true}
	old := map[state.ModuleLocation]uint32{"mvn:x/b/1.0.0-SNAPSHOT": 1}

	plan, err := p.Plan(resolved, live, managed, old, streamProviders(map[string]string{"mvn:x/b/1.0.0-SNAPSHOT": "new-content"}))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToUpdate) != 1 {
		t.Fatalf("ToUpdate = %+v, want one entry for the changed snapshot", plan.ToUpdate)
	}
	if len(plan.ToInstall) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("ToInstall/ToDelete should be empty, got %+v / %+v", plan.ToInstall, plan.ToDelete)
	}
}

func TestPlanChecksumUnchangedLeavesModuleAlone(t *testing.T) {
	p := NewPlanner()
	resolved := []resolver.Resource{{SymbolicName: "x.b", Version: "1.0.0-SNAPSHOT", URI: "mvn:x/b/1.0.0-SNAPSHOT"}}
	live := []runtime.Module{{ID: "m1", SymbolicName: "x.b", Version: "1.0.0-SNAPSHOT", Location: "mvn:x/b/1.0.0-SNAPSHOT", State: runtime.Active}}
	managed := map[runtime.ModuleID]bool{"m1": true}

	providers := streamProviders(map[string]string{"mvn:x/b/1.0.0-SNAPSHOT": "same-content"})
	sum, _ := Checksum(mustOpen(t, providers["mvn:x/b/1.0.0-SNAPSHOT"]))
	old := map[state.ModuleLocation]uint32{"mvn:x/b/1.0.0-SNAPSHOT": sum}

	plan, err := p.Plan(resolved, live, managed, old, providers)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToUpdate) != 0 || len(plan.ToDelete) != 0 {
		t.Fatalf("an unchanged checksum should leave the module in neither set, got ToUpdate=%+v ToDelete=%+v", plan.ToUpdate, plan.ToDelete)
	}
}

func TestPlanUnmanagedUnmatchedModuleIgnored(t *testing.T) {
	p := NewPlanner()
	live := []runtime.Module{{ID: "m1", SymbolicName: "x.unmanaged", Version: "1.0.0", State: runtime.Active}}
	plan, err := p.Plan(nil, live, map[runtime.ModuleID]bool{}, nil, nil)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToDelete) != 0 {
		t.Fatalf("an unmanaged unmatched module must not be deleted, got %+v", plan.ToDelete)
	}
}

func TestPlanManagedUnmatchedModuleDeleted(t *testing.T) {
	p := NewPlanner()
	live := []runtime.Module{{ID: "m1", SymbolicName: "x.gone", Version: "1.0.0", State: runtime.Active}}
	plan, err := p.Plan(nil, live, map[runtime.ModuleID]bool{"m1": true}, nil, nil)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToDelete) != 1 || plan.ToDelete[0] != "m1" {
		t.Fatalf("ToDelete = %+v, want [m1]", plan.ToDelete)
	}
}

func TestPlanVersionRangeRehoming(t *testing.T) {
	p := NewPlanner()
	// A managed module at x.b/1.0.5 has no identity match, but the
	// resolved x.b/1.0.9 falls in its same major.minor update range and
	// should be reclassified as an update rather than delete+install.
	resolved := []resolver.Resource{{SymbolicName: "x.b", Version: "1.0.9", URI: "mvn:x/b/1.0.9"}}
	live := []runtime.Module{{ID: "m1", SymbolicName: "x.b", Version: "1.0.5", Location: "mvn:x/b/1.0.5", State: runtime.Active}}
	managed := map[runtime.ModuleID]bool{"m1": true}

	plan, err := p.Plan(resolved, live, managed, nil, streamProviders(map[string]string{"mvn:x/b/1.0.9": "content"}))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.ToDelete) != 0 {
		t.Fatalf("the rehomed module should be removed from ToDelete, got %+v", plan.ToDelete)
	}
	resource, ok := plan.ToUpdate["m1"]
	if !ok {
		t.Fatalf("expected m1 to be reclassified into ToUpdate, got %+v", plan.ToUpdate)
	}
	if resource.Version != "1.0.9" {
		t.Fatalf("ToUpdate[m1] = %+v, want version 1.0.9", resource)
	}
}

func TestPlanVersionRangeRehomingPicksHighestCandidate(t *testing.T) {
	p := NewPlanner()
	resolved := []resolver.Resource{{SymbolicName: "x.b", Version: "1.0.9", URI: "mvn:x/b/1.0.9"}}
	live := []runtime.Module{
		{ID: "m1", SymbolicName: "x.b", Version: "1.0.3", Location: "mvn:x/b/1.0.3", State: runtime.Active},
		{ID: "m2", SymbolicName: "x.b", Version: "1.0.5", Location: "mvn:x/b/1.0.5", State: runtime.Active},
	}
	managed := map[runtime.ModuleID]bool{"m1": true, "m2": true}

	plan, err := p.Plan(resolved, live, managed, nil, streamProviders(map[string]string{"mvn:x/b/1.0.9": "content"}))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if _, ok := plan.ToUpdate["m2"]; !ok {
		t.Fatalf("expected the highest-versioned candidate m2 to be rehomed, got ToUpdate=%+v", plan.ToUpdate)
	}
	if len(plan.ToDelete) != 1 || plan.ToDelete[0] != "m1" {
		t.Fatalf("expected m1 to remain in ToDelete, got %+v", plan.ToDelete)
	}
}

func mustOpen(t *testing.T, p resolver.StreamProvider) (r interface {
	Read(b []byte) (int, error)
}) {
	t.Helper()
	s, err := p.Open()
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
