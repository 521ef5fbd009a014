package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory ModuleHost, used by the executor's own tests and
// by cmd/karafd's no-external-runtime demo mode. It mints module ids
// with google/uuid, the same role metav1.ObjectMeta.UID plays for the
// teacher's Kubernetes resources.
type Fake struct {
	mu      sync.Mutex
	modules map[ModuleID]*Module
	refresh func(ids []ModuleID) // optional hook for tests observing refresh calls
}

// NewFake builds an empty Fake host.
func NewFake() *Fake {
	return &Fake{modules: make(map[ModuleID]*Module)}
}

// OnRefresh installs a hook invoked synchronously from Refresh, for
// tests that want to observe or fail a refresh call.
func (f *Fake) OnRefresh(hook func(ids []ModuleID)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = hook
}

func (f *Fake) Install(ctx context.Context, location string, content io.Reader) (ModuleID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ModuleID(uuid.NewString())
	symbolicName, ver := readManifest(content)
	f.modules[id] = &Module{
		ID:           id,
		SymbolicName: symbolicName,
		Version:      ver,
		Location:     location,
		State:        Installed,
	}
	return id, nil
}

func (f *Fake) Update(ctx context.Context, id ModuleID, content io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[id]
	if !ok {
		return fmt.Errorf("runtime: update unknown module %s", id)
	}
	symbolicName, ver := readManifest(content)
	if symbolicName != "" {
		m.SymbolicName = symbolicName
	}
	if ver != "" {
		m.Version = ver
	}
	return nil
}

func (f *Fake) Uninstall(ctx context.Context, id ModuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.modules[id]; !ok {
		return fmt.Errorf("runtime: uninstall unknown module %s", id)
	}
	delete(f.modules, id)
	return nil
}

func (f *Fake) Stop(ctx context.Context, id ModuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[id]
	if !ok {
		return fmt.Errorf("runtime: stop unknown module %s", id)
	}
	m.State = Resolved
	return nil
}

func (f *Fake) Start(ctx context.Context, id ModuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[id]
	if !ok {
		return fmt.Errorf("runtime: start unknown module %s", id)
	}
	m.State = Active
	return nil
}

func (f *Fake) Refresh(ctx context.Context, ids []ModuleID) error {
	f.mu.Lock()
	hook := f.refresh
	f.mu.Unlock()
	if hook != nil {
		hook(ids)
	}
	return nil
}

func (f *Fake) Modules() []Module {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Module, 0, len(f.modules))
	for _, m := range f.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) SetStartLevel(ctx context.Context, id ModuleID, level uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[id]
	if !ok {
		return fmt.Errorf("runtime: set start level on unknown module %s", id)
	}
	m.StartLevel = level
	return nil
}

// RegisterService lets a test declare that a module provides a
// service, for exercising the executor's service-usage stop ordering.
func (f *Fake) RegisterService(id ModuleID, ref ServiceRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.modules[id]; ok {
		m.Registers = append(m.Registers, ref)
	}
}

// UseService lets a test declare that a module consumes a service
// interface another module registers.
func (f *Fake) UseService(id ModuleID, iface string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.modules[id]; ok {
		m.UsesInterfaces = append(m.UsesInterfaces, iface)
	}
}

// SetFragmentHost marks a module as a fragment of hostSymbolicName.
func (f *Fake) SetFragmentHost(id ModuleID, hostSymbolicName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.modules[id]; ok {
		m.FragmentHost = hostSymbolicName
	}
}

// readManifest reads a tiny "symbolicName version" fixture format
// used by tests and the demo StreamProvider, rather than a real module
// archive's manifest (parsing that format is out of scope).
func readManifest(r io.Reader) (symbolicName, ver string) {
	if r == nil {
		return "", ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", ""
	}
	var rest string
	n, _ := fmt.Sscanf(string(data), "%s %s", &symbolicName, &rest)
	if n == 2 {
		ver = rest
	}
	return symbolicName, ver
}
