package karaf

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/PeteGashek/karaf/catalog"
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
)

// memStream serves fixed "symbolicName version" content, matching
// runtime.Fake's tiny manifest format.
type memStream string

func (s memStream) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}

func newTestEngine(t *testing.T, repo catalog.Repository, providers map[string]resolver.StreamProvider, opts ...EngineOption) (*Engine, *runtime.Fake) {
	t.Helper()
	loader := catalog.StaticLoader{repo.URI: repo}
	cat := catalog.New(loader)
	if _, err := cat.AddRepository(repo.URI); err != nil {
		t.Fatalf("AddRepository: %v", err)
	}
	res := resolver.NewDefaultResolver(cat)
	host := runtime.NewFake()
	store := state.NewMemStore()
	allOpts := append([]EngineOption{WithStreamProviders(providers)}, opts...)
	e, err := New(cat, res, host, store, allOpts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, host
}

func TestEngineFreshInstallStartsModules(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{
				Name:    "webapp",
				Version: "1.0.0",
				Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}},
			},
		},
	}
	providers := map[string]resolver.StreamProvider{
		"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0"),
	}
	e, host := newTestEngine(t, repo, providers)

	if err := e.Install(context.Background(), []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	modules := host.Modules()
	if len(modules) != 1 {
		t.Fatalf("Modules() = %+v, want exactly one installed module", modules)
	}
	if modules[0].State != runtime.Active {
		t.Fatalf("module state = %v, want Active", modules[0].State)
	}

	installed := e.List()
	if len(installed) != 1 || installed[0].Name != "webapp" {
		t.Fatalf("List() = %+v, want [webapp/1.0.0]", installed)
	}
}

func TestEngineInstallIsIdempotent(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0")}
	e, host := newTestEngine(t, repo, providers)

	ctx := context.Background()
	if err := e.Install(ctx, []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	firstID := host.Modules()[0].ID

	if err := e.Install(ctx, []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("second Install: %v", err)
	}
	modules := host.Modules()
	if len(modules) != 1 || modules[0].ID != firstID {
		t.Fatalf("re-installing the same feature should not install a second module, got %+v", modules)
	}
}

func TestEngineInstallThenUninstallRemovesModule(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0")}
	e, host := newTestEngine(t, repo, providers)

	ctx := context.Background()
	if err := e.Install(ctx, []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := e.Uninstall(ctx, "webapp/1.0.0"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if modules := host.Modules(); len(modules) != 0 {
		t.Fatalf("Modules() = %+v, want none after uninstall", modules)
	}
	if installed := e.List(); len(installed) != 0 {
		t.Fatalf("List() = %+v, want none after uninstall", installed)
	}
}

func TestEngineUninstallWithoutVersionIsAmbiguous(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
			{Name: "webapp", Version: "2.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/2.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{
		"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0"),
		"mvn:test/webapp/2.0.0": memStream("test.webapp 2.0.0"),
	}
	e, _ := newTestEngine(t, repo, providers)
	ctx := context.Background()

	if err := e.Install(ctx, []string{"webapp/1.0.0", "webapp/2.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	err := e.Uninstall(ctx, "webapp")
	if err == nil {
		t.Fatal("Uninstall without a version should fail when multiple versions are installed")
	}
	var kerr *Error
	if !errors.As(err, &kerr) || kerr.Kind != Ambiguous {
		t.Fatalf("err = %v, want Kind=Ambiguous", err)
	}
}

func TestEngineCrossRepositoryDependencyResolves(t *testing.T) {
	base := catalog.Repository{
		URI:  "repo:base",
		Name: "base",
		Features: []catalog.Feature{
			{Name: "core", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/core/1.0.0"}}},
		},
	}
	ext := catalog.Repository{
		URI:                    "repo:ext",
		Name:                   "ext",
		ReferencedRepositories: []string{"repo:base"},
		Features: []catalog.Feature{
			{
				Name:         "webapp",
				Version:      "1.0.0",
				Bundles:      []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}},
				Dependencies: []catalog.FeatureRef{{Name: "core", Version: "1.0.0"}},
			},
		},
	}
	providers := map[string]resolver.StreamProvider{
		"mvn:test/core/1.0.0":   memStream("test.core 1.0.0"),
		"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0"),
	}
	loader := catalog.StaticLoader{base.URI: base, ext.URI: ext}
	cat := catalog.New(loader)
	if _, err := cat.AddRepository(ext.URI); err != nil {
		t.Fatalf("AddRepository: %v", err)
	}
	res := resolver.NewDefaultResolver(cat)
	host := runtime.NewFake()
	store := state.NewMemStore()
	e, err := New(cat, res, host, store, WithStreamProviders(providers))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Install(context.Background(), []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	modules := host.Modules()
	if len(modules) != 2 {
		t.Fatalf("Modules() = %+v, want both core and webapp installed", modules)
	}
}

func TestEngineConditionalExpandsWhenTriggerSatisfied(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{
				Name:    "webapp",
				Version: "1.0.0",
				Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}},
				Conditionals: []catalog.Conditional{
					{
						// Trigger ranges are lower-exclusive, so the trigger
						// version sits below the ssl version installed here.
						Triggers: []catalog.FeatureRef{{Name: "ssl", Version: "0.9.0"}},
						Bundles:  []catalog.BundleRef{{Location: "mvn:test/webapp-ssl/1.0.0"}},
					},
				},
			},
			{Name: "ssl", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/ssl/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{
		"mvn:test/webapp/1.0.0":     memStream("test.webapp 1.0.0"),
		"mvn:test/ssl/1.0.0":        memStream("test.ssl 1.0.0"),
		"mvn:test/webapp-ssl/1.0.0": memStream("test.webapp-ssl 1.0.0"),
	}
	e, host := newTestEngine(t, repo, providers)

	if err := e.Install(context.Background(), []string{"webapp/1.0.0", "ssl/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	names := map[string]bool{}
	for _, m := range host.Modules() {
		names[m.SymbolicName] = true
	}
	if !names["test.webapp-ssl"] {
		t.Fatalf("expected the conditional webapp-ssl bundle to install when ssl is present, got modules %v", names)
	}
}

func TestEngineFailedStartDoesNotAbortBatch(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "good", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/good/1.0.0"}}},
			{Name: "bad", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/bad/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{
		"mvn:test/good/1.0.0": memStream("test.good 1.0.0"),
		"mvn:test/bad/1.0.0":  memStream("test.bad 1.0.0"),
	}
	e, host := newTestEngine(t, repo, providers)
	host.OnRefresh(func(ids []runtime.ModuleID) {})

	err := e.Install(context.Background(), []string{"good/1.0.0", "bad/1.0.0"})
	// runtime.Fake never fails Start, so this exercises the success path
	// end to end; the executor package's own tests cover the aggregation
	// of a genuine start failure (deploy.TestExecuteStartFailureIsAggregatedNotFatal).
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(host.Modules()) != 2 {
		t.Fatalf("Modules() = %+v, want both modules installed despite independent start outcomes", host.Modules())
	}
}

func TestEngineStatePersistsAcrossRestart(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0")}
	loader := catalog.StaticLoader{repo.URI: repo}
	cat := catalog.New(loader)
	if _, err := cat.AddRepository(repo.URI); err != nil {
		t.Fatalf("AddRepository: %v", err)
	}
	res := resolver.NewDefaultResolver(cat)
	host := runtime.NewFake()
	store := state.NewMemStore()

	e1, err := New(cat, res, host, store, WithStreamProviders(providers))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e1.Install(context.Background(), []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	e2, err := New(cat, res, host, store, WithStreamProviders(providers))
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	if installed := e2.List(); len(installed) != 1 || installed[0].Name != "webapp" {
		t.Fatalf("List() after reload = %+v, want [webapp/1.0.0]", installed)
	}
}

func TestEngineAddListenerReplaysExistingState(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
		},
	}
	providers := map[string]resolver.StreamProvider{"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0")}
	e, _ := newTestEngine(t, repo, providers)

	if err := e.Install(context.Background(), []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	var repoEvents []RepositoryEvent
	var featureEvents []FeatureEvent
	e.AddListener(Listener(listenerFuncs{
		onRepo: func(ev RepositoryEvent) { repoEvents = append(repoEvents, ev) },
		onFeat: func(ev FeatureEvent) { featureEvents = append(featureEvents, ev) },
	}))

	if len(repoEvents) != 1 || !repoEvents[0].Replayed {
		t.Fatalf("repoEvents = %+v, want one replayed RepositoryEvent", repoEvents)
	}
	if len(featureEvents) != 1 || !featureEvents[0].Replayed || featureEvents[0].ID.Name != "webapp" {
		t.Fatalf("featureEvents = %+v, want one replayed FeatureEvent for webapp", featureEvents)
	}
}

// listenerFuncs adapts two closures to the Listener interface for tests.
type listenerFuncs struct {
	onRepo func(RepositoryEvent)
	onFeat func(FeatureEvent)
}

func (l listenerFuncs) RepositoryChanged(ev RepositoryEvent) { l.onRepo(ev) }
func (l listenerFuncs) FeatureChanged(ev FeatureEvent)       { l.onFeat(ev) }

// staticFinder resolves every name present in its map to a fixed
// repository URI, emulating a registry lookup backend.
type staticFinder map[string]string

func (f staticFinder) FindRepositoryURI(featureName string) (string, error) {
	uri, ok := f[featureName]
	if !ok {
		return "", errors.New("no repository declares " + featureName)
	}
	return uri, nil
}

func TestEngineInstallUsesFinderForUndeclaredFeature(t *testing.T) {
	repo := catalog.Repository{
		URI:  "repo:test",
		Name: "test",
		Features: []catalog.Feature{
			{Name: "webapp", Version: "1.0.0", Bundles: []catalog.BundleRef{{Location: "mvn:test/webapp/1.0.0"}}},
		},
	}
	loader := catalog.StaticLoader{repo.URI: repo}
	cat := catalog.New(loader)
	res := resolver.NewDefaultResolver(cat)
	host := runtime.NewFake()
	store := state.NewMemStore()
	providers := map[string]resolver.StreamProvider{"mvn:test/webapp/1.0.0": memStream("test.webapp 1.0.0")}

	e, err := New(cat, res, host, store,
		WithStreamProviders(providers),
		WithFinder(staticFinder{"webapp": repo.URI}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Install(context.Background(), []string{"webapp/1.0.0"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if _, ok := cat.RepositoryByName("test"); !ok {
		t.Fatal("expected the Finder-resolved repository to be loaded into the catalog")
	}
	if len(host.Modules()) != 1 {
		t.Fatalf("Modules() = %v, want one installed module", host.Modules())
	}
}
