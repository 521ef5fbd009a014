package catalog

import (
	"fmt"
	"sync"

	"github.com/PeteGashek/karaf/version"
)

// Finder resolves a bare feature name to the repository URI that
// declares it, before that repository has been explicitly added. The
// lookup backend (a registry or index over external metadata) is out
// of scope; this interface preserves the seam the original
// FeaturesServiceImpl exposes as getRepositoryUriFor/getRepositoryNames.
type Finder interface {
	FindRepositoryURI(featureName string) (string, error)
}

// Event is emitted by Catalog mutations. Replayed is true when the
// event is being replayed to a newly registered listener instead of
// reflecting a just-happened mutation.
type Event struct {
	Kind     EventKind
	URI      string
	Replayed bool
}

// EventKind distinguishes catalog event types.
type EventKind int

const (
	RepositoryAdded EventKind = iota
	RepositoryRemoved
)

// Catalog holds the loaded repository set and the derived name→version
// feature index, computed on demand and invalidated by any mutation.
type Catalog struct {
	loader RepositoryLoader

	mu    sync.Mutex
	repos map[string]Repository // by URI
	index map[string]map[string]Feature
}

// New builds an empty Catalog backed by loader.
func New(loader RepositoryLoader) *Catalog {
	return &Catalog{loader: loader, repos: make(map[string]Repository)}
}

// AddRepository loads uri (and, transitively, every repository it
// references that isn't already loaded) and invalidates the feature
// index. It returns the URIs it loaded; it is a no-op, returning no
// URIs, if uri is already present.
func (c *Catalog) AddRepository(uri string) (added []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repos[uri]; ok {
		return nil, nil
	}

	worklist := []string{uri}
	seen := map[string]bool{}
	for len(worklist) > 0 {
		u := worklist[0]
		worklist = worklist[1:]
		if seen[u] {
			continue
		}
		seen[u] = true
		if _, ok := c.repos[u]; ok {
			continue
		}
		repo, err := c.loader.Load(u)
		if err != nil {
			return added, fmt.Errorf("catalog: add repository %s: %w", u, err)
		}
		c.repos[u] = repo
		added = append(added, u)
		worklist = append(worklist, repo.ReferencedRepositories...)
	}
	c.index = nil
	return added, nil
}

// RemoveRepository removes uri and every repository reachable from it
// that is not also reachable from another root, invalidating the
// feature index. Whether features from other repositories that depend
// on the removed one remain resolvable is not enforced here — see
// spec.md §9(b).
func (c *Catalog) RemoveRepository(uri string) (removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repos[uri]; !ok {
		return nil
	}

	// A root is a loaded repository that no loaded repository references;
	// repositories pulled in transitively are not roots themselves.
	referenced := map[string]bool{}
	for _, repo := range c.repos {
		for _, ref := range repo.ReferencedRepositories {
			referenced[ref] = true
		}
	}
	reachableFromOthers := map[string]bool{}
	for root := range c.repos {
		if root == uri || referenced[root] {
			continue
		}
		for u := range c.reachable(root) {
			reachableFromOthers[u] = true
		}
	}

	toRemove := c.reachable(uri)
	for u := range toRemove {
		if reachableFromOthers[u] {
			continue
		}
		delete(c.repos, u)
		removed = append(removed, u)
	}
	c.index = nil
	return removed
}

func (c *Catalog) reachable(root string) map[string]bool {
	seen := map[string]bool{}
	worklist := []string{root}
	for len(worklist) > 0 {
		u := worklist[0]
		worklist = worklist[1:]
		if seen[u] {
			continue
		}
		seen[u] = true
		repo, ok := c.repos[u]
		if !ok {
			continue
		}
		worklist = append(worklist, repo.ReferencedRepositories...)
	}
	return seen
}

// Repositories returns the URIs of every currently loaded repository,
// used by Engine.AddListener to replay RepositoryAdded events.
func (c *Catalog) Repositories() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	uris := make([]string, 0, len(c.repos))
	for uri := range c.repos {
		uris = append(uris, uri)
	}
	return uris
}

// RepositoryByName looks up a loaded repository by its declared Name
// rather than its URI.
func (c *Catalog) RepositoryByName(name string) (Repository, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, repo := range c.repos {
		if repo.Name == name {
			return repo, true
		}
	}
	return Repository{}, false
}

// Features returns the name→version→Feature index, computing and
// caching it if necessary. If multiple repositories contribute the
// same (name, version), the last one encountered in map iteration
// order wins (spec.md §9(c); not relied upon by tests across repos).
func (c *Catalog) Features() map[string]map[string]Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index
	}
	index := make(map[string]map[string]Feature)
	for _, repo := range c.repos {
		for _, f := range repo.Features {
			id := f.ID()
			byVersion, ok := index[id.Name]
			if !ok {
				byVersion = make(map[string]Feature)
				index[id.Name] = byVersion
			}
			byVersion[id.Version] = f
		}
	}
	c.index = index
	return index
}

// Match resolves a "name[/version-or-range]" request to a concrete
// feature: an empty or version.Zero spec matches any version and
// returns the highest; a literal existing key returns that exact
// feature; otherwise versionSpec is parsed as an inclusive range and
// the highest version within it is returned.
func (c *Catalog) Match(name, versionSpec string) (Feature, error) {
	byVersion := c.Features()[name]
	if len(byVersion) == 0 {
		return Feature{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if versionSpec == "" || versionSpec == version.Zero {
		return highestVersion(byVersion)
	}
	if f, ok := byVersion[versionSpec]; ok {
		return f, nil
	}
	r, err := version.ParseRange(versionSpec)
	if err != nil {
		return Feature{}, fmt.Errorf("catalog: invalid version spec %q: %w", versionSpec, err)
	}
	var best Feature
	var bestVersion version.Version
	found := false
	for raw, f := range byVersion {
		v, err := version.Parse(raw)
		if err != nil {
			continue
		}
		if !r.Contains(v) {
			continue
		}
		if !found || version.Compare(v, bestVersion) > 0 {
			best, bestVersion, found = f, v, true
		}
	}
	if !found {
		return Feature{}, fmt.Errorf("%w: %s/%s", ErrNotFound, name, versionSpec)
	}
	return best, nil
}

// MatchAll returns every version of name declared by the loaded
// repositories, in no particular order. It does not consult what is
// installed.
func (c *Catalog) MatchAll(name string) []Feature {
	byVersion := c.Features()[name]
	features := make([]Feature, 0, len(byVersion))
	for _, f := range byVersion {
		features = append(features, f)
	}
	return features
}

func highestVersion(byVersion map[string]Feature) (Feature, error) {
	var best Feature
	var bestVersion version.Version
	found := false
	for raw, f := range byVersion {
		v, err := version.Parse(raw)
		if err != nil {
			continue
		}
		if !found || version.Compare(v, bestVersion) > 0 {
			best, bestVersion, found = f, v, true
		}
	}
	if !found {
		return Feature{}, ErrNotFound
	}
	return best, nil
}
