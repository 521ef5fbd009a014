package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PeteGashek/karaf/catalog"
)

// DefaultResolver resolves a target feature set by transitively
// following Feature.Dependencies through a catalog, collecting every
// bundle reached and a feature-namespace resource per resolved feature.
// It has no notion of capability/requirement matching between bundles
// (that backend is out of scope); it is the catalog-driven stand-in the
// engine's tests and demo mode run against, the same role the teacher's
// DefaultResolver plays for CapabilityBinding resolution.
type DefaultResolver struct {
	Catalog *catalog.Catalog
}

// NewDefaultResolver builds a DefaultResolver backed by cat.
func NewDefaultResolver(cat *catalog.Catalog) *DefaultResolver {
	return &DefaultResolver{Catalog: cat}
}

func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (Output, error) {
	extra := make(map[catalog.FeatureID]catalog.Feature, len(in.ExtraFeatures))
	for _, f := range in.ExtraFeatures {
		extra[f.ID()] = f
	}

	var (
		resources []Resource
		seenIDs   = map[catalog.FeatureID]bool{}
		worklist  []catalog.FeatureID

		// bundleRefs/bundleSource implement mergeBundleInfo's "last
		// feature wins" policy (spec.md §9(c)): when two features
		// contribute a bundle at the same Location, the attributes
		// (start level, dependency flag) of whichever feature is
		// processed last overwrite the earlier one's, rather than
		// installing the same location twice.
		bundleRefs   = map[string]catalog.BundleRef{}
		bundleSource = map[string]catalog.Feature{}
	)

	for _, raw := range in.TargetFeatureIDs {
		id := catalog.ParseFeatureID(raw)
		f, err := r.lookup(id, extra)
		if err != nil {
			return Output{}, fmt.Errorf("%w: %s: %v", ErrUnresolvable, raw, err)
		}
		worklist = append(worklist, f.ID())
		extra[f.ID()] = f
	}

	for len(worklist) > 0 {
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		default:
		}
		id := worklist[0]
		worklist = worklist[1:]
		if seenIDs[id] {
			continue
		}
		seenIDs[id] = true

		f, err := r.lookup(id, extra)
		if err != nil {
			return Output{}, fmt.Errorf("%w: %s: %v", ErrUnresolvable, id, err)
		}

		resources = append(resources, Resource{
			FeatureName:    f.Name,
			FeatureVersion: normalizedVersion(f),
		})
		for _, b := range f.Bundles {
			bundleRefs[b.Location] = b
			bundleSource[b.Location] = f
		}
		for _, dep := range f.Dependencies {
			depID, err := r.resolveRef(dep, extra)
			if err != nil {
				return Output{}, fmt.Errorf("%w: dependency %s of %s: %v", ErrUnresolvable, dep.Name, id, err)
			}
			worklist = append(worklist, depID)
		}
	}

	for loc, b := range bundleRefs {
		resources = append(resources, bundleResource(b, bundleSource[loc]))
	}

	sort.Slice(resources, func(i, j int) bool {
		return resourceKey(resources[i]) < resourceKey(resources[j])
	})
	return Output{Resources: resources}, nil
}

func (r *DefaultResolver) lookup(id catalog.FeatureID, extra map[catalog.FeatureID]catalog.Feature) (catalog.Feature, error) {
	if f, ok := extra[id]; ok {
		return f, nil
	}
	if r.Catalog == nil {
		return catalog.Feature{}, fmt.Errorf("no catalog available to resolve %s", id)
	}
	return r.Catalog.Match(id.Name, id.Version)
}

func (r *DefaultResolver) resolveRef(ref catalog.FeatureRef, extra map[catalog.FeatureID]catalog.Feature) (catalog.FeatureID, error) {
	for id, f := range extra {
		if id.Name == ref.Name && (ref.Version == "" || id.Version == ref.Version) {
			return f.ID(), nil
		}
	}
	if r.Catalog == nil {
		return catalog.FeatureID{}, fmt.Errorf("no catalog available to resolve %s", ref.Name)
	}
	f, err := r.Catalog.Match(ref.Name, ref.Version)
	if err != nil {
		return catalog.FeatureID{}, err
	}
	return f.ID(), nil
}

func normalizedVersion(f catalog.Feature) string {
	return f.ID().Version
}

func bundleResource(b catalog.BundleRef, f catalog.Feature) Resource {
	symbolicName, ver, ok := parseMavenURI(b.Location)
	if !ok {
		symbolicName, ver = b.Location, normalizedVersion(f)
	}
	return Resource{SymbolicName: symbolicName, Version: ver, URI: b.Location, StartLevel: b.StartLevel, Dependency: b.Dependency}
}

// parseMavenURI extracts a symbolic name and version out of a
// "mvn:group/artifact/version" coordinate. It reports ok=false for any
// other URI scheme, which the deployment planner's updateable predicate
// treats as mutable content (spec.md §4.4).
func parseMavenURI(uri string) (symbolicName, ver string, ok bool) {
	if !strings.HasPrefix(uri, "mvn:") {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(uri, "mvn:"), "/")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0] + "." + parts[1], parts[2], true
}

func resourceKey(r Resource) string {
	if r.IsFeatureNamespace() {
		return "feature:" + r.FeatureName + "/" + r.FeatureVersion
	}
	return "bundle:" + r.SymbolicName + "/" + r.Version
}
