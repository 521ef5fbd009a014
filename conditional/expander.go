// Package conditional computes the fixpoint inclusion of conditional
// features whose trigger features are present in an already-resolved
// feature set.
package conditional

import (
	"fmt"

	"github.com/PeteGashek/karaf/catalog"
	"github.com/PeteGashek/karaf/version"
)

// Expander computes the conditional fixpoint expansion described in
// spec.md §4.3. A single pass suffices because the caller re-resolves
// with the expanded set; Expander itself never loops — nested
// conditionals (a conditional's bundles triggering a further
// conditional) are a documented limitation, not a bug here.
type Expander struct {
	Catalog *catalog.Catalog
}

// New builds an Expander backed by cat.
func New(cat *catalog.Catalog) Expander {
	return Expander{Catalog: cat}
}

// Expand inspects every conditional on every feature in installed and
// returns the synthetic features whose triggers are all satisfied by
// some feature in installed. The synthetic features are not added to
// the catalog; callers feed them to the resolver's second pass as
// resolver.Input.ExtraFeatures.
func (e Expander) Expand(installed []catalog.FeatureID) []catalog.Feature {
	features := make([]catalog.Feature, 0, len(installed))
	for _, id := range installed {
		f, err := e.Catalog.Match(id.Name, id.Version)
		if err != nil {
			continue
		}
		features = append(features, f)
	}

	var synthetic []catalog.Feature
	for _, f := range features {
		for i, c := range f.Conditionals {
			if !allTriggersSatisfied(c.Triggers, features) {
				continue
			}
			id := c.SyntheticID(f, i)
			synthetic = append(synthetic, catalog.Feature{
				Name:           id.Name,
				Version:        id.Version,
				Bundles:        c.Bundles,
				Configurations: c.Configurations,
			})
		}
	}
	return synthetic
}

func allTriggersSatisfied(triggers []catalog.FeatureRef, installed []catalog.Feature) bool {
	for _, trig := range triggers {
		if !triggerSatisfied(trig, installed) {
			return false
		}
	}
	return true
}

// triggerSatisfied reports whether some installed feature matches
// trig.Name with a version in the trigger's range: lower-exclusive,
// upper-inclusive around trig.Version (spec.md §4.3 — implementations
// must match this exactly, even though it means a trigger version
// equal to the installed feature's version does not itself satisfy
// the trigger).
func triggerSatisfied(trig catalog.FeatureRef, installed []catalog.Feature) bool {
	triggerVersion := trig.Version
	if triggerVersion == "" {
		triggerVersion = version.Zero
	}
	v, err := version.Parse(triggerVersion)
	if err != nil {
		return false
	}
	r := version.NewRange(v, false, true)
	for _, f := range installed {
		if f.Name != trig.Name {
			continue
		}
		fv, err := version.Parse(f.ID().Version)
		if err != nil {
			continue
		}
		if r.Contains(fv) {
			return true
		}
	}
	return false
}

// IDs returns the string identifiers of features, for merging into a
// resolver.Input.TargetFeatureIDs second-pass call.
func IDs(features []catalog.Feature) []string {
	ids := make([]string, len(features))
	for i, f := range features {
		ids[i] = fmt.Sprintf("%s/%s", f.Name, f.ID().Version)
	}
	return ids
}
