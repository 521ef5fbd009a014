// Package catalog models the repository/feature catalog: the set of
// named, versioned features a deployment can request, loaded
// transitively from one or more repositories and indexed by
// name→version for resolution.
package catalog

import (
	"fmt"
	"strings"

	"github.com/PeteGashek/karaf/version"
)

// FeatureID identifies a feature by name and version. The string form
// is "name/version"; a feature with no declared version normalizes its
// version to version.Zero.
type FeatureID struct {
	Name    string
	Version string
}

func (id FeatureID) String() string {
	v := id.Version
	if v == "" {
		v = version.Zero
	}
	return fmt.Sprintf("%s/%s", id.Name, v)
}

// ParseFeatureID parses the "<name>(/<version>)?" grammar. A missing
// version normalizes to version.Zero.
func ParseFeatureID(raw string) FeatureID {
	name, v, found := strings.Cut(raw, "/")
	if !found || v == "" {
		v = version.Zero
	}
	return FeatureID{Name: name, Version: v}
}

// FeatureRef references a feature by name and an optional version or
// version range spec, as it appears in a Feature's Dependencies or a
// Conditional's Triggers.
type FeatureRef struct {
	Name    string
	Version string // literal version, range literal, or empty for "any"
}

// BundleRef is one module reference contributed by a feature. Location
// is the primary identity; the same location contributed by multiple
// features is merged, last writer wins (see DESIGN.md).
type BundleRef struct {
	Location   string
	StartLevel *uint32
	Dependency bool
}

// ConfigRef is a named configuration payload a feature wants installed
// alongside its bundles. The payload format is opaque to the engine.
type ConfigRef struct {
	PID       string
	Append    bool
	Overrides map[string]string
}

// Conditional is a feature fragment contributed only when every trigger
// feature is resolved. It materializes as a synthetic feature named
// "<parent-name>-condition-<index>/<parent-version>".
type Conditional struct {
	Triggers       []FeatureRef
	Bundles        []BundleRef
	Configurations []ConfigRef
}

// SyntheticID returns the synthetic feature id this conditional
// contributes as, given its parent feature and its index within the
// parent's Conditionals slice.
func (c Conditional) SyntheticID(parent Feature, index int) FeatureID {
	return FeatureID{
		Name:    fmt.Sprintf("%s-condition-%d", parent.Name, index),
		Version: normalizeVersion(parent.Version),
	}
}

// Feature is a named, versioned aggregate of bundles, configurations,
// dependencies on other features, and conditional extensions.
type Feature struct {
	Name           string
	Version        string
	Bundles        []BundleRef
	Dependencies   []FeatureRef
	Conditionals   []Conditional
	Configurations []ConfigRef
}

// ID returns this feature's identity, normalizing an absent version to
// version.Zero.
func (f Feature) ID() FeatureID {
	return FeatureID{Name: f.Name, Version: normalizeVersion(f.Version)}
}

func normalizeVersion(v string) string {
	if v == "" {
		return version.Zero
	}
	return v
}

// Repository is a named catalog source that contributes features and
// may reference other repositories transitively.
type Repository struct {
	URI                    string
	Name                   string
	ReferencedRepositories []string
	Features               []Feature
}
