package resolver

// Resource is the resolver's output unit: a concrete candidate the
// deployment planner can match against live modules. It is opaque to
// the core except for these attributes.
type Resource struct {
	SymbolicName string
	Version      string

	// URI is set for resources whose content is downloadable (module
	// bundles). Absent for feature-namespace resources.
	URI string

	// StartLevel is the desired start level, carried from the
	// contributing catalog.BundleRef, applied after install/update.
	StartLevel *uint32

	// Dependency mirrors catalog.BundleRef.Dependency: true if this
	// resource was pulled in to satisfy another feature's requirement
	// rather than being a feature's own direct bundle.
	Dependency bool

	// FeatureName/FeatureVersion are set for feature-namespace
	// resources — the resolver's record that a given feature id ended
	// up actually installed, used to rebuild EngineState.InstalledFeatures
	// after a deployment.
	FeatureName    string
	FeatureVersion string
}

// IsFeatureNamespace reports whether this resource represents an
// installed feature rather than a module bundle.
func (r Resource) IsFeatureNamespace() bool {
	return r.FeatureName != ""
}
