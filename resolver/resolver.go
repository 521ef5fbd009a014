// Package resolver defines the contract for the constraint-satisfaction
// backend that turns a requested feature set into a concrete set of
// resources (module bundles plus feature-namespace markers). The real
// backend — one that picks concrete modules from capability/requirement
// constraints — is treated as an external collaborator; this package
// only fixes the boundary and ships a catalog-driven DefaultResolver
// usable in tests and the no-external-runtime demo mode.
package resolver

import (
	"context"
	"io"

	"github.com/PeteGashek/karaf/catalog"
)

// StreamProvider opens the content stream for a resource's URI, used
// for checksum computation and module install/update.
type StreamProvider interface {
	Open() (io.ReadCloser, error)
}

// Input is everything the resolver needs for one resolution pass.
type Input struct {
	TargetFeatureIDs       []string
	Overrides              []string
	SystemCapabilities     []Resource
	FeatureResolutionRange string

	// ExtraFeatures augments the catalog-backed lookup for this call
	// only, without mutating the catalog — the seam ConditionalExpander
	// uses to hand the resolver synthetic conditional features that
	// never went through Catalog.AddRepository.
	ExtraFeatures []catalog.Feature
}

// Output is the resolver's result for one pass.
type Output struct {
	Resources       []Resource
	StreamProviders map[string]StreamProvider
}

// Resolver produces the concrete resource set satisfying a requested
// feature set given system capabilities. It is invoked twice when
// conditionals exist: once to discover which features actually
// resolved, once more against the expanded set ConditionalExpander
// computes from that result.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Output, error)
}
