// Package deploy computes and executes the diff between a resolved
// resource set and the modules actually live on the runtime.
package deploy

import (
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
)

// Plan is the classified action set a DeploymentExecutor enacts.
type Plan struct {
	ToInstall        []resolver.Resource
	ToUpdate         map[runtime.ModuleID]resolver.Resource
	ToDelete         []runtime.ModuleID
	ResourceToModule map[resolver.Resource]runtime.ModuleID
	NewChecksums     map[state.ModuleLocation]uint32
}

func newPlan(oldChecksums map[state.ModuleLocation]uint32) Plan {
	checksums := make(map[state.ModuleLocation]uint32, len(oldChecksums))
	for k, v := range oldChecksums {
		checksums[k] = v
	}
	return Plan{
		ToUpdate:         make(map[runtime.ModuleID]resolver.Resource),
		ResourceToModule: make(map[resolver.Resource]runtime.ModuleID),
		NewChecksums:     checksums,
	}
}
