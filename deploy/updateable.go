package deploy

import (
	"strings"

	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/version"
)

// IsUpdateable reports whether res's content is assumed mutable: its
// version qualifier ends in "SNAPSHOT", its URI contains "SNAPSHOT", or
// its URI does not use the "mvn:" scheme at all — non-repository-pinned
// sources are assumed mutable (spec.md §4.4).
func IsUpdateable(res resolver.Resource) bool {
	if v, err := version.Parse(res.Version); err == nil && strings.HasSuffix(v.Qualifier(), "SNAPSHOT") {
		return true
	}
	if strings.Contains(res.URI, "SNAPSHOT") {
		return true
	}
	return !strings.Contains(res.URI, "mvn:")
}
