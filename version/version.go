// Package version wraps github.com/Masterminds/semver/v3 with the
// OSGi-flavored version and range semantics the feature engine needs:
// a version always compares, an absent version is the wildcard
// "0.0.0", and ranges are closed/open intervals rather than npm-style
// constraint expressions.
package version

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Zero is the wildcard sentinel version used when a feature or bundle
// does not declare an explicit version.
const Zero = "0.0.0"

// Version is a semantic version.
type Version struct {
	v *mm.Version
}

// Parse parses raw as a semantic version. An empty string parses as Zero.
func Parse(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = Zero
	}
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("version: parse %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

// MustParse parses raw and panics on error. Reserved for constants and tests.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the unset/wildcard version.
func (v Version) IsZero() bool {
	return v.v == nil || v.v.Equal(mm.MustParse(Zero))
}

func (v Version) String() string {
	if v.v == nil {
		return Zero
	}
	return v.v.String()
}

// Qualifier returns the Karaf-style "qualifier": the semver pre-release
// identifier (the text after '-', e.g. "SNAPSHOT" in "1.2.3-SNAPSHOT"),
// or the build metadata if there is no pre-release. It is used to detect
// SNAPSHOT versions.
func (v Version) Qualifier() string {
	if v.v == nil {
		return ""
	}
	if pre := v.v.Prerelease(); pre != "" {
		return pre
	}
	return v.v.Metadata()
}

// Compare returns -1, 0, 1 as a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// Equal reports whether a and b denote the same version.
func Equal(a, b Version) bool {
	return Compare(a, b) == 0
}
