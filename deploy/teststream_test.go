package deploy

import (
	"io"
	"strings"

	"github.com/PeteGashek/karaf/resolver"
)

// memStreamProvider serves fixed content for a resource's checksum and
// install/update stream, for tests that don't want real module archives.
type memStreamProvider string

func (p memStreamProvider) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(p))), nil
}

func streamProviders(content map[string]string) map[string]resolver.StreamProvider {
	out := make(map[string]resolver.StreamProvider, len(content))
	for uri, body := range content {
		out[uri] = memStreamProvider(body)
	}
	return out
}
