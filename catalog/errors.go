package catalog

import "errors"

// ErrNotFound is returned by Match when no feature satisfies a request.
var ErrNotFound = errors.New("catalog: feature not found")
