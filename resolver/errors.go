package resolver

import "errors"

// ErrUnresolvable is returned when the requested feature set cannot be
// satisfied — an unknown feature id, an unsatisfiable dependency, or
// (for a real constraint-solving backend) a capability conflict.
var ErrUnresolvable = errors.New("resolver: constraints unsatisfiable")
