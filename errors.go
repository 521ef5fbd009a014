package karaf

import "fmt"

// Kind classifies an Error, letting callers branch on failure category
// with errors.As instead of string matching (spec.md §7).
type Kind int

const (
	// NotFound: feature name/version does not exist in the catalog
	// (pre-resolution).
	NotFound Kind = iota
	// Ambiguous: an uninstall request matches multiple versions and no
	// version was supplied.
	Ambiguous
	// Unresolvable: the resolver cannot satisfy constraints.
	Unresolvable
	// IO: repository load, stream read, checksum, or persistence failure.
	IO
	// ModuleOperation: install/update/stop/start/uninstall failure from
	// the ModuleHost. Start failures are accumulated and reported as one
	// aggregate error at the end of a deployment; all others abort the
	// deployment immediately.
	ModuleOperation
	// InvariantViolation: an internal bug (e.g. a resource slated for
	// install has no URI).
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Ambiguous:
		return "Ambiguous"
	case Unresolvable:
		return "Unresolvable"
	case IO:
		return "IO"
	case ModuleOperation:
		return "ModuleOperation"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// Error is the engine's typed error, carrying a machine-checkable Kind
// alongside the wrapped cause — generalizing the teacher's
// resolver.ErrNotImplemented sentinel-error idiom to a family of
// errors that need a discriminator.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("karaf: %s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("karaf: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error, the constructor every engine method
// routes its failures through so callers can rely on errors.As with a
// *karaf.Error target (var kerr *karaf.Error; errors.As(err, &kerr)).
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
