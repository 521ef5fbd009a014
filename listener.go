package karaf

import "github.com/PeteGashek/karaf/catalog"

// RepositoryEvent carries a repository mutation. Replayed is true when
// the event is being replayed to a newly registered listener catching
// up on already-loaded repositories, rather than reflecting a
// just-happened mutation.
type RepositoryEvent struct {
	URI      string
	Removed  bool
	Replayed bool
}

// FeatureEvent carries a feature install/uninstall. Replayed mirrors
// RepositoryEvent.Replayed.
type FeatureEvent struct {
	ID          catalog.FeatureID
	Uninstalled bool
	Replayed    bool
}

// RepositoryListener is notified of repository mutations, after the
// corresponding state commit and in insertion order per listener
// (spec.md §5).
type RepositoryListener interface {
	RepositoryChanged(RepositoryEvent)
}

// FeatureListener is notified of feature installs/uninstalls, after
// the corresponding state commit and in insertion order per listener.
type FeatureListener interface {
	FeatureChanged(FeatureEvent)
}

// Listener implements both event sinks. A caller only interested in one
// kind can embed a no-op for the other via RepositoryListenerFunc /
// FeatureListenerFunc.
type Listener interface {
	RepositoryListener
	FeatureListener
}

// RepositoryListenerFunc adapts a function to RepositoryListener,
// dropping feature events.
type RepositoryListenerFunc func(RepositoryEvent)

func (f RepositoryListenerFunc) RepositoryChanged(e RepositoryEvent) { f(e) }
func (f RepositoryListenerFunc) FeatureChanged(FeatureEvent)         {}

// FeatureListenerFunc adapts a function to FeatureListener, dropping
// repository events.
type FeatureListenerFunc func(FeatureEvent)

func (f FeatureListenerFunc) RepositoryChanged(RepositoryEvent) {}
func (f FeatureListenerFunc) FeatureChanged(e FeatureEvent)     { f(e) }
