package weave

import "context"

// Watcher observes an external source of resources of type R and reports
// them to a Notifier.
//
// Watch must deliver every resource currently present before it returns,
// then keep delivering changes from its own goroutine until ctx is
// canceled. For any one resource, Added happens before Modified and
// Removed, and Removed is delivered at most once.
type Watcher[R any] interface {
	Watch(ctx context.Context, n Notifier[R]) error
}

// Notifier receives resource changes from a Watcher.
type Notifier[R any] interface {
	// Added reports a new resource and returns the token identifying it
	// in later calls. An error means the resource is not tracked.
	Added(ctx context.Context, r R) (*Tracked[R], error)

	// Modified reports that a tracked resource changed in place.
	Modified(ctx context.Context, t *Tracked[R], r R)

	// Removed reports that a tracked resource went away.
	Removed(ctx context.Context, t *Tracked[R])
}
