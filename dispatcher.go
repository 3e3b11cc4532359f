package weave

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Op is the kind of a keyed resource event.
type Op int

const (
	// OpPut reports that a resource was created or changed.
	OpPut Op = iota
	// OpDelete reports that a resource went away.
	OpDelete
)

// String returns the name of the operation.
func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a keyed change to a resource.
type Event[R any] struct {
	Op       Op
	Key      string
	Resource R
}

// DispatchOption configures a Dispatcher.
type DispatchOption[R any] func(*Dispatcher[R])

// WithUnchanged sets a predicate reporting that a put carries nothing new.
// Such puts are dropped before they reach the Notifier.
func WithUnchanged[R any](fn func(prev, next R) bool) DispatchOption[R] {
	return func(d *Dispatcher[R]) {
		d.unchanged = fn
	}
}

// Dispatcher turns keyed events into Notifier calls. Every adapter keyed by
// name uses one: the first put of a key adds the resource, later puts
// modify it and a delete removes it.
type Dispatcher[R any] struct {
	mu        sync.Mutex
	notifier  Notifier[R]
	tracked   map[string]*Tracked[R]
	unchanged func(prev, next R) bool
}

// NewDispatcher creates a Dispatcher delivering to n.
func NewDispatcher[R any](n Notifier[R], opts ...DispatchOption[R]) *Dispatcher[R] {
	d := &Dispatcher[R]{
		notifier: n,
		tracked:  make(map[string]*Tracked[R]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply dispatches e.
func (d *Dispatcher[R]) Apply(ctx context.Context, e Event[R]) error {
	if e.Op == OpDelete {
		d.Delete(ctx, e.Key)
		return nil
	}
	return d.Put(ctx, e.Key, e.Resource)
}

// Put adds or modifies the resource stored under key.
func (d *Dispatcher[R]) Put(ctx context.Context, key string, r R) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.put(ctx, key, r)
}

func (d *Dispatcher[R]) put(ctx context.Context, key string, r R) error {
	if t, ok := d.tracked[key]; ok {
		if d.unchanged != nil && d.unchanged(t.Resource(), r) {
			return nil
		}
		d.notifier.Modified(ctx, t, r)
		return nil
	}

	t, err := d.notifier.Added(ctx, r)
	if err != nil {
		return err
	}
	d.tracked[key] = t
	return nil
}

// Delete removes the resource stored under key, if any.
func (d *Dispatcher[R]) Delete(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delete(ctx, key)
}

func (d *Dispatcher[R]) delete(ctx context.Context, key string) {
	t, ok := d.tracked[key]
	if !ok {
		return
	}
	delete(d.tracked, key)
	d.notifier.Removed(ctx, t)
}

// Reconcile makes the tracked resources match snapshot: keys missing from
// it are removed, the others are put in key order.
func (d *Dispatcher[R]) Reconcile(ctx context.Context, snapshot map[string]R) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range d.keys() {
		if _, ok := snapshot[key]; !ok {
			d.delete(ctx, key)
		}
	}

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		if err := d.put(ctx, key, snapshot[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the tracked keys in sorted order.
func (d *Dispatcher[R]) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys()
}

func (d *Dispatcher[R]) keys() []string {
	keys := make([]string, 0, len(d.tracked))
	for key := range d.tracked {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
