package weave

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// Tracked is the engine's record of one resource reported by a Watcher.
// Identity is the pointer: two equal resources added separately are
// tracked separately.
type Tracked[R any] struct {
	mu       sync.Mutex
	resource R
	handle   Handle
	elem     *list.Element
	removed  bool
	gen      uint64
}

// Resource returns the latest version of the resource.
func (t *Tracked[R]) Resource() R {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resource
}

// TrackOption configures FromWatcher.
type TrackOption[R any] func(*trackConfig[R])

type trackConfig[R any] struct {
	refresh func(prev, next R) bool
	name    string
}

// WithRefresh sets the predicate deciding whether a modification is
// cosmetic. A cosmetic change updates the existing instance in place. Any
// other change closes the instance and publishes the new resource inside
// one update region. Without a predicate every change is structural.
func WithRefresh[R any](fn func(prev, next R) bool) TrackOption[R] {
	return func(c *trackConfig[R]) {
		c.refresh = fn
	}
}

// WithWatcherName overrides the watcher name reported in events.
func WithWatcherName[R any](name string) TrackOption[R] {
	return func(c *trackConfig[R]) {
		c.name = name
	}
}

// FromWatcher publishes the resources reported by w.
//
// Running the set starts w and returns once its current resources are
// published. Closing the run stops the watch, ignores changes that arrive
// afterwards, and closes the live resources last-created-first.
func FromWatcher[R any](w Watcher[R], opts ...TrackOption[R]) DynamicSet[R] {
	cfg := trackConfig[R]{name: fmt.Sprintf("%T", w)}
	for _, opt := range opts {
		opt(&cfg)
	}

	return DynamicSet[R]{
		run: func(ctx context.Context, x *execution, sink Sink[R]) (Handle, error) {
			watchCtx, cancel := context.WithCancel(context.WithoutCancel(withoutRegion(ctx)))
			tr := &tracker[R]{x: x, sink: sink, cfg: cfg, live: list.New()}

			if err := w.Watch(watchCtx, tr); err != nil {
				cancel()
				tr.close(ctx)
				capitan.Emit(ctx, WatchFailed,
					KeyRunID.Field(x.id),
					KeyWatcherType.Field(cfg.name),
					KeyError.Field(err.Error()),
				)
				return nil, fmt.Errorf("watch %s: %w", cfg.name, err)
			}

			capitan.Emit(ctx, WatchStarted,
				KeyRunID.Field(x.id),
				KeyWatcherType.Field(cfg.name),
			)

			return NewHandle(
				func(ctx context.Context) {
					cancel()
					tr.close(ctx)
				},
				tr.update,
			), nil
		},
	}
}

// tracker implements Notifier for one FromWatcher run.
type tracker[R any] struct {
	x    *execution
	sink Sink[R]
	cfg  trackConfig[R]

	mu     sync.Mutex
	live   *list.List
	closed bool
}

func (tr *tracker[R]) isClosed() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.closed
}

// Added publishes r. A failure is escalated to the owner of the run and
// returned to the watcher.
func (tr *tracker[R]) Added(ctx context.Context, r R) (*Tracked[R], error) {
	if tr.isClosed() {
		return nil, ErrAlreadyClosed
	}

	h, err := tr.sink.Publish(ctx, r)
	if err != nil {
		err = tr.sink.Fail(ctx, publishError(r, err))
		capitan.Emit(ctx, WatchFailed,
			KeyRunID.Field(tr.x.id),
			KeyWatcherType.Field(tr.cfg.name),
			KeyError.Field(err.Error()),
		)
		return nil, err
	}

	t := &Tracked[R]{resource: r, handle: h}

	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		tr.x.guard(ctx, "tracker.close", func() { h.Close(ctx) })
		return nil, ErrAlreadyClosed
	}
	t.elem = tr.live.PushBack(t)
	tr.mu.Unlock()

	capitan.Emit(ctx, ResourceAdded,
		KeyRunID.Field(tr.x.id),
		KeyWatcherType.Field(tr.cfg.name),
	)
	return t, nil
}

// Modified refreshes the instance of t in place when the change is
// cosmetic, and replaces it inside an update region otherwise. The new
// resource is published once the region has run every termination, so
// combinators see its failure exactly as they would a fresh publish.
func (tr *tracker[R]) Modified(ctx context.Context, t *Tracked[R], r R) {
	if t == nil || tr.isClosed() {
		return
	}

	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return
	}
	prev := t.resource
	t.resource = r

	if tr.cfg.refresh != nil && tr.cfg.refresh(prev, r) {
		h := t.handle
		t.mu.Unlock()
		tr.x.guard(ctx, "tracker.update", func() { h.Update(ctx) })
		capitan.Emit(ctx, ResourceRefreshed,
			KeyRunID.Field(tr.x.id),
			KeyWatcherType.Field(tr.cfg.name),
		)
		return
	}

	old := t.handle
	t.handle = Noop
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	Coalesce(ctx, func(ctx context.Context) {
		tr.x.guard(ctx, "tracker.close", func() { old.Close(ctx) })
		DeferPublication(ctx, func(ctx context.Context) {
			tr.republish(ctx, t, gen)
		})
	})
	capitan.Emit(ctx, ResourceReplaced,
		KeyRunID.Field(tr.x.id),
		KeyWatcherType.Field(tr.cfg.name),
	)
}

// republish publishes the current resource of t unless t was removed or
// modified again since generation gen. A failure leaves t tracked without
// an instance and is escalated to the owner of the run.
func (tr *tracker[R]) republish(ctx context.Context, t *Tracked[R], gen uint64) {
	if tr.isClosed() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed || t.gen != gen {
		return
	}

	h, err := tr.sink.Publish(ctx, t.resource)
	if err != nil {
		tr.sink.Fail(ctx, publishError(t.resource, err))
		return
	}
	t.handle = h
}

// Removed closes the instance of t. Later calls for t are ignored.
func (tr *tracker[R]) Removed(ctx context.Context, t *Tracked[R]) {
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return
	}
	t.removed = true
	h := t.handle
	t.mu.Unlock()

	tr.mu.Lock()
	if !tr.closed {
		tr.live.Remove(t.elem)
	}
	tr.mu.Unlock()

	tr.x.guard(ctx, "tracker.close", func() { h.Close(ctx) })
	capitan.Emit(ctx, ResourceRemoved,
		KeyRunID.Field(tr.x.id),
		KeyWatcherType.Field(tr.cfg.name),
	)
}

// close marks the tracker closed and closes every live resource,
// last-created-first.
func (tr *tracker[R]) close(ctx context.Context) {
	tr.mu.Lock()
	tr.closed = true
	var pending []*Tracked[R]
	for e := tr.live.Back(); e != nil; e = e.Prev() {
		pending = append(pending, e.Value.(*Tracked[R]))
	}
	tr.live.Init()
	tr.mu.Unlock()

	for _, t := range pending {
		t.mu.Lock()
		removed := t.removed
		t.removed = true
		h := t.handle
		t.mu.Unlock()

		if !removed {
			tr.x.guard(ctx, "tracker.close", func() { h.Close(ctx) })
		}
	}
}

func (tr *tracker[R]) update(ctx context.Context) {
	tr.mu.Lock()
	var live []*Tracked[R]
	for e := tr.live.Front(); e != nil; e = e.Next() {
		live = append(live, e.Value.(*Tracked[R]))
	}
	tr.mu.Unlock()

	for _, t := range live {
		t.mu.Lock()
		h := t.handle
		t.mu.Unlock()
		tr.x.guard(ctx, "tracker.update", func() { h.Update(ctx) })
	}
}
