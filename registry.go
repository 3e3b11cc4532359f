package weave

import (
	"context"
	"slices"
	"sync"
)

// Registry is an in-process set of resources that can be watched.
// Registrations are delivered to every watcher in order.
//
// Each watcher has its own serial delivery queue. A registration made while
// that watcher is delivering, for instance from an effect, is queued and
// delivered after the current event instead of re-entering it.
type Registry[R any] struct {
	mu            sync.Mutex
	registrations []*Registration[R]
	subscribers   []*subscriber[R]
}

// NewRegistry creates an empty Registry.
func NewRegistry[R any]() *Registry[R] {
	return &Registry[R]{}
}

// Registration is a resource held by a Registry.
type Registration[R any] struct {
	registry *Registry[R]
	resource R
	gone     bool
}

// Resource returns the current value of the registration.
func (g *Registration[R]) Resource() R {
	g.registry.mu.Lock()
	defer g.registry.mu.Unlock()
	return g.resource
}

// Register adds r to the registry.
func (reg *Registry[R]) Register(_ context.Context, r R) *Registration[R] {
	g := &Registration[R]{registry: reg, resource: r}

	reg.mu.Lock()
	reg.registrations = append(reg.registrations, g)
	subs := slices.Clone(reg.subscribers)
	for _, s := range subs {
		s.enqueue(func(ctx context.Context) { s.add(ctx, g, r) })
	}
	reg.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
	return g
}

// Modify replaces the value of the registration.
func (g *Registration[R]) Modify(_ context.Context, r R) {
	reg := g.registry

	reg.mu.Lock()
	if g.gone {
		reg.mu.Unlock()
		return
	}
	g.resource = r
	subs := slices.Clone(reg.subscribers)
	for _, s := range subs {
		s.enqueue(func(ctx context.Context) { s.modify(ctx, g, r) })
	}
	reg.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
}

// Unregister removes the registration. Later calls are no-ops.
func (g *Registration[R]) Unregister(_ context.Context) {
	reg := g.registry

	reg.mu.Lock()
	if g.gone {
		reg.mu.Unlock()
		return
	}
	g.gone = true
	reg.registrations = slices.DeleteFunc(reg.registrations, func(o *Registration[R]) bool { return o == g })
	subs := slices.Clone(reg.subscribers)
	for _, s := range subs {
		s.enqueue(func(ctx context.Context) { s.remove(ctx, g) })
	}
	reg.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
}

// Len returns the number of live registrations.
func (reg *Registry[R]) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.registrations)
}

// Watch delivers the current registrations to n, then every change until
// ctx is canceled.
func (reg *Registry[R]) Watch(ctx context.Context, n Notifier[R]) error {
	s := &subscriber[R]{
		ctx:      ctx,
		notifier: n,
		tracked:  make(map[*Registration[R]]*Tracked[R]),
	}

	reg.mu.Lock()
	reg.subscribers = append(reg.subscribers, s)
	for _, g := range reg.registrations {
		r := g.resource
		s.enqueue(func(ctx context.Context) { s.add(ctx, g, r) })
	}
	reg.mu.Unlock()

	context.AfterFunc(ctx, func() {
		reg.mu.Lock()
		reg.subscribers = slices.DeleteFunc(reg.subscribers, func(o *subscriber[R]) bool { return o == s })
		reg.mu.Unlock()
		s.stop()
	})

	s.drain()
	return nil
}

// subscriber is one watcher of a Registry.
type subscriber[R any] struct {
	ctx      context.Context
	notifier Notifier[R]

	mu       sync.Mutex
	queue    []func(context.Context)
	draining bool
	stopped  bool

	// tracked is only touched by the draining goroutine.
	tracked map[*Registration[R]]*Tracked[R]
}

func (s *subscriber[R]) enqueue(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.queue = append(s.queue, fn)
	}
}

// drain delivers queued events until the queue is empty. If another call
// is already draining, it will deliver them instead.
func (s *subscriber[R]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.stopped {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn(s.ctx)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *subscriber[R]) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *subscriber[R]) add(ctx context.Context, g *Registration[R], r R) {
	t, err := s.notifier.Added(ctx, r)
	if err != nil {
		return
	}
	s.tracked[g] = t
}

func (s *subscriber[R]) modify(ctx context.Context, g *Registration[R], r R) {
	t, ok := s.tracked[g]
	if !ok {
		s.add(ctx, g, r)
		return
	}
	s.notifier.Modified(ctx, t, r)
}

func (s *subscriber[R]) remove(ctx context.Context, g *Registration[R]) {
	t, ok := s.tracked[g]
	if !ok {
		return
	}
	delete(s.tracked, g)
	s.notifier.Removed(ctx, t)
}

// RegisterAll registers every instance of s in reg for as long as it is
// live and publishes the registration. Updates of an instance are
// forwarded to the registration's watchers.
func RegisterAll[R any](reg *Registry[R], s DynamicSet[R]) DynamicSet[*Registration[R]] {
	return DynamicSet[*Registration[R]]{
		run: func(ctx context.Context, x *execution, sink Sink[*Registration[R]]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, r R) (Handle, error) {
				g := reg.Register(ctx, r)
				h, err := sink.Publish(ctx, g)
				if err != nil {
					g.Unregister(ctx)
					return nil, err
				}
				return NewHandle(
					func(ctx context.Context) {
						x.guard(ctx, "register.close", func() { h.Close(ctx) })
						x.guard(ctx, "register.unregister", func() { g.Unregister(ctx) })
					},
					func(ctx context.Context) {
						h.Update(ctx)
						g.Modify(ctx, g.Resource())
					},
				), nil
			}))
		},
	}
}
