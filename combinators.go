package weave

import "context"

// Map publishes f(t) for every instance t.
func Map[T, S any](s DynamicSet[T], f func(T) S) DynamicSet[S] {
	return TryMap(s, func(t T) (S, error) { return f(t), nil })
}

// TryMap publishes f(t) for every instance t. An error from f is a publish
// failure for t.
func TryMap[T, S any](s DynamicSet[T], f func(T) (S, error)) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				v, err := f(t)
				if err != nil {
					return nil, publishError(t, err)
				}
				return sink.Publish(ctx, v)
			}))
		},
	}
}

// FlatMap runs f(t) for every instance t, feeding its instances into the
// same downstream. When t goes away the nested run is closed, and with it
// every instance it produced.
func FlatMap[T, S any](s DynamicSet[T], f func(T) DynamicSet[S]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				return f(t).start(ctx, x, sink)
			}))
		},
	}
}

// Transform rewires the sink chain directly: fn receives the downstream
// sink and returns the sink that s publishes into. Failures escalated from
// upstream reach the downstream sink unchanged.
func Transform[T, S any](s DynamicSet[T], fn func(down Sink[S]) Sink[T]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, fn(sink).Publish))
		},
	}
}

// Then runs next once for every instance of s.
func Then[T, S any](s DynamicSet[T], next DynamicSet[S]) DynamicSet[S] {
	return FlatMap(s, func(T) DynamicSet[S] { return next })
}

// Filter suppresses instances for which keep returns false.
func (s DynamicSet[T]) Filter(keep func(T) bool) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				if !keep(t) {
					return Noop, nil
				}
				return sink.Publish(ctx, t)
			}))
		},
	}
}

// Effect holds side effects attached around the life of each instance.
// Any hook may be nil.
//
// OnAddBefore runs before the instance is published downstream and may
// veto it. OnAddAfter runs once it has been published; an error terminates
// the instance again. On termination the order is OnRemoveBefore, the
// downstream close, then OnRemoveAfter. OnUpdate runs when the instance is
// refreshed in place.
type Effect[T any] struct {
	OnAddBefore    func(T) error
	OnAddAfter     func(T) error
	OnRemoveBefore func(T)
	OnRemoveAfter  func(T)
	OnUpdate       func(T)
}

// Effects attaches e to every instance.
//
// Inside an update region the termination of an instance is deferred to the
// region, so all removals along a pipeline happen before any addition.
// Publication is synchronous and its failure is returned to the caller.
func (s DynamicSet[T]) Effects(e Effect[T]) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				return e.publish(ctx, x, sink, t)
			}))
		},
	}
}

// Foreach runs onAdd when an instance appears and onRemove when it leaves.
func (s DynamicSet[T]) Foreach(onAdd, onRemove func(T)) DynamicSet[T] {
	e := Effect[T]{OnRemoveAfter: onRemove}
	if onAdd != nil {
		e.OnAddBefore = func(t T) error {
			onAdd(t)
			return nil
		}
	}
	return s.Effects(e)
}

func (e Effect[T]) publish(ctx context.Context, x *execution, sink Sink[T], t T) (Handle, error) {
	if e.OnAddBefore != nil {
		if err := e.OnAddBefore(t); err != nil {
			return nil, publishError(t, err)
		}
	}

	down, err := sink.Publish(ctx, t)
	if err != nil {
		if e.OnRemoveAfter != nil {
			x.guard(ctx, "effects.remove_after", func() { e.OnRemoveAfter(t) })
		}
		return nil, err
	}

	h := NewHandle(
		func(ctx context.Context) {
			DeferTermination(ctx, func(ctx context.Context) {
				e.terminate(ctx, x, down, t)
			})
		},
		func(ctx context.Context) {
			if e.OnUpdate != nil {
				x.guard(ctx, "effects.update", func() { e.OnUpdate(t) })
			}
			down.Update(ctx)
		},
	)

	if e.OnAddAfter != nil {
		if err := e.OnAddAfter(t); err != nil {
			e.terminate(ctx, x, down, t)
			return nil, publishError(t, err)
		}
	}
	return h, nil
}

func (e Effect[T]) terminate(ctx context.Context, x *execution, down Handle, t T) {
	if e.OnRemoveBefore != nil {
		x.guard(ctx, "effects.remove_before", func() { e.OnRemoveBefore(t) })
	}
	x.guard(ctx, "effects.close", func() { down.Close(ctx) })
	if e.OnRemoveAfter != nil {
		x.guard(ctx, "effects.remove_after", func() { e.OnRemoveAfter(t) })
	}
}

// Recover substitutes f(t, err) when publishing t downstream fails, and
// publishes the substitute once. A failure of the substitute is returned.
func (s DynamicSet[T]) Recover(f func(T, error) T) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				h, err := sink.Publish(ctx, t)
				if err == nil {
					return h, nil
				}
				return sink.Publish(ctx, f(t, err))
			}))
		},
	}
}

// RecoverWith runs f(t, err) in place of t when publishing t downstream
// fails. A failure to start the substitute is returned.
func (s DynamicSet[T]) RecoverWith(f func(T, error) DynamicSet[T]) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				h, err := sink.Publish(ctx, t)
				if err == nil {
					return h, nil
				}
				return f(t, err).start(ctx, x, sink)
			}))
		},
	}
}

// All merges the instances of every set. The sets start in order and are
// closed in reverse order.
func All[T any](sets ...DynamicSet[T]) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			handles := make([]Handle, 0, len(sets))
			for _, s := range sets {
				h, err := s.start(ctx, x, sink)
				if err != nil {
					closeAll(ctx, x, handles)
					return nil, err
				}
				handles = append(handles, h)
			}
			return handleList(x, handles), nil
		},
	}
}
