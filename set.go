package weave

import (
	"context"

	"github.com/zoobzio/capitan"
)

type runFunc[T any] func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error)

// DynamicSet describes zero or more instances of T that come and go over
// time. It is an immutable build plan: nothing happens until it is run, and
// every run is independent of the others. The zero value publishes nothing.
type DynamicSet[T any] struct {
	run runFunc[T]
}

// Create builds a DynamicSet from a start function. fn is called once per
// run; it publishes instances into sink, now or later, and returns the
// Handle that stops producing them.
func Create[T any](fn func(ctx context.Context, sink Sink[T]) (Handle, error)) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, _ *execution, sink Sink[T]) (Handle, error) {
			h, err := fn(ctx, sink)
			if err != nil {
				return nil, err
			}
			if h == nil {
				return Noop, nil
			}
			return h, nil
		},
	}
}

func (s DynamicSet[T]) start(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
	if s.run == nil {
		return Noop, nil
	}
	return s.run(ctx, x, sink)
}

// Run materializes the set and discards its instances. It is useful when the
// pipeline ends in effects.
func (s DynamicSet[T]) Run(ctx context.Context, opts ...RunOption) (*Result, error) {
	return s.RunWith(ctx, SinkFunc[T](func(context.Context, T) (Handle, error) {
		return Noop, nil
	}), opts...)
}

// RunWith materializes the set against sink. Instances published while
// starting are delivered before RunWith returns. A failure while starting
// rolls back everything already published and is returned.
func (s DynamicSet[T]) RunWith(ctx context.Context, sink Sink[T], opts ...RunOption) (*Result, error) {
	x := newExecution(opts...)

	h, err := s.start(ctx, x, terminal[T]{x: x, sink: sink})
	if err != nil {
		x.record(ctx, err)
		capitan.Emit(ctx, RunFailed,
			KeyRunID.Field(x.id),
			KeyError.Field(err.Error()),
		)
		return nil, startError(x.id, err)
	}

	capitan.Emit(ctx, RunStarted,
		KeyRunID.Field(x.id),
		KeyState.Field(StateRunning.String()),
	)
	return &Result{x: x, handle: h}, nil
}
