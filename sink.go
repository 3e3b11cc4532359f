package weave

import "context"

// Sink is the consumer side of a DynamicSet.
//
// Publish is called once per new instance and must return a Handle tied to
// that instance. Fail escalates a failure that has no synchronous caller to
// return to, such as a republish performed on a watcher goroutine, towards
// the owner of the run. Fail returns the error as seen by the owner.
type Sink[T any] interface {
	Publish(ctx context.Context, t T) (Handle, error)
	Fail(ctx context.Context, err error) error
}

// SinkFunc adapts a publish function into a Sink. Failures are returned unchanged.
type SinkFunc[T any] func(ctx context.Context, t T) (Handle, error)

// Publish calls f.
func (f SinkFunc[T]) Publish(ctx context.Context, t T) (Handle, error) {
	return f(ctx, t)
}

// Fail returns err.
func (SinkFunc[T]) Fail(_ context.Context, err error) error {
	return err
}

// forward is a Sink publishing through fn while escalating failures to the
// downstream sink it was derived from.
type forward[T, S any] struct {
	down    Sink[S]
	publish func(ctx context.Context, t T) (Handle, error)
}

// Publish calls the wrapped publish function.
func (f forward[T, S]) Publish(ctx context.Context, t T) (Handle, error) {
	return f.publish(ctx, t)
}

// Fail escalates to the downstream sink.
func (f forward[T, S]) Fail(ctx context.Context, err error) error {
	return f.down.Fail(ctx, err)
}

// wrap derives an upstream sink from a downstream one.
func wrap[T, S any](down Sink[S], publish func(ctx context.Context, t T) (Handle, error)) Sink[T] {
	return forward[T, S]{down: down, publish: publish}
}
