package weave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// DefaultErrorHistory is the number of failures a Result keeps when no
// history size is configured.
const DefaultErrorHistory = 16

// RunOption configures a run.
type RunOption func(*execution)

// WithErrorHandler registers a callback invoked for every failure escalated
// to the owner of the run. The callback runs on the goroutine that observed
// the failure.
func WithErrorHandler(fn func(ctx context.Context, err error)) RunOption {
	return func(x *execution) {
		x.onError = fn
	}
}

// WithErrorHistory sets how many failures the Result retains.
// A size of zero disables history.
func WithErrorHistory(size int) RunOption {
	return func(x *execution) {
		x.history = size
	}
}

// WithMetrics sets the metrics provider for the run.
func WithMetrics(provider MetricsProvider) RunOption {
	return func(x *execution) {
		if provider != nil {
			x.metrics = provider
		}
	}
}

// execution is the state shared by every combinator of one run.
type execution struct {
	id      string
	history int
	errors  *errorRing
	metrics MetricsProvider
	onError func(ctx context.Context, err error)
	state   atomic.Int32

	mu   sync.Mutex
	last error
}

func newExecution(opts ...RunOption) *execution {
	x := &execution{
		id:      uuid.NewString(),
		history: DefaultErrorHistory,
		metrics: NoOpMetricsProvider{},
	}
	for _, opt := range opts {
		opt(x)
	}
	x.errors = newErrorRing(x.history)
	x.state.Store(int32(StateRunning))
	return x
}

// guard runs fn and converts a panic into a recorded *TerminationError.
// Termination steps use it so one failing step never stops the cascade.
func (x *execution) guard(ctx context.Context, stage string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			err := &TerminationError{Stage: stage, Value: v}
			x.record(ctx, err)
			x.metrics.OnTerminationFailure(stage)
			capitan.Emit(ctx, TerminationFailed,
				KeyRunID.Field(x.id),
				KeyStage.Field(stage),
				KeyError.Field(err.Error()),
			)
		}
	}()
	fn()
}

// escalate records a failure that has no synchronous caller and hands it
// to the owner of the run.
func (x *execution) escalate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	x.record(ctx, err)
	x.metrics.OnPublishFailure()
	capitan.Emit(ctx, PublishFailed,
		KeyRunID.Field(x.id),
		KeyError.Field(err.Error()),
	)
	if x.onError != nil {
		x.onError(ctx, err)
	}
	return err
}

// record stores err and degrades a running execution.
func (x *execution) record(ctx context.Context, err error) {
	x.errors.push(err)
	x.mu.Lock()
	x.last = err
	x.mu.Unlock()
	x.transition(ctx, StateRunning, StateDegraded)
}

func (x *execution) transition(ctx context.Context, from, to State) bool {
	if !x.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	x.metrics.OnStateChange(from, to)
	capitan.Emit(ctx, RunStateChanged,
		KeyRunID.Field(x.id),
		KeyOldState.Field(from.String()),
		KeyNewState.Field(to.String()),
	)
	return true
}

// Result is the running materialization of a DynamicSet.
// Closing it closes every live downstream effect exactly once,
// last-created-first.
type Result struct {
	x      *execution
	handle Handle
	closed atomic.Bool
}

// ID returns the unique identifier of the run.
func (r *Result) ID() string {
	return r.x.id
}

// State returns the current state of the run.
func (r *Result) State() State {
	return State(r.x.state.Load())
}

// LastError returns the most recent failure, or nil.
func (r *Result) LastError() error {
	r.x.mu.Lock()
	defer r.x.mu.Unlock()
	return r.x.last
}

// Errors returns the retained failures, oldest first.
func (r *Result) Errors() []error {
	return r.x.errors.all()
}

// Close tears the run down. Subsequent calls are no-ops.
func (r *Result) Close(ctx context.Context) {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.x.guard(ctx, "close", func() { r.handle.Close(ctx) })

	from := r.State()
	if from != StateClosed {
		r.x.state.Store(int32(StateClosed))
		r.x.metrics.OnStateChange(from, StateClosed)
	}
	capitan.Emit(ctx, RunClosed,
		KeyRunID.Field(r.x.id),
		KeyState.Field(StateClosed.String()),
	)
}

// Update forwards an in-place update to every live effect of the run.
func (r *Result) Update(ctx context.Context) {
	if r.closed.Load() {
		return
	}
	r.x.guard(ctx, "update", func() { r.handle.Update(ctx) })
}

// terminal is the sink a run publishes into. It counts publications and
// terminations and escalates failures to the execution.
type terminal[T any] struct {
	x    *execution
	sink Sink[T]
}

func (t terminal[T]) Publish(ctx context.Context, v T) (Handle, error) {
	h, err := t.sink.Publish(ctx, v)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = Noop
	}
	t.x.metrics.OnPublish()
	return NewHandle(
		func(ctx context.Context) {
			h.Close(ctx)
			t.x.metrics.OnTerminate()
		},
		h.Update,
	), nil
}

func (t terminal[T]) Fail(ctx context.Context, err error) error {
	return t.sink.Fail(ctx, t.x.escalate(ctx, err))
}

// publishError attaches the failing instance to err unless it already
// carries one.
func publishError(instance any, err error) error {
	var pe *PublishError
	if errors.As(err, &pe) {
		return err
	}
	return &PublishError{Instance: instance, Err: err}
}

// startError decorates a failure to start a run.
func startError(id string, err error) error {
	return fmt.Errorf("run %s: %w", id, err)
}
