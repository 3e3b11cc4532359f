// Package testing provides test utilities and helpers for weave pipelines
// and watchers.
package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/weave"
)

// TestConfig is a standard decoded value for testing entry pipelines.
// It implements weave.Validator.
type TestConfig struct {
	Port    int    `yaml:"port" json:"port" msgpack:"port"`
	Host    string `yaml:"host" json:"host" msgpack:"host"`
	Timeout int    `yaml:"timeout" json:"timeout" msgpack:"timeout"`
}

// Validate implements weave.Validator.
func (c TestConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// Kind is the kind of a recorded observation.
type Kind string

// Recorded observation kinds.
const (
	Added   Kind = "add"
	Removed Kind = "remove"
	Updated Kind = "update"
)

// Record is one observation made by a Recorder.
type Record[T any] struct {
	Kind  Kind
	Value T
}

// Recorder is a weave.Sink that records every publication, termination
// and update it sees.
type Recorder[T any] struct {
	mu     sync.Mutex
	events []Record[T]
	live   []*slot[T]
	errs   []error
	reject func(T) error
}

type slot[T any] struct {
	value T
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// RejectWhen makes Publish fail with the error returned by fn, when it is
// not nil.
func (r *Recorder[T]) RejectWhen(fn func(T) error) *Recorder[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject = fn
	return r
}

// Publish implements weave.Sink.
func (r *Recorder[T]) Publish(_ context.Context, v T) (weave.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reject != nil {
		if err := r.reject(v); err != nil {
			return nil, err
		}
	}

	s := &slot[T]{value: v}
	r.live = append(r.live, s)
	r.events = append(r.events, Record[T]{Kind: Added, Value: v})

	return weave.NewHandle(
		func(context.Context) {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, o := range r.live {
				if o == s {
					r.live = append(r.live[:i], r.live[i+1:]...)
					break
				}
			}
			r.events = append(r.events, Record[T]{Kind: Removed, Value: v})
		},
		func(context.Context) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, Record[T]{Kind: Updated, Value: v})
		},
	), nil
}

// Fail implements weave.Sink.
func (r *Recorder[T]) Fail(_ context.Context, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return err
}

// Events returns every observation so far, in order.
func (r *Recorder[T]) Events() []Record[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record[T](nil), r.events...)
}

// Live returns the values currently published, oldest first.
func (r *Recorder[T]) Live() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.live))
	for i, s := range r.live {
		out[i] = s.value
	}
	return out
}

// Errors returns the failures escalated to the recorder.
func (r *Recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Reset forgets recorded observations. Live values stay live.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.errs = nil
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForLive waits until the recorder holds exactly n live values.
func WaitForLive[T any](t *testing.T, r *Recorder[T], n int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return len(r.Live()) == n
	})
}

// RequireState fails the test immediately if the result is not in the expected state.
func RequireState(t *testing.T, r *weave.Result, expected weave.State) {
	t.Helper()
	if got := r.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// Run starts s against a new Recorder and closes the run when the test
// ends.
func Run[T any](t *testing.T, s weave.DynamicSet[T], opts ...weave.RunOption) (*weave.Result, *Recorder[T]) {
	t.Helper()
	rec := NewRecorder[T]()
	ctx := context.Background()
	res, err := s.RunWith(ctx, rec, opts...)
	if err != nil {
		t.Fatalf("RunWith() error = %v", err)
	}
	t.Cleanup(func() { res.Close(ctx) })
	return res, rec
}
