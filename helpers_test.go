package weave_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/zoobzio/weave"
	wtesting "github.com/zoobzio/weave/testing"
)

// feed is a source driven by the test. Every run of its set attaches a
// sink; publish delivers to the most recent one. Closing the run closes
// everything published through it, newest first.
type feed[T any] struct {
	mu      sync.Mutex
	sink    weave.Sink[T]
	handles []weave.Handle
}

func newFeed[T any]() (*feed[T], weave.DynamicSet[T]) {
	f := &feed[T]{}
	return f, weave.Create(func(_ context.Context, sink weave.Sink[T]) (weave.Handle, error) {
		f.mu.Lock()
		f.sink = sink
		f.mu.Unlock()
		return weave.NewHandle(func(ctx context.Context) {
			f.mu.Lock()
			handles := f.handles
			f.sink, f.handles = nil, nil
			f.mu.Unlock()
			for i := len(handles) - 1; i >= 0; i-- {
				handles[i].Close(ctx)
			}
		}, nil), nil
	})
}

func (f *feed[T]) send(ctx context.Context, v T) (weave.Handle, error) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		return nil, errors.New("feed is not running")
	}
	h, err := sink.Publish(ctx, v)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func (f *feed[T]) publish(t *testing.T, ctx context.Context, v T) weave.Handle {
	t.Helper()
	h, err := f.send(ctx, v)
	if err != nil {
		t.Fatalf("publish %v: %v", v, err)
	}
	return h
}

// journal is an ordered, concurrency-safe log of observations.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// logged returns a sink writing "+v" on publish and "-v" on close.
func logged[T any](j *journal) weave.Sink[T] {
	return weave.SinkFunc[T](func(_ context.Context, v T) (weave.Handle, error) {
		j.add("+%v", v)
		return weave.NewHandle(
			func(context.Context) { j.add("-%v", v) },
			func(context.Context) { j.add("~%v", v) },
		), nil
	})
}

// logEffect records every hook of an Effect under name.
func logEffect[T any](j *journal, name string) weave.Effect[T] {
	return weave.Effect[T]{
		OnAddBefore: func(v T) error {
			j.add("%s:add-before:%v", name, v)
			return nil
		},
		OnAddAfter: func(v T) error {
			j.add("%s:add-after:%v", name, v)
			return nil
		},
		OnRemoveBefore: func(v T) { j.add("%s:remove-before:%v", name, v) },
		OnRemoveAfter:  func(v T) { j.add("%s:remove-after:%v", name, v) },
		OnUpdate:       func(v T) { j.add("%s:update:%v", name, v) },
	}
}

func equal[T comparable](t *testing.T, got, want []T) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func kinds[T any](events []wtesting.Record[T]) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%s %v", e.Kind, e.Value)
	}
	return out
}
