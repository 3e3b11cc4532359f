package weave

import (
	"container/list"
	"context"
	"sync"

	"github.com/zoobzio/capitan"
)

// ranking is the state of one Highest run.
type ranking[T any] struct {
	mu         sync.Mutex
	x          *execution
	sink       Sink[T]
	less       func(a, b T) bool
	candidates *list.List
	top        *list.Element
	topHandle  Handle
	pending    bool
	closing    bool
}

// Highest publishes only the highest-ranked live instance of s, where less
// reports whether a ranks below b. Ties go to the earliest arrival.
//
// Changes of the top instance requested inside an update region are
// reconciled once when the region flushes, after its publications, so
// replacing the top instance in place never exposes the runner-up.
func Highest[T any](s DynamicSet[T], less func(a, b T) bool) DynamicSet[T] {
	return DynamicSet[T]{
		run: func(ctx context.Context, x *execution, sink Sink[T]) (Handle, error) {
			r := &ranking[T]{x: x, sink: sink, less: less, candidates: list.New()}

			up, err := s.start(ctx, x, wrap(sink, r.add))
			if err != nil {
				return nil, err
			}

			return NewHandle(
				func(ctx context.Context) {
					r.mu.Lock()
					r.closing = true
					h := r.topHandle
					r.top, r.topHandle = nil, nil
					r.mu.Unlock()

					if h != nil {
						x.guard(ctx, "highest.close", func() { h.Close(ctx) })
					}
					up.Close(ctx)
				},
				up.Update,
			), nil
		},
	}
}

func (r *ranking[T]) add(ctx context.Context, t T) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem := r.candidates.PushBack(t)
	if err := r.reconcile(ctx); err != nil {
		r.candidates.Remove(elem)
		if r.top == nil {
			r.reconcile(ctx)
		}
		return nil, err
	}

	return NewHandle(
		func(ctx context.Context) { r.remove(ctx, elem) },
		func(ctx context.Context) {
			r.mu.Lock()
			var h Handle
			if r.top == elem {
				h = r.topHandle
			}
			r.mu.Unlock()
			if h != nil {
				h.Update(ctx)
			}
		},
	), nil
}

func (r *ranking[T]) remove(ctx context.Context, elem *list.Element) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.candidates.Remove(elem)
	if r.top != elem {
		return
	}

	h := r.topHandle
	r.top, r.topHandle = nil, nil
	DeferTermination(ctx, func(ctx context.Context) {
		r.x.guard(ctx, "highest.close", func() { h.Close(ctx) })
	})

	if err := r.reconcile(ctx); err != nil {
		r.sink.Fail(ctx, err)
	}
}

// reconcile makes the published instance match the current ranking, or
// schedules that for the end of the update region. Callers hold r.mu.
func (r *ranking[T]) reconcile(ctx context.Context) error {
	if r.closing {
		return nil
	}
	if !InUpdate(ctx) {
		return r.apply(ctx)
	}
	if r.pending {
		return nil
	}
	r.pending = true
	deferSettlement(ctx, func(ctx context.Context) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.pending = false
		if r.closing {
			return
		}
		if err := r.apply(ctx); err != nil {
			r.sink.Fail(ctx, err)
		}
	})
	return nil
}

// apply publishes the best candidate if it is not already published.
func (r *ranking[T]) apply(ctx context.Context) error {
	var best *list.Element
	for e := r.candidates.Front(); e != nil; e = e.Next() {
		if best == nil || r.less(best.Value.(T), e.Value.(T)) {
			best = e
		}
	}
	if best == r.top {
		return nil
	}

	if h := r.topHandle; h != nil {
		r.x.guard(ctx, "highest.close", func() { h.Close(ctx) })
	}
	r.top, r.topHandle = nil, nil
	if best == nil {
		return nil
	}

	h, err := r.sink.Publish(ctx, best.Value.(T))
	if err != nil {
		return err
	}
	r.top, r.topHandle = best, h
	capitan.Emit(ctx, TopChanged,
		KeyRunID.Field(r.x.id),
		KeyCandidates.Field(r.candidates.Len()),
	)
	return nil
}
