package weave

import (
	"container/list"
	"context"
	"slices"
	"sync"

	"github.com/zoobzio/capitan"
)

// joinState is the bookkeeping of one join run. A single mutex guards both
// sides so an arrival on one side never misses a concurrent arrival on the
// other.
//
// The mutex is held while pairs are published and closed downstream.
// Downstream code must not synchronously publish into the same join.
type joinState struct {
	mu     sync.Mutex
	x      *execution
	lefts  *list.List
	rights *list.List
}

// joined is one live instance on one side of a join. pairs holds every
// pair it takes part in, in creation order.
type joined[V any] struct {
	value V
	pairs *list.List
}

// pair is one published combination. It is linked into the pair lists of
// both of its constituents so either side can close it in O(1).
type pair struct {
	handle Handle
	links  [2]*list.Element
	owners [2]*list.List
}

func (p *pair) unlink() {
	for i := range p.links {
		p.owners[i].Remove(p.links[i])
	}
}

// release closes every pair in pairs, last-created-first.
func (j *joinState) release(ctx context.Context, pairs *list.List) {
	for e := pairs.Back(); e != nil; {
		prev := e.Prev()
		p := e.Value.(*pair)
		p.unlink()
		j.x.guard(ctx, "join.close", func() { p.handle.Close(ctx) })
		e = prev
	}
}

// attach records v on own and pairs it with every live instance of other.
// If a pair fails to publish, the pairs already made for v are closed and
// v is not recorded.
func attach[V, W any](
	ctx context.Context,
	j *joinState,
	own, other *list.List,
	v V,
	publish func(ctx context.Context, v V, w W) (Handle, error),
) (Handle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &joined[V]{value: v, pairs: list.New()}
	for e := other.Front(); e != nil; e = e.Next() {
		peer := e.Value.(*joined[W])
		h, err := publish(ctx, v, peer.value)
		if err != nil {
			if n := entry.pairs.Len(); n > 0 {
				j.release(ctx, entry.pairs)
				capitan.Emit(ctx, PairsRolledBack,
					KeyRunID.Field(j.x.id),
					KeyPairs.Field(n),
					KeyError.Field(err.Error()),
				)
			}
			return nil, err
		}
		p := &pair{handle: h, owners: [2]*list.List{entry.pairs, peer.pairs}}
		p.links[0] = entry.pairs.PushBack(p)
		p.links[1] = peer.pairs.PushBack(p)
	}
	elem := own.PushBack(entry)

	return NewHandle(
		func(ctx context.Context) {
			j.mu.Lock()
			defer j.mu.Unlock()
			j.release(ctx, entry.pairs)
			own.Remove(elem)
		},
		func(ctx context.Context) {
			j.mu.Lock()
			handles := make([]Handle, 0, entry.pairs.Len())
			for e := entry.pairs.Front(); e != nil; e = e.Next() {
				handles = append(handles, e.Value.(*pair).handle)
			}
			j.mu.Unlock()
			updateAll(ctx, j.x, handles)
		},
	), nil
}

// Combine publishes f(l, r) for every pair of live instances l of left and
// r of right. A pair is live exactly while both of its instances are.
// Closing the run closes right, then left.
func Combine[L, R, S any](f func(L, R) S, left DynamicSet[L], right DynamicSet[R]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			j := &joinState{x: x, lefts: list.New(), rights: list.New()}

			lh, err := left.start(ctx, x, wrap(sink, func(ctx context.Context, l L) (Handle, error) {
				return attach(ctx, j, j.lefts, j.rights, l, func(ctx context.Context, l L, r R) (Handle, error) {
					return sink.Publish(ctx, f(l, r))
				})
			}))
			if err != nil {
				return nil, err
			}

			rh, err := right.start(ctx, x, wrap(sink, func(ctx context.Context, r R) (Handle, error) {
				return attach(ctx, j, j.rights, j.lefts, r, func(ctx context.Context, r R, l L) (Handle, error) {
					return sink.Publish(ctx, f(l, r))
				})
			}))
			if err != nil {
				x.guard(ctx, "join.close", func() { lh.Close(ctx) })
				return nil, err
			}

			return handleList(x, []Handle{lh, rh}), nil
		},
	}
}

// ApplyTo publishes fn(t) for every live instance t of s and every live
// function fn of fns.
func ApplyTo[T, S any](s DynamicSet[T], fns DynamicSet[func(T) S]) DynamicSet[S] {
	return Combine(func(t T, fn func(T) S) S { return fn(t) }, s, fns)
}

// CombineAll publishes f(values) for every combination of one live
// instance from each set, in set order. It folds Combine left to right.
func CombineAll[T, S any](f func([]T) S, sets ...DynamicSet[T]) DynamicSet[S] {
	if len(sets) == 0 {
		return Nothing[S]()
	}

	acc := Map(sets[0], func(t T) []T { return []T{t} })
	for _, next := range sets[1:] {
		acc = Combine(func(prefix []T, t T) []T {
			return append(slices.Clip(prefix), t)
		}, acc, next)
	}
	return Map(acc, f)
}
