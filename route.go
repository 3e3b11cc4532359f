package weave

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// Distribute starts every branch for each instance, each branch seeing the
// instance alone. If a branch fails to start, the branches already started
// for that instance are closed, newest first, before the error is returned.
// Updating an instance updates every branch started for it.
func Distribute[T, S any](s DynamicSet[T], branches ...func(DynamicSet[T]) DynamicSet[S]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			return s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				started := make([]Handle, 0, len(branches))
				for _, branch := range branches {
					h, err := startBranch(ctx, x, branch, sink, t)
					if err != nil {
						closeAll(ctx, x, started)
						return nil, err
					}
					started = append(started, h)
				}
				return handleList(x, started), nil
			}))
		},
	}
}

func startBranch[T, S any](ctx context.Context, x *execution, branch func(DynamicSet[T]) DynamicSet[S], sink Sink[S], t T) (Handle, error) {
	p, err := newPad(ctx, x, branch, sink)
	if err != nil {
		return nil, err
	}
	h, err := p.publish(ctx, t)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}
	return NewHandle(
		func(ctx context.Context) {
			x.guard(ctx, "distribute.close", func() { h.Close(ctx) })
			p.Close(ctx)
		},
		func(ctx context.Context) {
			h.Update(ctx)
			p.Update(ctx)
		},
	), nil
}

// group is the sub-pipeline shared by the instances of one key.
type group[T any] struct {
	pad     *pad[T]
	members int
}

// SplitBy groups instances by the keys published by key(t) and runs
// f(k, members) once per live key. A group is created with its first member
// and closed when its last member leaves; a later member with the same key
// starts a fresh group. When the key set of an instance changes, the
// instance leaves the old group and joins the new one.
//
// Group bookkeeping is guarded by one mutex held while members are
// published; downstream code must not synchronously re-enter the same
// SplitBy.
func SplitBy[T any, K comparable, S any](s DynamicSet[T], key func(T) DynamicSet[K], f func(K, DynamicSet[T]) DynamicSet[S]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			var mu sync.Mutex
			groups := make(map[K]*group[T])

			join := func(ctx context.Context, t T, k K) (Handle, error) {
				mu.Lock()
				defer mu.Unlock()

				g, ok := groups[k]
				if !ok {
					p, err := newPad(ctx, x, func(members DynamicSet[T]) DynamicSet[S] {
						return f(k, members)
					}, sink)
					if err != nil {
						return nil, err
					}
					g = &group[T]{pad: p}
					groups[k] = g
					capitan.Emit(ctx, GroupCreated,
						KeyRunID.Field(x.id),
						KeyGroup.Field(fmt.Sprint(k)),
					)
				}

				h, err := g.pad.publish(ctx, t)
				if err != nil {
					if g.members == 0 {
						delete(groups, k)
						g.pad.Close(ctx)
						capitan.Emit(ctx, GroupClosed,
							KeyRunID.Field(x.id),
							KeyGroup.Field(fmt.Sprint(k)),
						)
					}
					return nil, err
				}
				g.members++

				return NewHandle(
					func(ctx context.Context) {
						mu.Lock()
						defer mu.Unlock()
						x.guard(ctx, "split.close", func() { h.Close(ctx) })
						g.members--
						if g.members == 0 && groups[k] == g {
							delete(groups, k)
							g.pad.Close(ctx)
							capitan.Emit(ctx, GroupClosed,
								KeyRunID.Field(x.id),
								KeyGroup.Field(fmt.Sprint(k)),
							)
						}
					},
					h.Update,
				), nil
			}

			up, err := s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				return key(t).start(ctx, x, wrap(sink, func(ctx context.Context, k K) (Handle, error) {
					return join(ctx, t, k)
				}))
			}))
			if err != nil {
				return nil, err
			}

			return NewHandle(
				func(ctx context.Context) {
					x.guard(ctx, "split.close", func() { up.Close(ctx) })

					mu.Lock()
					remaining := make([]*group[T], 0, len(groups))
					for k, g := range groups {
						remaining = append(remaining, g)
						delete(groups, k)
					}
					mu.Unlock()
					for _, g := range remaining {
						g.pad.Close(ctx)
					}
				},
				up.Update,
			), nil
		},
	}
}

// Choose routes each instance by the booleans published by pred(t): true
// sends it into then, false into otherwise. Both branches are built once
// per run. When the answer changes, the instance leaves the old branch
// before it joins the new one.
func Choose[T, S any](s DynamicSet[T], pred func(T) DynamicSet[bool], then, otherwise func(DynamicSet[T]) DynamicSet[S]) DynamicSet[S] {
	return DynamicSet[S]{
		run: func(ctx context.Context, x *execution, sink Sink[S]) (Handle, error) {
			thenPad, err := newPad(ctx, x, then, sink)
			if err != nil {
				return nil, err
			}
			elsePad, err := newPad(ctx, x, otherwise, sink)
			if err != nil {
				thenPad.Close(ctx)
				return nil, err
			}

			up, err := s.start(ctx, x, wrap(sink, func(ctx context.Context, t T) (Handle, error) {
				return pred(t).start(ctx, x, wrap(sink, func(ctx context.Context, ok bool) (Handle, error) {
					if ok {
						return thenPad.publish(ctx, t)
					}
					return elsePad.publish(ctx, t)
				}))
			}))
			if err != nil {
				elsePad.Close(ctx)
				thenPad.Close(ctx)
				return nil, err
			}

			return NewHandle(
				func(ctx context.Context) {
					x.guard(ctx, "choose.close", func() { up.Close(ctx) })
					elsePad.Close(ctx)
					thenPad.Close(ctx)
				},
				func(ctx context.Context) {
					up.Update(ctx)
					thenPad.Update(ctx)
					elsePad.Update(ctx)
				},
			), nil
		},
	}
}
