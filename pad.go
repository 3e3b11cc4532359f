package weave

import (
	"container/list"
	"context"
	"sync"
)

// pad owns one run of a sub-pipeline built around a probe. Instances
// published into the pad enter the sub-pipeline through the probe.
type pad[T any] struct {
	x      *execution
	mu     sync.Mutex
	probes *list.List
	run    Handle
}

// newPad builds build(probe) and starts it against down.
func newPad[T, S any](ctx context.Context, x *execution, build func(DynamicSet[T]) DynamicSet[S], down Sink[S]) (*pad[T], error) {
	p := &pad[T]{x: x, probes: list.New()}

	probe := DynamicSet[T]{
		run: func(_ context.Context, _ *execution, sink Sink[T]) (Handle, error) {
			p.mu.Lock()
			elem := p.probes.PushBack(sink)
			p.mu.Unlock()
			return NewHandle(func(context.Context) {
				p.mu.Lock()
				p.probes.Remove(elem)
				p.mu.Unlock()
			}, nil), nil
		},
	}

	h, err := build(probe).start(ctx, x, down)
	if err != nil {
		return nil, err
	}
	p.run = h
	return p, nil
}

// publish feeds t to every sink attached to the probe. If one fails, the
// others are rolled back.
func (p *pad[T]) publish(ctx context.Context, t T) (Handle, error) {
	p.mu.Lock()
	sinks := make([]Sink[T], 0, p.probes.Len())
	for e := p.probes.Front(); e != nil; e = e.Next() {
		sinks = append(sinks, e.Value.(Sink[T]))
	}
	p.mu.Unlock()

	handles := make([]Handle, 0, len(sinks))
	for _, sink := range sinks {
		h, err := sink.Publish(ctx, t)
		if err != nil {
			closeAll(ctx, p.x, handles)
			return nil, err
		}
		handles = append(handles, h)
	}
	if len(handles) == 1 {
		return handles[0], nil
	}
	return handleList(p.x, handles), nil
}

func (p *pad[T]) Close(ctx context.Context) {
	p.x.guard(ctx, "pad.close", func() { p.run.Close(ctx) })
}

func (p *pad[T]) Update(ctx context.Context) {
	p.run.Update(ctx)
}
