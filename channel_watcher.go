package weave

import "context"

// ChannelWatcher adapts a channel of keyed events into a Watcher.
// Useful for testing and custom sources that already produce events.
type ChannelWatcher[R any] struct {
	ch   <-chan Event[R]
	opts []DispatchOption[R]
}

// NewChannelWatcher creates a ChannelWatcher reading from ch.
func NewChannelWatcher[R any](ch <-chan Event[R], opts ...DispatchOption[R]) *ChannelWatcher[R] {
	return &ChannelWatcher[R]{ch: ch, opts: opts}
}

// Watch delivers the events already buffered in the channel before
// returning, then forwards the rest from a goroutine until the channel is
// closed or ctx is canceled.
func (w *ChannelWatcher[R]) Watch(ctx context.Context, n Notifier[R]) error {
	d := NewDispatcher(n, w.opts...)

	for range len(w.ch) {
		e, ok := <-w.ch
		if !ok {
			return nil
		}
		// Failed adds are escalated by the notifier; the next put retries.
		_ = d.Apply(ctx, e)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.ch:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					return
				}
				_ = d.Apply(ctx, e)
			}
		}
	}()
	return nil
}
