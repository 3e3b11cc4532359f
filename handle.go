package weave

import (
	"context"
	"sync/atomic"
)

// Handle is the release capability paired 1:1 with a published instance.
//
// Close releases exactly the resources acquired for the instance. It is
// idempotent and safe to call from any goroutine. Update forwards an
// in-place replacement signal downstream without releasing anything; it is
// a no-op once the handle has been closed.
//
// Neither method reports errors. Termination must be total, so failures
// inside a close cascade are recovered and recorded on the owning Result.
type Handle interface {
	Close(ctx context.Context)
	Update(ctx context.Context)
}

// Noop is a Handle that owns nothing.
var Noop Handle = noopHandle{}

type noopHandle struct{}

func (noopHandle) Close(context.Context)  {}
func (noopHandle) Update(context.Context) {}

// handle runs onClose at most once and onUpdate only while open.
type handle struct {
	closed   atomic.Bool
	onClose  func(context.Context)
	onUpdate func(context.Context)
}

// NewHandle creates a Handle from close and update callbacks. Either may be nil.
func NewHandle(onClose, onUpdate func(context.Context)) Handle {
	return &handle{onClose: onClose, onUpdate: onUpdate}
}

// Close runs the close callback the first time it is called.
func (h *handle) Close(ctx context.Context) {
	if h.closed.CompareAndSwap(false, true) && h.onClose != nil {
		h.onClose(ctx)
	}
}

// Update runs the update callback unless the handle is closed.
func (h *handle) Update(ctx context.Context) {
	if !h.closed.Load() && h.onUpdate != nil {
		h.onUpdate(ctx)
	}
}

// closeAll closes handles last-created-first. A panicking handle is recorded
// and does not prevent the remaining handles from closing.
func closeAll(ctx context.Context, x *execution, handles []Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		x.guard(ctx, "close", func() { h.Close(ctx) })
	}
}

// updateAll forwards an update to every handle in creation order.
func updateAll(ctx context.Context, x *execution, handles []Handle) {
	for _, h := range handles {
		x.guard(ctx, "update", func() { h.Update(ctx) })
	}
}

// handleList is a Handle owning a fixed sequence of handles.
func handleList(x *execution, handles []Handle) Handle {
	return NewHandle(
		func(ctx context.Context) { closeAll(ctx, x, handles) },
		func(ctx context.Context) { updateAll(ctx, x, handles) },
	)
}
