package weave

import (
	"context"
	"sync"

	"github.com/zoobzio/capitan"
)

type regionKey struct{}

// region collects terminations and publications requested while an update
// is propagating, so that every layer finishes removing before any layer
// starts adding. Settlements run last, once every publication is done.
type region struct {
	mu           sync.Mutex
	depth        int
	done         bool
	terminations []func(context.Context)
	publications []func(context.Context)
	settlements  []func(context.Context)
}

type phase int

const (
	terminationPhase phase = iota
	publicationPhase
	settlementPhase
)

func regionFrom(ctx context.Context) *region {
	r, _ := ctx.Value(regionKey{}).(*region)
	return r
}

// withoutRegion detaches ctx from any region it carries. Work started from
// the returned context never joins the caller's region.
func withoutRegion(ctx context.Context) context.Context {
	if regionFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, regionKey{}, (*region)(nil))
}

// Coalesce runs fn inside an update region. Terminations and publications
// deferred by fn are held back and run when the outermost region exits:
// every termination first, then every publication, each in the order queued.
// Publications run on a context whose region is closed, so their failures
// return to the caller that published as they would outside a region.
//
// Calling Coalesce with a context that already carries an open region
// extends that region instead of opening a new one, so nested updates flush
// once. The flush runs even if fn panics.
func Coalesce(ctx context.Context, fn func(ctx context.Context)) {
	if r := regionFrom(ctx); r != nil && r.extend() {
		defer r.release()
		fn(ctx)
		return
	}

	r := &region{depth: 1}
	rctx := context.WithValue(ctx, regionKey{}, r)
	defer r.flush(rctx)
	fn(rctx)
}

// InUpdate reports whether ctx carries an open update region.
func InUpdate(ctx context.Context) bool {
	r := regionFrom(ctx)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.done && r.depth > 0
}

// DeferTermination queues fn on the open region of ctx, or runs it
// immediately when there is none.
func DeferTermination(ctx context.Context, fn func(ctx context.Context)) {
	if r := regionFrom(ctx); r != nil && r.enqueue(fn, terminationPhase) {
		return
	}
	fn(ctx)
}

// DeferPublication queues fn on the open region of ctx, or runs it
// immediately when there is none.
func DeferPublication(ctx context.Context, fn func(ctx context.Context)) {
	if r := regionFrom(ctx); r != nil && r.enqueue(fn, publicationPhase) {
		return
	}
	fn(ctx)
}

// deferSettlement queues fn to run after every publication of the open
// region of ctx, or runs it immediately when there is none.
func deferSettlement(ctx context.Context, fn func(ctx context.Context)) {
	if r := regionFrom(ctx); r != nil && r.enqueue(fn, settlementPhase) {
		return
	}
	fn(ctx)
}

func (r *region) extend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.depth++
	return true
}

func (r *region) release() {
	r.mu.Lock()
	r.depth--
	r.mu.Unlock()
}

func (r *region) enqueue(fn func(context.Context), p phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	switch p {
	case terminationPhase:
		r.terminations = append(r.terminations, fn)
	case publicationPhase:
		r.publications = append(r.publications, fn)
	default:
		r.settlements = append(r.settlements, fn)
	}
	return true
}

// flush closes the region and runs its queues. Work deferred while flushing
// runs immediately.
func (r *region) flush(ctx context.Context) {
	r.mu.Lock()
	r.done = true
	r.depth = 0
	terminations, publications, settlements := r.terminations, r.publications, r.settlements
	r.terminations, r.publications, r.settlements = nil, nil, nil
	r.mu.Unlock()

	for _, fn := range terminations {
		fn(ctx)
	}
	for _, fn := range publications {
		fn(ctx)
	}
	for _, fn := range settlements {
		fn(ctx)
	}

	if len(terminations)+len(publications)+len(settlements) > 0 {
		capitan.Emit(ctx, RegionFlushed,
			KeyTerminations.Field(len(terminations)),
			KeyPublications.Field(len(publications)),
		)
	}
}
