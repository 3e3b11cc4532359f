package weave

import "sync"

// errorRing is a thread-safe ring buffer holding the most recent failures of a run.
type errorRing struct {
	mu     sync.RWMutex
	errors []error
	head   int
	count  int
}

// newErrorRing creates a ring holding up to size errors.
// A non-positive size disables history and returns nil.
func newErrorRing(size int) *errorRing {
	if size <= 0 {
		return nil
	}
	return &errorRing{errors: make([]error, size)}
}

// push records err, evicting the oldest entry once full.
func (r *errorRing) push(err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors[r.head] = err
	r.head = (r.head + 1) % len(r.errors)
	if r.count < len(r.errors) {
		r.count++
	}
}

// all returns the recorded errors, oldest first.
func (r *errorRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	size := len(r.errors)
	out := make([]error, r.count)
	start := (r.head - r.count + size) % size
	for i := range out {
		out[i] = r.errors[(start+i)%size]
	}
	return out
}
