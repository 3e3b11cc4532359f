package weave

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

var (
	retryID          = pipz.NewIdentity("weave:retry", "Retry value middleware")
	backoffID        = pipz.NewIdentity("weave:backoff", "Retry value middleware with exponential backoff")
	timeoutID        = pipz.NewIdentity("weave:timeout", "Bound value middleware duration")
	fallbackID       = pipz.NewIdentity("weave:fallback", "Fall back to alternative middleware")
	circuitBreakerID = pipz.NewIdentity("weave:circuit-breaker", "Reject entries while middleware keeps failing")
	errorObserverID  = pipz.NewIdentity("weave:error-observer", "Observe middleware failures")
	rateLimitID      = pipz.NewIdentity("weave:rate-limit", "Token bucket for value middleware")
)

// -----------------------------------------------------------------------------
// Decode Options - Wrapping (With*)
// -----------------------------------------------------------------------------
// These options wrap the middleware chain installed with WithMiddleware.
// Unmarshalling and validation are deterministic and never wrapped.
// Wrappers apply in the order given, so the last one is outermost.

// WithRetry retries the middleware chain immediately up to maxAttempts
// times. For delays between attempts, use WithBackoff instead.
func WithRetry[T any](maxAttempts int) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	})
}

// WithBackoff retries the middleware chain with increasing delays:
// baseDelay, 2*baseDelay, 4*baseDelay, etc.
func WithBackoff[T any](maxAttempts int, baseDelay time.Duration) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	})
}

// WithTimeout fails an entry whose middleware runs longer than d.
func WithTimeout[T any](d time.Duration) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		return pipz.NewTimeout(timeoutID, p, d)
	})
}

// WithFallback tries each fallback in order when the middleware chain fails.
func WithFallback[T any](fallbacks ...pipz.Chainable[T]) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		all := append([]pipz.Chainable[T]{p}, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	})
}

// WithCircuitBreaker rejects entries without running the middleware once
// it has failed failures times in a row, until recovery has passed.
// Every run of the set shares one breaker.
func WithCircuitBreaker[T any](failures int, recovery time.Duration) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	})
}

// WithFailureObserver passes middleware failures to handler before they
// reject the entry. Use it for logging or alerting, not recovery.
func WithFailureObserver[T any](handler pipz.Chainable[*pipz.Error[T]]) DecodeOption[T] {
	return wrapMiddleware(func(p pipz.Chainable[T]) pipz.Chainable[T] {
		return pipz.NewHandle(errorObserverID, p, handler)
	})
}

func wrapMiddleware[T any](fn func(pipz.Chainable[T]) pipz.Chainable[T]) DecodeOption[T] {
	return func(d *decoder[T]) {
		d.wrappers = append(d.wrappers, fn)
	}
}

// -----------------------------------------------------------------------------
// Middleware Processors - Adapters (Use*)
// -----------------------------------------------------------------------------
// These create processors for use inside WithMiddleware.

// UseTransform creates a processor that transforms the value. Cannot fail.
func UseTransform[T any](id pipz.Identity, fn func(context.Context, T) T) pipz.Chainable[T] {
	return pipz.Transform(id, fn)
}

// UseApply creates a processor that can transform the value and fail.
func UseApply[T any](id pipz.Identity, fn func(context.Context, T) (T, error)) pipz.Chainable[T] {
	return pipz.Apply(id, fn)
}

// UseEffect creates a processor that performs a side effect and passes
// the value through unchanged. A failing effect rejects the entry.
func UseEffect[T any](id pipz.Identity, fn func(context.Context, T) error) pipz.Chainable[T] {
	return pipz.Effect(id, fn)
}

// UseMutate applies transformer only when condition holds.
func UseMutate[T any](id pipz.Identity, transformer func(context.Context, T) T, condition func(context.Context, T) bool) pipz.Chainable[T] {
	return pipz.Mutate(id, transformer, condition)
}

// UseEnrich attempts an optional enhancement. If it fails the original
// value continues.
func UseEnrich[T any](id pipz.Identity, fn func(context.Context, T) (T, error)) pipz.Chainable[T] {
	return pipz.Enrich(id, fn)
}

// -----------------------------------------------------------------------------
// Middleware Processors - Wrapping (Use*)
// -----------------------------------------------------------------------------

// UseRetry retries processor immediately up to maxAttempts times.
func UseRetry[T any](maxAttempts int, processor pipz.Chainable[T]) pipz.Chainable[T] {
	return pipz.NewRetry(retryID, processor, maxAttempts)
}

// UseBackoff retries processor with exponentially increasing delays.
func UseBackoff[T any](maxAttempts int, baseDelay time.Duration, processor pipz.Chainable[T]) pipz.Chainable[T] {
	return pipz.NewBackoff(backoffID, processor, maxAttempts, baseDelay)
}

// UseTimeout fails processor when it runs longer than d.
func UseTimeout[T any](d time.Duration, processor pipz.Chainable[T]) pipz.Chainable[T] {
	return pipz.NewTimeout(timeoutID, processor, d)
}

// UseFallback tries each fallback in order when primary fails.
func UseFallback[T any](primary pipz.Chainable[T], fallbacks ...pipz.Chainable[T]) pipz.Chainable[T] {
	all := append([]pipz.Chainable[T]{primary}, fallbacks...)
	return pipz.NewFallback(fallbackID, all...)
}

// UseFilter runs processor only when condition holds. Otherwise the value
// passes through unchanged.
func UseFilter[T any](id pipz.Identity, condition func(context.Context, T) bool, processor pipz.Chainable[T]) pipz.Chainable[T] {
	return pipz.NewFilter(id, condition, processor)
}

// UseRateLimit limits how often processor runs, using a token bucket with
// the given rate in tokens per second and burst size. When tokens are
// exhausted the entry waits for one.
func UseRateLimit[T any](rate float64, burst int, processor pipz.Chainable[T]) pipz.Chainable[T] {
	return pipz.NewRateLimiter(rateLimitID, rate, burst, processor)
}
