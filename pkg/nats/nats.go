// Package nats provides a weave.Watcher over the keys of a NATS JetStream
// key/value bucket.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports the keys of a bucket as weave.Entry values.
// Entry versions are key/value revisions.
type Watcher struct {
	kv      jetstream.KeyValue
	pattern string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPattern restricts the watch to keys matching a subject pattern such
// as "services.>". The default watches every key.
func WithPattern(pattern string) Option {
	return func(w *Watcher) {
		w.pattern = pattern
	}
}

// New creates a Watcher for the bucket kv.
func New(kv jetstream.KeyValue, opts ...Option) *Watcher {
	w := &Watcher{kv: kv}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the current keys of the bucket, then every put, delete
// and purge until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	var (
		watcher jetstream.KeyWatcher
		err     error
	)
	if w.pattern == "" {
		watcher, err = w.kv.WatchAll(ctx)
	} else {
		watcher, err = w.kv.Watch(ctx, w.pattern)
	}
	if err != nil {
		return fmt.Errorf("failed to watch bucket: %w", err)
	}

	d := weave.NewDispatcher(n)
	updates := watcher.Updates()

	// A nil entry marks the end of the initial values.
	for initial := true; initial; {
		select {
		case <-ctx.Done():
			watcher.Stop()
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return fmt.Errorf("watch closed before initial values")
			}
			if entry == nil {
				initial = false
				continue
			}
			w.apply(ctx, d, entry)
		}
	}

	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-updates:
				if !ok {
					return
				}
				if entry != nil {
					w.apply(ctx, d, entry)
				}
			}
		}
	}()

	return nil
}

func (w *Watcher) apply(ctx context.Context, d *weave.Dispatcher[weave.Entry], entry jetstream.KeyValueEntry) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		d.Delete(ctx, entry.Key())
	default:
		err := d.Put(ctx, entry.Key(), weave.Entry{
			Key:     entry.Key(),
			Value:   entry.Value(),
			Version: int64(entry.Revision()),
		})
		if err != nil {
			capitan.Emit(ctx, weave.WatchFailed,
				weave.KeyWatcherType.Field("nats"),
				weave.KeyResource.Field(entry.Key()),
				weave.KeyError.Field(err.Error()),
			)
		}
	}
}
