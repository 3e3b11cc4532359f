// Package consul provides a weave.Watcher over a Consul KV prefix using
// blocking queries.
package consul

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports the keys under a prefix as weave.Entry values.
// Entry versions are Consul modify indexes.
type Watcher struct {
	client  *api.Client
	prefix  string
	wait    time.Duration
	retry   time.Duration
	folders bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWaitTime sets the maximum duration of one blocking query.
func WithWaitTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.wait = d
	}
}

// WithRetryInterval sets the delay before retrying a failed query.
// Defaults to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.retry = d
	}
}

// WithFolders includes folder keys, those ending in "/", as entries.
func WithFolders() Option {
	return func(w *Watcher) {
		w.folders = true
	}
}

// New creates a Watcher for the keys under prefix.
func New(client *api.Client, prefix string, opts ...Option) *Watcher {
	w := &Watcher{
		client: client,
		prefix: prefix,
		retry:  time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the keys currently under the prefix, then reconciles
// against every new index returned by a blocking query.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	kv := w.client.KV()

	pairs, meta, err := kv.List(w.prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to list initial values: %w", err)
	}

	d := weave.NewDispatcher(n, weave.WithUnchanged(weave.SameEntry))
	if err := d.Reconcile(ctx, w.snapshot(pairs)); err != nil {
		w.failed(ctx, err)
	}

	go func() {
		lastIndex := meta.LastIndex
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := &api.QueryOptions{
				WaitIndex: lastIndex,
				WaitTime:  w.wait,
			}
			pairs, meta, err := kv.List(w.prefix, opts.WithContext(ctx))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.failed(ctx, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.retry):
				}
				continue
			}

			// An index going backwards means the store was reset.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			lastIndex = meta.LastIndex

			if err := d.Reconcile(ctx, w.snapshot(pairs)); err != nil {
				w.failed(ctx, err)
			}
		}
	}()

	return nil
}

func (w *Watcher) snapshot(pairs api.KVPairs) map[string]weave.Entry {
	out := make(map[string]weave.Entry, len(pairs))
	for _, p := range pairs {
		if !w.folders && strings.HasSuffix(p.Key, "/") {
			continue
		}
		out[p.Key] = weave.Entry{
			Key:     p.Key,
			Value:   p.Value,
			Version: int64(p.ModifyIndex),
		}
	}
	return out
}

func (w *Watcher) failed(ctx context.Context, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("consul"),
		weave.KeyResource.Field(w.prefix),
		weave.KeyError.Field(err.Error()),
	)
}
