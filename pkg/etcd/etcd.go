// Package etcd provides a weave.Watcher over the keys under an etcd prefix
// using the native Watch API.
package etcd

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Watcher reports every key under a prefix as a weave.Entry.
// Entry versions are etcd mod revisions.
type Watcher struct {
	client *clientv3.Client
	prefix string
	trim   bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTrimPrefix strips the watched prefix from entry keys.
func WithTrimPrefix() Option {
	return func(w *Watcher) {
		w.trim = true
	}
}

// New creates a Watcher for the keys under prefix.
func New(client *clientv3.Client, prefix string, opts ...Option) *Watcher {
	w := &Watcher{
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the keys currently under the prefix, then follows changes
// from the revision after the initial read.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to get initial values: %w", err)
	}

	d := weave.NewDispatcher(n)
	for _, kv := range resp.Kvs {
		w.put(ctx, d, string(kv.Key), kv.Value, kv.ModRevision)
	}

	watchChan := w.client.Watch(ctx, w.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := watchResp.Err(); err != nil {
					w.failed(ctx, err)
					continue
				}

				for _, event := range watchResp.Events {
					key := string(event.Kv.Key)
					switch event.Type {
					case clientv3.EventTypePut:
						w.put(ctx, d, key, event.Kv.Value, event.Kv.ModRevision)
					case clientv3.EventTypeDelete:
						d.Delete(ctx, w.key(key))
					}
				}
			}
		}
	}()

	return nil
}

func (w *Watcher) key(raw string) string {
	if w.trim {
		return strings.TrimPrefix(raw, w.prefix)
	}
	return raw
}

func (w *Watcher) put(ctx context.Context, d *weave.Dispatcher[weave.Entry], raw string, value []byte, rev int64) {
	key := w.key(raw)
	err := d.Put(ctx, key, weave.Entry{Key: key, Value: value, Version: rev})
	if err != nil {
		w.failed(ctx, err)
	}
}

func (w *Watcher) failed(ctx context.Context, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("etcd"),
		weave.KeyResource.Field(w.prefix),
		weave.KeyError.Field(err.Error()),
	)
}
