// Package redis provides a weave.Watcher over the string keys under a
// Redis key prefix using keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports the string keys under a prefix as weave.Entry values.
// Requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Watcher struct {
	client *redis.Client
	prefix string
	batch  int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithScanCount sets the COUNT hint used when scanning initial keys.
func WithScanCount(n int64) Option {
	return func(w *Watcher) {
		w.batch = n
	}
}

// New creates a Watcher for the keys starting with prefix.
func New(client *redis.Client, prefix string, opts ...Option) *Watcher {
	w := &Watcher{
		client: client,
		prefix: prefix,
		batch:  100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch subscribes to keyspace notifications for the prefix, delivers the
// keys currently present, then follows writes, deletions and expirations.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	channelPrefix := fmt.Sprintf("__keyspace@%d__:", w.client.Options().DB)
	pubsub := w.client.PSubscribe(ctx, channelPrefix+w.prefix+"*")

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	d := weave.NewDispatcher(n, weave.WithUnchanged(weave.SameEntry))

	iter := w.client.Scan(ctx, 0, w.prefix+"*", w.batch).Iterator()
	for iter.Next(ctx) {
		w.sync(ctx, d, iter.Val())
	}
	if err := iter.Err(); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to scan initial keys: %w", err)
	}

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				key := strings.TrimPrefix(msg.Channel, channelPrefix)

				switch msg.Payload {
				case "set", "setrange", "append", "incrby", "incrbyfloat", "decrby", "rename_to", "restore", "copy_to":
					w.sync(ctx, d, key)
				case "del", "expired", "evicted", "rename_from":
					d.Delete(ctx, key)
				}
			}
		}
	}()

	return nil
}

// sync reads key and puts or deletes it.
func (w *Watcher) sync(ctx context.Context, d *weave.Dispatcher[weave.Entry], key string) {
	val, err := w.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		d.Delete(ctx, key)
		return
	}
	if err != nil {
		w.failed(ctx, key, err)
		return
	}
	if err := d.Put(ctx, key, weave.Entry{Key: key, Value: val}); err != nil {
		w.failed(ctx, key, err)
	}
}

func (w *Watcher) failed(ctx context.Context, key string, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("redis"),
		weave.KeyResource.Field(key),
		weave.KeyError.Field(err.Error()),
	)
}
