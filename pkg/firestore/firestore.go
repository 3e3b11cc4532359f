// Package firestore provides a weave.Watcher over the documents of a
// Firestore collection using realtime listeners.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports each document of a collection as a weave.Entry keyed by
// document ID. The entry value is taken from one document field, "data"
// by default. Entry versions are update times in nanoseconds.
type Watcher struct {
	client     *firestore.Client
	collection string
	field      string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithField sets the document field holding the entry value.
func WithField(field string) Option {
	return func(w *Watcher) {
		w.field = field
	}
}

// New creates a Watcher for the given collection.
func New(client *firestore.Client, collection string, opts ...Option) *Watcher {
	w := &Watcher{
		client:     client,
		collection: collection,
		field:      "data",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the documents of the first snapshot, then applies the
// changes of every later snapshot.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	snapshots := w.client.Collection(w.collection).Snapshots(ctx)

	first, err := snapshots.Next()
	if err != nil {
		snapshots.Stop()
		return fmt.Errorf("failed to read collection %s: %w", w.collection, err)
	}

	d := weave.NewDispatcher(n)
	w.apply(ctx, d, first)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.failed(ctx, w.collection, err)
				return
			}
			w.apply(ctx, d, snap)
		}
	}()

	return nil
}

func (w *Watcher) apply(ctx context.Context, d *weave.Dispatcher[weave.Entry], snap *firestore.QuerySnapshot) {
	for _, change := range snap.Changes {
		id := change.Doc.Ref.ID
		if change.Kind == firestore.DocumentRemoved {
			d.Delete(ctx, id)
			continue
		}

		value, ok := w.value(change.Doc)
		if !ok {
			d.Delete(ctx, id)
			continue
		}
		err := d.Put(ctx, id, weave.Entry{
			Key:     id,
			Value:   value,
			Version: change.Doc.UpdateTime.UnixNano(),
		})
		if err != nil {
			w.failed(ctx, id, err)
		}
	}
}

// value extracts the configured field as bytes.
func (w *Watcher) value(doc *firestore.DocumentSnapshot) ([]byte, bool) {
	v, err := doc.DataAt(w.field)
	if err != nil {
		return nil, false
	}
	switch v := v.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

func (w *Watcher) failed(ctx context.Context, resource string, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("firestore"),
		weave.KeyResource.Field(resource),
		weave.KeyError.Field(err.Error()),
	)
}

// SetDocument writes a document with the value stored in field.
func SetDocument(ctx context.Context, client *firestore.Client, collection, document, field string, data []byte) error {
	_, err := client.Collection(collection).Doc(document).Set(ctx, map[string]interface{}{
		field: data,
	})
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document.
func DeleteDocument(ctx context.Context, client *firestore.Client, collection, document string) error {
	if _, err := client.Collection(collection).Doc(document).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
