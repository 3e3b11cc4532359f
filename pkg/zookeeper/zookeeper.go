// Package zookeeper provides a weave.Watcher over the children of a
// ZooKeeper node.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports each child of a parent node as a weave.Entry holding the
// child's data. Entry keys are child names and versions are node versions.
type Watcher struct {
	conn  *zk.Conn
	path  string
	retry time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRetryInterval sets the delay before retrying after an error.
// Defaults to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.retry = d
	}
}

// New creates a Watcher for the children of the node at path.
func New(conn *zk.Conn, path string, opts ...Option) *Watcher {
	w := &Watcher{
		conn:  conn,
		path:  path,
		retry: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the current children, then re-reads them whenever the
// child list or any child's data changes.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	d := weave.NewDispatcher(n, weave.WithUnchanged(weave.SameEntry))

	r := &reader{
		Watcher: w,
		changed: make(chan struct{}, 1),
		armed:   make(map[string]bool),
	}
	changed := r.changed
	snapshot, err := r.read(ctx)
	if err != nil {
		return err
	}
	if err := d.Reconcile(ctx, snapshot); err != nil {
		w.failed(ctx, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}

			snapshot, err := r.read(ctx)
			if err != nil {
				w.failed(ctx, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.retry):
				}
				notify(changed)
				continue
			}
			if err := d.Reconcile(ctx, snapshot); err != nil {
				w.failed(ctx, err)
			}
		}
	}()

	return nil
}

// reader holds the one-shot ZooKeeper watches armed for one Watch call.
// Each node keeps at most one data watch armed at a time.
type reader struct {
	*Watcher
	changed chan struct{}

	mu     sync.Mutex
	parent bool
	armed  map[string]bool
}

// read lists the children and their data, arming watches that signal
// changed on the next modification. A missing parent reads as empty.
func (r *reader) read(ctx context.Context) (map[string]weave.Entry, error) {
	r.mu.Lock()
	parentArmed := r.parent
	r.mu.Unlock()

	var (
		children    []string
		childEvents <-chan zk.Event
		err         error
	)
	if parentArmed {
		children, _, err = r.conn.Children(r.path)
	} else {
		children, _, childEvents, err = r.conn.ChildrenW(r.path)
	}
	if errors.Is(err, zk.ErrNoNode) {
		exists, _, existEvents, err := r.conn.ExistsW(r.path)
		if err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", r.path, err)
		}
		if exists {
			notify(r.changed)
			return map[string]weave.Entry{}, nil
		}
		r.arm(ctx, existEvents, "")
		return map[string]weave.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", r.path, err)
	}
	if childEvents != nil {
		r.arm(ctx, childEvents, "")
	}

	snapshot := make(map[string]weave.Entry, len(children))
	for _, child := range children {
		data, stat, err := r.get(ctx, child)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", child, err)
		}
		snapshot[child] = weave.Entry{
			Key:     child,
			Value:   data,
			Version: int64(stat.Version),
		}
	}
	return snapshot, nil
}

// get reads a child, arming a data watch unless one is already armed.
func (r *reader) get(ctx context.Context, child string) ([]byte, *zk.Stat, error) {
	p := path.Join(r.path, child)

	r.mu.Lock()
	armed := r.armed[child]
	r.mu.Unlock()
	if armed {
		return r.conn.Get(p)
	}

	data, stat, events, err := r.conn.GetW(p)
	if err != nil {
		return nil, nil, err
	}
	r.arm(ctx, events, child)
	return data, stat, nil
}

// arm records a watch as armed and forwards its event. An empty child
// names the watch on the parent.
func (r *reader) arm(ctx context.Context, events <-chan zk.Event, child string) {
	r.mu.Lock()
	if child == "" {
		r.parent = true
	} else {
		r.armed[child] = true
	}
	r.mu.Unlock()
	go r.forward(ctx, events, child)
}

// forward signals changed once when a one-shot watch fires.
func (r *reader) forward(ctx context.Context, events <-chan zk.Event, child string) {
	select {
	case <-ctx.Done():
		return
	case <-events:
	}
	r.mu.Lock()
	if child == "" {
		r.parent = false
	} else {
		delete(r.armed, child)
	}
	r.mu.Unlock()
	notify(r.changed)
}

func notify(changed chan struct{}) {
	select {
	case changed <- struct{}{}:
	default:
	}
}

func (w *Watcher) failed(ctx context.Context, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("zookeeper"),
		weave.KeyResource.Field(w.path),
		weave.KeyError.Field(err.Error()),
	)
}
