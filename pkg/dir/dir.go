// Package dir provides a weave.Watcher over the regular files of a
// directory using fsnotify.
package dir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/weave"
)

// DefaultDebounce is the quiet period applied to file events.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports each regular file of a directory as a weave.Entry keyed
// by file name. Entry versions are modification times in nanoseconds.
type Watcher struct {
	path     string
	pattern  string
	debounce time.Duration
	clock    clockz.Clock
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPattern restricts the watcher to file names matching a
// filepath.Match pattern such as "*.json".
func WithPattern(pattern string) Option {
	return func(w *Watcher) {
		w.pattern = pattern
	}
}

// WithDebounce sets the quiet period after the last event for a file
// before it is read. Zero reads on every event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithClock sets the clock used for debouncing.
// Use this with clockz.FakeClock for deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock
	}
}

// New creates a Watcher for the directory at path.
func New(path string, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		clock:    clockz.RealClock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch delivers the files currently in the directory, then follows
// creations, writes, renames and removals.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", w.path, err)
	}

	snapshot, err := w.scan()
	if err != nil {
		watcher.Close()
		return err
	}

	d := weave.NewDispatcher(n, weave.WithUnchanged(weave.SameEntry))
	if err := d.Reconcile(ctx, snapshot); err != nil {
		w.failed(ctx, w.path, err)
	}

	capitan.Emit(ctx, weave.WatchStarted,
		weave.KeyWatcherType.Field("dir"),
		weave.KeyResource.Field(w.path),
		weave.KeyDebounce.Field(w.debounce),
	)

	go w.loop(ctx, watcher, d)
	return nil
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher, d *weave.Dispatcher[weave.Entry]) {
	defer watcher.Close()

	var (
		timer   clockz.Timer
		pending = make(map[string]struct{})
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !w.matches(name) {
				continue
			}
			if w.debounce <= 0 {
				w.sync(ctx, d, name)
				continue
			}
			pending[name] = struct{}{}

			if timer == nil {
				timer = w.clock.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			for name := range pending {
				w.sync(ctx, d, name)
				delete(pending, name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.failed(ctx, w.path, err)
		}
	}
}

// sync reads one file and puts or deletes it.
func (w *Watcher) sync(ctx context.Context, d *weave.Dispatcher[weave.Entry], name string) {
	entry, ok, err := w.read(name)
	if err != nil {
		w.failed(ctx, name, err)
		return
	}
	if !ok {
		d.Delete(ctx, name)
		return
	}
	if err := d.Put(ctx, name, entry); err != nil {
		w.failed(ctx, name, err)
	}
}

func (w *Watcher) scan() (map[string]weave.Entry, error) {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", w.path, err)
	}

	snapshot := make(map[string]weave.Entry, len(entries))
	for _, e := range entries {
		if !w.matches(e.Name()) {
			continue
		}
		entry, ok, err := w.read(e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			snapshot[e.Name()] = entry
		}
	}
	return snapshot, nil
}

// read returns the entry for name, or false when it is gone or not a
// regular file.
func (w *Watcher) read(name string) (weave.Entry, bool, error) {
	path := filepath.Join(w.path, name)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return weave.Entry{}, false, nil
	}
	if err != nil {
		return weave.Entry{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return weave.Entry{}, false, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return weave.Entry{}, false, nil
	}
	if err != nil {
		return weave.Entry{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return weave.Entry{Key: name, Value: data, Version: info.ModTime().UnixNano()}, true, nil
}

func (w *Watcher) matches(name string) bool {
	if w.pattern == "" {
		return true
	}
	ok, err := filepath.Match(w.pattern, name)
	return err == nil && ok
}

func (w *Watcher) failed(ctx context.Context, resource string, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("dir"),
		weave.KeyResource.Field(resource),
		weave.KeyError.Field(err.Error()),
	)
}
