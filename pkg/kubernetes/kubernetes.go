// Package kubernetes provides weave.Watcher implementations for the
// ConfigMaps and Secrets of a namespace using the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// Object is a Kubernetes resource kind the Watcher can follow.
type Object interface {
	*corev1.ConfigMap | *corev1.Secret
	runtime.Object
	metav1.Object
}

// Watcher reports the resources of one kind in a namespace, keyed by name.
type Watcher[R Object] struct {
	namespace string
	selector  string
	retry     time.Duration
	list      func(ctx context.Context, opts metav1.ListOptions) ([]R, string, error)
	watch     func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
}

// Option configures a Watcher.
type Option func(*settings)

type settings struct {
	selector string
	retry    time.Duration
}

// WithLabelSelector restricts the watcher to resources matching selector.
func WithLabelSelector(selector string) Option {
	return func(s *settings) {
		s.selector = selector
	}
}

// WithRetryInterval sets the delay before re-establishing a broken watch.
// Defaults to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(s *settings) {
		s.retry = d
	}
}

func apply(opts []Option) settings {
	s := settings{retry: time.Second}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewConfigMaps creates a Watcher for the ConfigMaps of namespace.
func NewConfigMaps(client kubernetes.Interface, namespace string, opts ...Option) *Watcher[*corev1.ConfigMap] {
	s := apply(opts)
	api := client.CoreV1().ConfigMaps(namespace)
	return &Watcher[*corev1.ConfigMap]{
		namespace: namespace,
		selector:  s.selector,
		retry:     s.retry,
		list: func(ctx context.Context, opts metav1.ListOptions) ([]*corev1.ConfigMap, string, error) {
			l, err := api.List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*corev1.ConfigMap, len(l.Items))
			for i := range l.Items {
				out[i] = &l.Items[i]
			}
			return out, l.ResourceVersion, nil
		},
		watch: api.Watch,
	}
}

// NewSecrets creates a Watcher for the Secrets of namespace.
func NewSecrets(client kubernetes.Interface, namespace string, opts ...Option) *Watcher[*corev1.Secret] {
	s := apply(opts)
	api := client.CoreV1().Secrets(namespace)
	return &Watcher[*corev1.Secret]{
		namespace: namespace,
		selector:  s.selector,
		retry:     s.retry,
		list: func(ctx context.Context, opts metav1.ListOptions) ([]*corev1.Secret, string, error) {
			l, err := api.List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			out := make([]*corev1.Secret, len(l.Items))
			for i := range l.Items {
				out[i] = &l.Items[i]
			}
			return out, l.ResourceVersion, nil
		},
		watch: api.Watch,
	}
}

// Watch lists the current resources, then follows the watch stream. When
// the stream breaks the resources are listed again and reconciled before
// a new watch starts.
func (w *Watcher[R]) Watch(ctx context.Context, n weave.Notifier[R]) error {
	d := weave.NewDispatcher(n, weave.WithUnchanged(sameVersion[R]))

	version, err := w.resync(ctx, d)
	if err != nil {
		return err
	}

	go func() {
		for {
			err := w.follow(ctx, d, version)
			if ctx.Err() != nil {
				return
			}
			w.failed(ctx, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retry):
			}

			v, err := w.resync(ctx, d)
			if err != nil {
				continue
			}
			version = v
		}
	}()

	return nil
}

// resync lists the resources and reconciles the dispatcher against them.
func (w *Watcher[R]) resync(ctx context.Context, d *weave.Dispatcher[R]) (string, error) {
	items, version, err := w.list(ctx, metav1.ListOptions{LabelSelector: w.selector})
	if err != nil {
		return "", fmt.Errorf("failed to list resources in %s: %w", w.namespace, err)
	}

	snapshot := make(map[string]R, len(items))
	for _, item := range items {
		snapshot[item.GetName()] = item
	}
	if err := d.Reconcile(ctx, snapshot); err != nil {
		w.failed(ctx, err)
	}
	return version, nil
}

// follow applies watch events until the stream ends.
func (w *Watcher[R]) follow(ctx context.Context, d *weave.Dispatcher[R], version string) error {
	watcher, err := w.watch(ctx, metav1.ListOptions{
		LabelSelector:   w.selector,
		ResourceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}

			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch error: %v", event.Object)
			case watch.Added, watch.Modified:
				obj, ok := event.Object.(R)
				if !ok {
					continue
				}
				if err := d.Put(ctx, obj.GetName(), obj); err != nil {
					w.failed(ctx, err)
				}
			case watch.Deleted:
				accessor, err := meta.Accessor(event.Object)
				if err != nil {
					continue
				}
				d.Delete(ctx, accessor.GetName())
			}
		}
	}
}

func (w *Watcher[R]) failed(ctx context.Context, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("kubernetes"),
		weave.KeyResource.Field(w.namespace),
		weave.KeyError.Field(err.Error()),
	)
}

// sameVersion drops repeated deliveries of a resource version that has
// already been seen, as happens when a broken watch is relisted.
func sameVersion[R Object](prev, next R) bool {
	v := next.GetResourceVersion()
	return v != "" && prev.GetResourceVersion() == v
}

// DataUnchanged reports whether two ConfigMaps carry the same data. Use it
// with weave.WithRefresh so label or annotation edits only refresh the
// existing instance.
func DataUnchanged(prev, next *corev1.ConfigMap) bool {
	return maps.Equal(prev.Data, next.Data) && maps.EqualFunc(prev.BinaryData, next.BinaryData, bytesEqual)
}

// SecretDataUnchanged reports whether two Secrets carry the same data.
func SecretDataUnchanged(prev, next *corev1.Secret) bool {
	return maps.EqualFunc(prev.Data, next.Data, bytesEqual) && maps.Equal(prev.StringData, next.StringData)
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}

// Entries publishes one weave.Entry per ConfigMap holding the value of
// key. ConfigMaps without the key publish nothing.
func Entries(s weave.DynamicSet[*corev1.ConfigMap], key string) weave.DynamicSet[weave.Entry] {
	return weave.FlatMap(s, func(cm *corev1.ConfigMap) weave.DynamicSet[weave.Entry] {
		if v, ok := cm.Data[key]; ok {
			return weave.Just(entry(cm, []byte(v)))
		}
		if v, ok := cm.BinaryData[key]; ok {
			return weave.Just(entry(cm, v))
		}
		return weave.Nothing[weave.Entry]()
	})
}

// entry versions are resource versions when they parse as integers,
// which holds for etcd-backed API servers.
func entry(cm *corev1.ConfigMap, value []byte) weave.Entry {
	version, _ := strconv.ParseInt(cm.ResourceVersion, 10, 64)
	return weave.Entry{Key: cm.Name, Value: value, Version: version}
}
