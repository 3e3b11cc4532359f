package weave_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/zoobzio/weave"
	wtesting "github.com/zoobzio/weave/testing"
)

type service struct {
	mu    sync.Mutex
	name  string
	db    string
	cache string
}

func (s *service) setDB(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
}

func (s *service) setCache(cache string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cache
}

func (s *service) wiring() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db, s.cache
}

func TestComponent_MandatoryGatesPublication(t *testing.T) {
	ctx := context.Background()
	dbs, ds := newFeed[string]()
	svc := &service{name: "api"}

	c := weave.Mandatory(weave.NewComponentFunc(func() *service { return svc }), ds,
		(*service).setDB, nil)

	res, rec := wtesting.Run(t, c.Set())
	if len(rec.Live()) != 0 {
		t.Fatalf("expected nothing before the dependency appears, got %v", rec.Live())
	}

	db := dbs.publish(t, ctx, "primary")
	if len(rec.Live()) != 1 {
		t.Fatalf("expected the component once the dependency appears, got %v", rec.Live())
	}
	if got, _ := svc.wiring(); got != "primary" {
		t.Errorf("expected db primary, got %q", got)
	}

	db.Close(ctx)
	if len(rec.Live()) != 0 {
		t.Errorf("expected the component to be withdrawn, got %v", rec.Live())
	}
	if got, _ := svc.wiring(); got != "" {
		t.Errorf("expected db to be cleared, got %q", got)
	}

	res.Close(ctx)
}

func TestComponent_OptionalKeepsInstance(t *testing.T) {
	ctx := context.Background()
	caches, cs := newFeed[string]()
	svc := &service{name: "api"}

	var unset []string
	c := weave.Optional(weave.NewComponentFunc(func() *service { return svc }), cs,
		(*service).setCache,
		func(s *service, cache string) {
			unset = append(unset, cache)
			s.setCache("")
		},
	)

	_, rec := wtesting.Run(t, c.Set())
	if len(rec.Live()) != 1 {
		t.Fatalf("expected the component without its optional dependency, got %v", rec.Live())
	}

	cache := caches.publish(t, ctx, "redis")
	if _, got := svc.wiring(); got != "redis" {
		t.Errorf("expected cache redis, got %q", got)
	}

	cache.Close(ctx)
	if _, got := svc.wiring(); got != "" {
		t.Errorf("expected cache to be cleared, got %q", got)
	}
	equal(t, unset, []string{"redis"})
	if len(rec.Live()) != 1 {
		t.Errorf("expected the component to stay published, got %v", rec.Live())
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	var j journal

	c := weave.NewComponent(weave.Just("api")).
		PostConstruct(func(name string) { j.add("post %s", name) }).
		PreDestroy(func(name string) { j.add("pre %s", name) })
	c = weave.Mandatory(c, weave.Just("db"),
		func(name, db string) { j.add("set %s %s", name, db) },
		func(name, db string) { j.add("unset %s %s", name, db) },
	)

	res, err := c.Set().RunWith(ctx, logged[string](&j))
	if err != nil {
		t.Fatalf("RunWith() error = %v", err)
	}
	res.Close(ctx)

	equal(t, j.all(), []string{
		"set api db",
		"post api",
		"+api",
		"-api",
		"pre api",
		"unset api db",
	})
}

func TestComponent_BuildersAreIndependent(t *testing.T) {
	base := weave.NewComponent(weave.Just(1))
	gated := weave.Mandatory(base, weave.Nothing[string](), func(int, string) {}, nil)

	_, open := wtesting.Run(t, base.Set())
	_, closed := wtesting.Run(t, gated.Set())

	equal(t, open.Live(), []int{1})
	equal(t, closed.Live(), nil)
}

func TestTransform(t *testing.T) {
	s := weave.Transform(weave.Just(1, 2, 3), func(down weave.Sink[string]) weave.Sink[int] {
		return weave.SinkFunc[int](func(ctx context.Context, v int) (weave.Handle, error) {
			if v == 2 {
				return weave.Noop, nil
			}
			return down.Publish(ctx, strconv.Itoa(v*10))
		})
	})

	_, rec := wtesting.Run(t, s)
	equal(t, rec.Live(), []string{"10", "30"})
}

func TestTransform_EscalatesToDownstream(t *testing.T) {
	ctx := context.Background()
	reg := weave.NewRegistry[string]()
	reg.Register(ctx, "bad")

	rec := wtesting.NewRecorder[string]().RejectWhen(func(v string) error {
		if v == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	s := weave.Transform(weave.FromWatcher[string](reg), func(down weave.Sink[string]) weave.Sink[string] {
		return weave.SinkFunc[string](down.Publish)
	})

	res, err := s.RunWith(ctx, rec)
	if err != nil {
		t.Fatalf("RunWith() error = %v", err)
	}
	defer res.Close(ctx)

	if len(rec.Errors()) != 1 {
		t.Errorf("expected the rejected add to reach the downstream sink, got %v", rec.Errors())
	}
	wtesting.RequireState(t, res, weave.StateDegraded)
}
