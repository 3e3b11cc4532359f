package weave_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/weave"
	wtesting "github.com/zoobzio/weave/testing"
)

func entry(key, value string) weave.Entry {
	return weave.Entry{Key: key, Value: []byte(value), Version: 1}
}

func TestDecode_JSON(t *testing.T) {
	_, rec := wtesting.Run(t, weave.Decode[wtesting.TestConfig](weave.Just(
		entry("app", `{"port": 8080, "host": "localhost", "timeout": 30}`),
	)))

	equal(t, rec.Live(), []wtesting.TestConfig{{Port: 8080, Host: "localhost", Timeout: 30}})
}

func TestDecode_YAML(t *testing.T) {
	_, rec := wtesting.Run(t, weave.Decode(
		weave.Just(entry("app", "port: 9090\nhost: example.com")),
		weave.WithCodec[wtesting.TestConfig](weave.YAMLCodec{}),
	))

	equal(t, rec.Live(), []wtesting.TestConfig{{Port: 9090, Host: "example.com"}})
}

func TestDecode_Msgpack(t *testing.T) {
	data, err := msgpack.Marshal(wtesting.TestConfig{Port: 7000, Host: "packed"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	_, rec := wtesting.Run(t, weave.Decode(
		weave.Just(weave.Entry{Key: "app", Value: data}),
		weave.WithCodec[wtesting.TestConfig](weave.MsgpackCodec{}),
	))

	equal(t, rec.Live(), []wtesting.TestConfig{{Port: 7000, Host: "packed"}})
}

func TestDecode_InvalidBytes(t *testing.T) {
	_, err := weave.Decode[wtesting.TestConfig](weave.Just(entry("broken", "{not json"))).
		Run(context.Background())
	if err == nil {
		t.Fatal("expected decode error")
	}

	var pe *weave.PublishError
	if !errors.As(err, &pe) || pe.Instance != "broken" {
		t.Fatalf("expected publish error for key broken, got %v", err)
	}
	if !strings.Contains(err.Error(), "application/json") {
		t.Errorf("expected codec content type in error, got %v", err)
	}
}

func TestDecode_ValidationFailure(t *testing.T) {
	_, err := weave.Decode[wtesting.TestConfig](weave.Just(
		entry("ok", `{"port": 1, "host": "h"}`),
		entry("invalid", `{"port": 0, "host": "h"}`),
	)).Run(context.Background())

	if err == nil || !strings.Contains(err.Error(), "port must be between 1 and 65535") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type limits struct {
	Max int `json:"max"`
}

func (l *limits) Validate() error {
	if l.Max <= 0 {
		return errors.New("max must be positive")
	}
	return nil
}

func TestDecode_PointerValidator(t *testing.T) {
	_, err := weave.Decode[limits](weave.Just(entry("limits", `{"max": 0}`))).Run(context.Background())
	if err == nil {
		t.Fatal("expected pointer receiver validation to run")
	}

	_, rec := wtesting.Run(t, weave.Decode[limits](weave.Just(entry("limits", `{"max": 3}`))))
	equal(t, rec.Live(), []limits{{Max: 3}})
}

func TestDecode_Middleware(t *testing.T) {
	defaults := pipz.Apply(pipz.NewIdentity("defaults", "Fill default timeout"),
		func(_ context.Context, c wtesting.TestConfig) (wtesting.TestConfig, error) {
			if c.Timeout == 0 {
				c.Timeout = 15
			}
			return c, nil
		})
	noLocalhost := pipz.Apply(pipz.NewIdentity("no-localhost", "Reject localhost"),
		func(_ context.Context, c wtesting.TestConfig) (wtesting.TestConfig, error) {
			if c.Host == "localhost" {
				return c, errors.New("localhost is not allowed")
			}
			return c, nil
		})

	s := weave.Decode(
		weave.Just(entry("remote", `{"port": 80, "host": "remote"}`)),
		weave.WithMiddleware[wtesting.TestConfig](defaults, noLocalhost),
	)
	_, rec := wtesting.Run(t, s)
	equal(t, rec.Live(), []wtesting.TestConfig{{Port: 80, Host: "remote", Timeout: 15}})

	_, err := weave.Decode(
		weave.Just(entry("local", `{"port": 80, "host": "localhost"}`)),
		weave.WithMiddleware[wtesting.TestConfig](defaults, noLocalhost),
	).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "localhost is not allowed") {
		t.Fatalf("expected middleware rejection, got %v", err)
	}
}

func TestDecode_FromWatcher(t *testing.T) {
	ctx := context.Background()
	events := make(chan weave.Event[weave.Entry], 2)
	events <- weave.Event[weave.Entry]{Op: weave.OpPut, Key: "app", Resource: entry("app", `{"port": 1, "host": "a"}`)}
	events <- weave.Event[weave.Entry]{Op: weave.OpPut, Key: "bad", Resource: entry("bad", `{"port": 1}`)}

	var escalated []error
	rec := wtesting.NewRecorder[wtesting.TestConfig]()
	res, err := weave.Decode[wtesting.TestConfig](
		weave.FromWatcher[weave.Entry](weave.NewChannelWatcher(events)),
	).RunWith(ctx, rec, weave.WithErrorHandler(func(_ context.Context, err error) {
		escalated = append(escalated, err)
	}))
	if err != nil {
		t.Fatalf("RunWith() error = %v", err)
	}
	defer res.Close(ctx)

	equal(t, rec.Live(), []wtesting.TestConfig{{Port: 1, Host: "a"}})
	if len(escalated) != 1 || !strings.Contains(escalated[0].Error(), "host is required") {
		t.Errorf("expected invalid entry to be escalated, got %v", escalated)
	}
}

func TestSameValue(t *testing.T) {
	a := weave.Entry{Key: "k", Value: []byte("v"), Version: 1}
	b := weave.Entry{Key: "k", Value: []byte("v"), Version: 2}

	if !weave.SameValue(a, b) {
		t.Error("expected same value")
	}
	if weave.SameEntry(a, b) {
		t.Error("expected different entries when versions differ")
	}
	if !weave.SameEntry(a, a) {
		t.Error("expected an entry to equal itself")
	}
}
