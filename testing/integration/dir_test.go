package integration

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/weave"
	"github.com/zoobzio/weave/pkg/dir"
	wtesting "github.com/zoobzio/weave/testing"
)

func writeConfig(t *testing.T, path string, cfg any) {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func dirPipeline(path string, svc *services) weave.DynamicSet[appConfig] {
	entries := weave.FromWatcher[weave.Entry](dir.New(path, dir.WithPattern("*.json"), dir.WithDebounce(50*time.Millisecond)))
	return svc.attach(weave.Decode[appConfig](entries))
}

func TestDir_InitialLoad(t *testing.T) {
	path := t.TempDir()
	writeConfig(t, filepath.Join(path, "search.json"), appConfig{Feature: "search", Limit: 100})
	writeConfig(t, filepath.Join(path, "billing.json"), appConfig{Feature: "billing", Limit: 5})

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	wtesting.RequireState(t, res, weave.StateRunning)

	if len(svc.live()) != 2 {
		t.Fatalf("expected 2 running services, got %v", svc.live())
	}
	if !svc.has("search", 100) || !svc.has("billing", 5) {
		t.Errorf("unexpected services: %v", svc.live())
	}
}

func TestDir_LiveUpdate(t *testing.T) {
	path := t.TempDir()
	file := filepath.Join(path, "search.json")
	writeConfig(t, file, appConfig{Feature: "search", Limit: 100})

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	writeConfig(t, file, appConfig{Feature: "search", Limit: 200})

	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return svc.has("search", 200) }) {
		t.Fatalf("timeout waiting for update, running: %v", svc.live())
	}
	if len(svc.live()) != 1 {
		t.Errorf("expected the old service to stop, running: %v", svc.live())
	}
	wtesting.RequireState(t, res, weave.StateRunning)
}

func TestDir_AddAndRemoveFiles(t *testing.T) {
	path := t.TempDir()

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	file := filepath.Join(path, "search.json")
	writeConfig(t, file, appConfig{Feature: "search", Limit: 1})
	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return svc.has("search", 1) }) {
		t.Fatal("timeout waiting for new file")
	}

	if err := os.Remove(file); err != nil {
		t.Fatalf("failed to remove config: %v", err)
	}
	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return len(svc.live()) == 0 }) {
		t.Fatalf("timeout waiting for removal, running: %v", svc.live())
	}

	history := svc.history()
	if len(history) != 2 || history[0] != "start search" || history[1] != "stop search" {
		t.Errorf("unexpected history: %v", history)
	}
}

func TestDir_InvalidUpdateDegrades(t *testing.T) {
	path := t.TempDir()
	file := filepath.Join(path, "search.json")
	writeConfig(t, file, appConfig{Feature: "search", Limit: 100})

	var failures atomic.Int32
	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background(),
		weave.WithErrorHandler(func(_ context.Context, _ error) { failures.Add(1) }),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	writeConfig(t, file, appConfig{Feature: "search", Limit: -1})

	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return failures.Load() > 0 }) {
		t.Fatal("timeout waiting for the rejected update")
	}
	wtesting.RequireState(t, res, weave.StateDegraded)

	// The file now describes an invalid configuration, so nothing runs for it.
	if !wtesting.WaitFor(t, time.Second, func() bool { return len(svc.live()) == 0 }) {
		t.Errorf("expected the replaced service to stop, running: %v", svc.live())
	}

	var pe *weave.PublishError
	if !errors.As(res.LastError(), &pe) {
		t.Fatalf("expected *PublishError, got %T: %v", res.LastError(), res.LastError())
	}
}

func TestDir_RecoveryAfterInvalidUpdate(t *testing.T) {
	path := t.TempDir()
	file := filepath.Join(path, "search.json")
	writeConfig(t, file, appConfig{Feature: "search", Limit: 100})

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	writeConfig(t, file, appConfig{Feature: ""})
	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return res.State() == weave.StateDegraded }) {
		t.Fatal("timeout waiting for degraded state")
	}

	writeConfig(t, file, appConfig{Feature: "search", Limit: 300})
	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return svc.has("search", 300) }) {
		t.Fatalf("timeout waiting for recovery, running: %v", svc.live())
	}

	// The failure stays on record.
	wtesting.RequireState(t, res, weave.StateDegraded)
	if len(res.Errors()) == 0 {
		t.Error("expected the rejected update to be recorded")
	}
}

func TestDir_MalformedJSON(t *testing.T) {
	path := t.TempDir()
	writeConfig(t, filepath.Join(path, "good.json"), appConfig{Feature: "good", Limit: 1})
	bad := filepath.Join(path, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer res.Close(context.Background())

	// The malformed file is rejected on its own; the rest of the directory runs.
	wtesting.RequireState(t, res, weave.StateDegraded)
	if len(svc.live()) != 1 || !svc.has("good", 1) {
		t.Fatalf("expected only the good service, running: %v", svc.live())
	}

	writeConfig(t, bad, appConfig{Feature: "fixed", Limit: 2})
	if !wtesting.WaitFor(t, 2*time.Second, func() bool { return svc.has("fixed", 2) }) {
		t.Fatalf("timeout waiting for fixed file, running: %v", svc.live())
	}
}

func TestDir_CloseStopsServices(t *testing.T) {
	path := t.TempDir()
	writeConfig(t, filepath.Join(path, "a.json"), appConfig{Feature: "a"})
	writeConfig(t, filepath.Join(path, "b.json"), appConfig{Feature: "b"})

	svc := &services{}
	res, err := dirPipeline(path, svc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res.Close(context.Background())

	wtesting.RequireState(t, res, weave.StateClosed)
	history := svc.history()
	want := []string{"start a", "start b", "stop b", "stop a"}
	if len(history) != len(want) {
		t.Fatalf("expected %v, got %v", want, history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, history[i], want[i])
		}
	}
}
