package testing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/weave"
)

func TestTestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  TestConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  TestConfig{Port: 8080, Host: "localhost", Timeout: 30},
			wantErr: false,
		},
		{
			name:    "port too low",
			config:  TestConfig{Port: 0, Host: "localhost"},
			wantErr: true,
		},
		{
			name:    "port too high",
			config:  TestConfig{Port: 70000, Host: "localhost"},
			wantErr: true,
		},
		{
			name:    "empty host",
			config:  TestConfig{Port: 8080, Host: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		result := WaitFor(t, 100*time.Millisecond, func() bool {
			return true
		})
		if !result {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		result := WaitFor(t, 50*time.Millisecond, func() bool {
			return false
		})
		if result {
			t.Error("expected WaitFor to return false on timeout")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var met atomic.Bool
		go func() {
			time.Sleep(30 * time.Millisecond)
			met.Store(true)
		}()
		if !WaitFor(t, time.Second, met.Load) {
			t.Error("expected WaitFor to return true")
		}
	})
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("records publish update and close", func(t *testing.T) {
		rec := NewRecorder[string]()
		h, err := rec.Publish(ctx, "a")
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		h.Update(ctx)
		h.Close(ctx)
		h.Close(ctx)

		want := []Record[string]{
			{Kind: Added, Value: "a"},
			{Kind: Updated, Value: "a"},
			{Kind: Removed, Value: "a"},
		}
		got := rec.Events()
		if len(got) != len(want) {
			t.Fatalf("expected %d events, got %v", len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("event %d: expected %v, got %v", i, want[i], got[i])
			}
		}
	})

	t.Run("equal values are tracked separately", func(t *testing.T) {
		rec := NewRecorder[string]()
		first, _ := rec.Publish(ctx, "same")
		_, _ = rec.Publish(ctx, "same")

		first.Close(ctx)
		if live := rec.Live(); len(live) != 1 {
			t.Errorf("expected one live value, got %v", live)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		boom := errors.New("boom")
		rec := NewRecorder[int]().RejectWhen(func(v int) error {
			if v < 0 {
				return boom
			}
			return nil
		})
		if _, err := rec.Publish(ctx, -1); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if _, err := rec.Publish(ctx, 1); err != nil {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	res, rec := Run(t, weave.Just(1, 2, 3))

	RequireState(t, res, weave.StateRunning)
	if !WaitForLive(t, rec, 3, 100*time.Millisecond) {
		t.Errorf("expected 3 live values, got %v", rec.Live())
	}
}
