package weave

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResult_Lifecycle(t *testing.T) {
	ctx := context.Background()
	closes := 0

	res, err := Create(func(context.Context, Sink[int]) (Handle, error) {
		return NewHandle(func(context.Context) { closes++ }, nil), nil
	}).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.ID() == "" {
		t.Error("expected a run id")
	}
	if res.State() != StateRunning {
		t.Errorf("expected running, got %s", res.State())
	}
	if res.LastError() != nil {
		t.Errorf("expected no error, got %v", res.LastError())
	}

	res.Close(ctx)
	res.Close(ctx)
	res.Update(ctx)

	if closes != 1 {
		t.Errorf("expected 1 close, got %d", closes)
	}
	if res.State() != StateClosed {
		t.Errorf("expected closed, got %s", res.State())
	}
}

func TestResult_DistinctIDs(t *testing.T) {
	ctx := context.Background()
	a, _ := Nothing[int]().Run(ctx)
	b, _ := Nothing[int]().Run(ctx)
	if a.ID() == b.ID() {
		t.Errorf("expected distinct run ids, got %q twice", a.ID())
	}
}

func TestRunWith_StartFailure(t *testing.T) {
	boom := errors.New("boom")

	res, err := Create(func(context.Context, Sink[int]) (Handle, error) {
		return nil, boom
	}).Run(context.Background())

	if res != nil {
		t.Error("expected no result on failure")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestWithErrorHistory(t *testing.T) {
	x := newExecution(WithErrorHistory(2))
	ctx := context.Background()

	for i := range 3 {
		x.escalate(ctx, fmt.Errorf("failure %d", i))
	}

	errs := x.errors.all()
	if len(errs) != 2 || errs[0].Error() != "failure 1" || errs[1].Error() != "failure 2" {
		t.Errorf("expected the two newest failures, got %v", errs)
	}
	if x.last.Error() != "failure 2" {
		t.Errorf("expected last failure, got %v", x.last)
	}
}

func TestWithErrorHistory_Disabled(t *testing.T) {
	x := newExecution(WithErrorHistory(0))
	x.escalate(context.Background(), errors.New("x"))

	if x.errors.all() != nil {
		t.Error("expected no history")
	}
	if x.last == nil {
		t.Error("expected last error to be kept without history")
	}
}

func TestEscalate_Nil(t *testing.T) {
	x := newExecution()
	if err := x.escalate(context.Background(), nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if State(x.state.Load()) != StateRunning {
		t.Error("expected nil escalation not to degrade the run")
	}
}

func TestTerminal_NilHandleIsNoop(t *testing.T) {
	ctx := context.Background()
	x := newExecution()
	sink := terminal[int]{x: x, sink: SinkFunc[int](func(context.Context, int) (Handle, error) {
		return nil, nil
	})}

	h, err := sink.Publish(ctx, 1)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	h.Update(ctx)
	h.Close(ctx)
}

func TestSinkFunc_FailReturnsError(t *testing.T) {
	err := errors.New("x")
	var s SinkFunc[int] = func(context.Context, int) (Handle, error) { return Noop, nil }

	if got := s.Fail(context.Background(), err); got != err {
		t.Errorf("expected the same error, got %v", got)
	}
}
