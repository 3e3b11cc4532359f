package weave

import (
	"context"
	"errors"
	"testing"
)

func TestNewHandle_CloseOnce(t *testing.T) {
	ctx := context.Background()
	closes, updates := 0, 0

	h := NewHandle(
		func(context.Context) { closes++ },
		func(context.Context) { updates++ },
	)

	h.Update(ctx)
	h.Close(ctx)
	h.Close(ctx)
	h.Update(ctx)

	if closes != 1 {
		t.Errorf("expected 1 close, got %d", closes)
	}
	if updates != 1 {
		t.Errorf("expected update after close to be ignored, got %d updates", updates)
	}
}

func TestNewHandle_NilCallbacks(_ *testing.T) {
	h := NewHandle(nil, nil)
	h.Update(context.Background())
	h.Close(context.Background())
}

func TestNoop(_ *testing.T) {
	Noop.Update(context.Background())
	Noop.Close(context.Background())
	Noop.Close(context.Background())
}

func TestCloseAll_ReverseOrderAndRecovery(t *testing.T) {
	ctx := context.Background()
	x := newExecution()
	var order []int

	handles := []Handle{
		NewHandle(func(context.Context) { order = append(order, 1) }, nil),
		NewHandle(func(context.Context) { panic("broken") }, nil),
		NewHandle(func(context.Context) { order = append(order, 3) }, nil),
	}
	closeAll(ctx, x, handles)

	if len(order) != 2 || order[0] != 3 || order[1] != 1 {
		t.Errorf("expected [3 1], got %v", order)
	}

	var te *TerminationError
	if !errors.As(x.last, &te) || te.Stage != "close" || te.Value != "broken" {
		t.Errorf("expected recorded termination error, got %v", x.last)
	}
	if State(x.state.Load()) != StateDegraded {
		t.Errorf("expected degraded, got %s", State(x.state.Load()))
	}
}

func TestHandleList_Update(t *testing.T) {
	ctx := context.Background()
	x := newExecution()
	var order []int

	h := handleList(x, []Handle{
		NewHandle(nil, func(context.Context) { order = append(order, 1) }),
		NewHandle(nil, func(context.Context) { order = append(order, 2) }),
	})
	h.Update(ctx)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected updates in creation order, got %v", order)
	}
}
