package cjunct

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestAction(t *testing.T, spec ActionSpec, handler Handler) *Action {
	t.Helper()
	return newAction("test", spec, handler, nil)
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSuccess, true},
		{StatusWarning, true},
		{StatusFailure, true},
		{StatusSkipped, true},
		{StatusOmitted, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestActionLifecycle(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{Type: "test-emit"}, func(ctx context.Context, a *Action) error {
			return nil
		})
		if a.Status() != StatusPending {
			t.Fatalf("initial status = %s, want PENDING", a.Status())
		}
		if err := a.Enable(); err != nil {
			t.Fatal(err)
		}
		if a.Status() != StatusRunning {
			t.Fatalf("status after enable = %s, want RUNNING", a.Status())
		}
		a.Run(context.Background())
		if a.Status() != StatusSuccess {
			t.Fatalf("status after run = %s, want SUCCESS", a.Status())
		}
		select {
		case <-a.Done():
		default:
			t.Fatal("Done channel not closed after terminal state")
		}
	})

	t.Run("handler error fails", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{}, func(ctx context.Context, a *Action) error {
			return fmt.Errorf("bad day")
		})
		_ = a.Enable()
		a.Run(context.Background())
		if a.Status() != StatusFailure {
			t.Fatalf("status = %s, want FAILURE", a.Status())
		}
		if a.Message() != "bad day" {
			t.Fatalf("message = %q, want %q", a.Message(), "bad day")
		}
	})

	t.Run("low severity fail becomes warning", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{Severity: SeverityLow}, func(ctx context.Context, a *Action) error {
			a.Fail("minor issue")
			return nil
		})
		_ = a.Enable()
		a.Run(context.Background())
		if a.Status() != StatusWarning {
			t.Fatalf("status = %s, want WARNING", a.Status())
		}
	})

	t.Run("skip terminates cleanly", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{}, func(ctx context.Context, a *Action) error {
			a.Skip()
			return nil
		})
		_ = a.Enable()
		a.Run(context.Background())
		if a.Status() != StatusSkipped {
			t.Fatalf("status = %s, want SKIPPED", a.Status())
		}
	})

	t.Run("panic recovered as failure", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{}, func(ctx context.Context, a *Action) error {
			panic("deliberate")
		})
		_ = a.Enable()
		a.Run(context.Background())
		if a.Status() != StatusFailure {
			t.Fatalf("status = %s, want FAILURE", a.Status())
		}
	})

	t.Run("nil handler fails", func(t *testing.T) {
		a := newTestAction(t, ActionSpec{Type: "ghost"}, nil)
		_ = a.Enable()
		a.Run(context.Background())
		if a.Status() != StatusFailure {
			t.Fatalf("status = %s, want FAILURE", a.Status())
		}
	})
}

func TestActionDisable(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, nil)
	if err := a.Disable(); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusOmitted {
		t.Fatalf("status = %s, want OMITTED", a.Status())
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done channel not closed after disable")
	}

	// Disable is valid only from PENDING.
	if err := a.Disable(); err == nil {
		t.Fatal("second disable succeeded, want error")
	}

	b := newTestAction(t, ActionSpec{}, nil)
	_ = b.Enable()
	if err := b.Disable(); err == nil {
		t.Fatal("disable from RUNNING succeeded, want error")
	}
}

func TestEnableRequiresPending(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, nil)
	if err := a.Enable(); err != nil {
		t.Fatal(err)
	}
	if err := a.Enable(); err == nil {
		t.Fatal("second enable succeeded, want error")
	}
}

func TestTerminalStateIsSticky(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, nil)
	a.Skip()
	a.Fail("after the fact")
	if a.Status() != StatusSkipped {
		t.Fatalf("status = %s, want SKIPPED to stick", a.Status())
	}
	if a.Message() != "" {
		t.Fatalf("message = %q, want empty", a.Message())
	}
}

func TestReadEventsCompleteness(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, func(ctx context.Context, a *Action) error {
		for i := 0; i < 100; i++ {
			a.Emit(i%2 == 1, fmt.Sprintf("line %d", i))
		}
		return nil
	})
	_ = a.Enable()

	done := make(chan []Event)
	go func() {
		var got []Event
		for ev := range a.ReadEvents() {
			got = append(got, ev)
		}
		done <- got
	}()

	a.Run(context.Background())

	select {
	case got := <-done:
		if len(got) != 100 {
			t.Fatalf("read %d events, want 100", len(got))
		}
		for i, ev := range got {
			wantMsg := fmt.Sprintf("line %d", i)
			wantKind := EventStdout
			if i%2 == 1 {
				wantKind = EventStderr
			}
			if ev.Message != wantMsg || ev.Kind != wantKind {
				t.Fatalf("event %d = %+v, want {%v %q}", i, ev, wantKind, wantMsg)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ReadEvents did not terminate after the action finished")
	}
}

func TestEmitAfterDoneIsDropped(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, nil)
	a.Skip()
	a.Emit(false, "too late")
	var got []Event
	for ev := range a.ReadEvents() {
		got = append(got, ev)
	}
	if len(got) != 0 {
		t.Fatalf("events after terminal = %v, want none", got)
	}
}

func TestYieldOutcomeOverwrites(t *testing.T) {
	a := newTestAction(t, ActionSpec{}, nil)
	a.YieldOutcome("key", "first")
	a.YieldOutcome("key", "second")
	if got := a.Outcomes()["key"]; got != "second" {
		t.Fatalf("outcomes[key] = %q, want %q", got, "second")
	}

	// Outcomes returns a snapshot, not the live map.
	snap := a.Outcomes()
	snap["key"] = "mutated"
	if got := a.Outcomes()["key"]; got != "second" {
		t.Fatalf("outcomes[key] = %q after snapshot mutation, want %q", got, "second")
	}
}
