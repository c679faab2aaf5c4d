package cjunct

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
)

func init() {
	// Parameterized handlers shared across the package's tests. Each reads
	// its behavior from the action's args so one registration serves many
	// scenarios.
	Register("test-emit", func(ctx context.Context, a *Action) error {
		if msg, ok := a.Args()["message"].(string); ok {
			a.Emit(false, msg)
		}
		if msg, ok := a.Args()["stderr"].(string); ok {
			a.Emit(true, msg)
		}
		if outs, ok := a.Args()["outcomes"].(map[string]any); ok {
			for k, v := range outs {
				a.YieldOutcome(k, fmt.Sprintf("%v", v))
			}
		}
		return nil
	})
	Register("test-fail", func(ctx context.Context, a *Action) error {
		msg, _ := a.Args()["message"].(string)
		if msg == "" {
			msg = "boom"
		}
		return errors.New(msg)
	})
	Register("test-skip", func(ctx context.Context, a *Action) error {
		a.Skip()
		return nil
	})
	Register("test-panic", func(ctx context.Context, a *Action) error {
		panic("deliberate")
	})
}

// displayEvent is one recorded Display callback, in arrival order.
type displayEvent struct {
	kind    string // "message", "error", "start", "finish", "done"
	action  string
	message string
}

// collectorDisplay records every callback for assertions. It satisfies the
// concurrency requirements of the Display contract.
type collectorDisplay struct {
	mu     sync.Mutex
	events []displayEvent
}

func (c *collectorDisplay) record(kind, action, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, displayEvent{kind: kind, action: action, message: message})
}

func (c *collectorDisplay) EmitActionMessage(source *Action, message string) {
	c.record("message", source.Name(), message)
}

func (c *collectorDisplay) EmitActionError(source *Action, message string) {
	c.record("error", source.Name(), message)
}

func (c *collectorDisplay) OnActionStart(source *Action)  { c.record("start", source.Name(), "") }
func (c *collectorDisplay) OnActionFinish(source *Action) { c.record("finish", source.Name(), "") }
func (c *collectorDisplay) OnFinish()                     { c.record("done", "", "") }

func (c *collectorDisplay) OnPlanInteraction(wf *Workflow) error {
	return &InteractionError{Message: "collector display has no interactive surface"}
}

func (c *collectorDisplay) snapshot() []displayEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]displayEvent, len(c.events))
	copy(out, c.events)
	return out
}

// messagesFor returns the stdout-like messages recorded for one action.
func (c *collectorDisplay) messagesFor(action string) []string {
	var out []string
	for _, ev := range c.snapshot() {
		if ev.kind == "message" && ev.action == action {
			out = append(out, ev.message)
		}
	}
	return out
}

// writeFile writes an executable test fixture.
func writeFile(t *testing.T, path, content string) error {
	t.Helper()
	return os.WriteFile(path, []byte(content), 0o755)
}

// mustWorkflow builds a workflow from specs, failing the test on error.
func mustWorkflow(t *testing.T, specs map[string]ActionSpec, context map[string]any) *Workflow {
	t.Helper()
	wf, err := NewWorkflow(specs, context, nil)
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	return wf
}

// runWorkflow drives wf through a fresh Runner with the given strategy and
// collector display.
func runWorkflow(wf *Workflow, strategy StrategyName, display Display, interactive bool) error {
	cfg := defaults()
	cfg.StrategyName = strategy
	r := NewRunner(cfg, nil, WithRunnerDisplay(display))
	return r.Run(context.Background(), wf, interactive)
}
