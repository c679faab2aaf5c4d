package cjunct

import (
	"context"
	"strings"
	"testing"
)

// Scenario: two-node dependency under the loose strategy; both succeed and
// their output reaches the display with the right stream tagging.
func TestRunTwoNodeDependency(t *testing.T) {
	specs := map[string]ActionSpec{
		"Foo": {Type: "test-emit", Args: map[string]any{"message": "foo"}},
		"Bar": {Type: "test-emit", Args: map[string]any{"stderr": "bar"}, Ancestors: map[string]Dependency{"Foo": {}}},
	}
	wf := mustWorkflow(t, specs, nil)
	display := &collectorDisplay{}
	if err := runWorkflow(wf, StrategyLoose, display, false); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Foo", "Bar"} {
		a, _ := wf.Action(name)
		if a.Status() != StatusSuccess {
			t.Errorf("status(%s) = %s, want SUCCESS", name, a.Status())
		}
	}
	if got := display.messagesFor("Foo"); len(got) != 1 || got[0] != "foo" {
		t.Errorf("Foo messages = %v, want [foo]", got)
	}
	var barErrs []string
	for _, ev := range display.snapshot() {
		if ev.kind == "error" && ev.action == "Bar" {
			barErrs = append(barErrs, ev.message)
		}
	}
	if len(barErrs) != 1 || barErrs[0] != "bar" {
		t.Errorf("Bar stderr lines = %v, want [bar]", barErrs)
	}

	events := display.snapshot()
	last := events[len(events)-1]
	if last.kind != "done" {
		t.Errorf("last display event = %+v, want OnFinish", last)
	}
}

// Outcome flow: an ancestor's outcomes are visible to the descendant's
// renderer by the time the descendant's args are rendered.
func TestRunOutcomeVisibility(t *testing.T) {
	specs := map[string]ActionSpec{
		"Foo": {Type: "test-emit", Args: map[string]any{"outcomes": map[string]any{"result_key": "I am foo"}}},
		"Bar": {Type: "test-emit", Args: map[string]any{"message": "@{outcomes.Foo.result_key}"}, Ancestors: map[string]Dependency{"Foo": {}}},
		"Baz": {Type: "test-emit", Args: map[string]any{"message": "status=@{status.Foo}"}, Ancestors: map[string]Dependency{"Bar": {}}},
	}
	wf := mustWorkflow(t, specs, nil)
	display := &collectorDisplay{}
	if err := runWorkflow(wf, StrategyLoose, display, false); err != nil {
		t.Fatal(err)
	}
	if got := display.messagesFor("Bar"); len(got) != 1 || got[0] != "I am foo" {
		t.Fatalf("Bar messages = %v, want [I am foo]", got)
	}
	if got := display.messagesFor("Baz"); len(got) != 1 || got[0] != "status=SUCCESS" {
		t.Fatalf("Baz messages = %v, want [status=SUCCESS]", got)
	}
}

// Render cycle: the affected action fails with a render error; independent
// actions still run.
func TestRunRenderCycleFailsOnlyAffectedAction(t *testing.T) {
	specs := map[string]ActionSpec{
		"broken": {Type: "test-emit", Args: map[string]any{"message": "@{context.x}"}},
		"fine":   {Type: "test-emit", Args: map[string]any{"message": "ok"}},
	}
	ctx := map[string]any{
		"x": "@{context.y}",
		"y": "@{context.x}",
	}
	wf := mustWorkflow(t, specs, ctx)
	display := &collectorDisplay{}
	err := runWorkflow(wf, StrategyLoose, display, false)
	ef, ok := err.(*ExecutionFailed)
	if !ok {
		t.Fatalf("error = %T (%v), want *ExecutionFailed", err, err)
	}
	if len(ef.FailedActions) != 1 || ef.FailedActions[0] != "broken" {
		t.Fatalf("failed = %v, want [broken]", ef.FailedActions)
	}

	broken, _ := wf.Action("broken")
	if broken.Status() != StatusFailure {
		t.Fatalf("status(broken) = %s, want FAILURE", broken.Status())
	}
	if !strings.Contains(broken.Message(), "recursion depth exceeded") {
		t.Fatalf("message = %q, want recursion wording", broken.Message())
	}
	fine, _ := wf.Action("fine")
	if fine.Status() != StatusSuccess {
		t.Fatalf("status(fine) = %s, want SUCCESS", fine.Status())
	}

	// The render error surfaced to the display without the handler running.
	var sawError, sawFinish bool
	for _, ev := range display.snapshot() {
		if ev.action != "broken" {
			continue
		}
		switch ev.kind {
		case "error":
			sawError = true
		case "finish":
			sawFinish = true
		case "start":
			t.Error("broken action reported a start despite failing to render")
		}
	}
	if !sawError || !sawFinish {
		t.Errorf("display saw error=%v finish=%v for broken, want both", sawError, sawFinish)
	}
}

// Interactive omission: the interactive display offers Foo and Baz (Bar is
// not selectable); picking only Foo disables every unpicked action,
// non-selectable Bar included.
func TestRunInteractiveOmission(t *testing.T) {
	specs := map[string]ActionSpec{
		"Foo": {Type: "test-emit", Args: map[string]any{"message": "foo"}},
		"Bar": {Type: "test-emit", Selectable: boolPtr(false)},
		"Baz": {Type: "test-emit"},
	}
	wf := mustWorkflow(t, specs, nil)
	var out strings.Builder
	display := NewInteractiveDisplay(wf, &out, strings.NewReader("Foo\n"), "0")
	if err := runWorkflow(wf, StrategyLoose, display, true); err != nil {
		t.Fatal(err)
	}
	wantStatuses := map[string]Status{
		"Foo": StatusSuccess,
		"Bar": StatusOmitted,
		"Baz": StatusOmitted,
	}
	for name, want := range wantStatuses {
		a, _ := wf.Action(name)
		if a.Status() != want {
			t.Errorf("status(%s) = %s, want %s", name, a.Status(), want)
		}
	}
}

func TestRunInteractionErrorAborts(t *testing.T) {
	wf := mustWorkflow(t, map[string]ActionSpec{"a": {Type: "test-emit"}}, nil)
	err := runWorkflow(wf, StrategyLoose, &collectorDisplay{}, true)
	if _, ok := err.(*InteractionError); !ok {
		t.Fatalf("error = %T (%v), want *InteractionError", err, err)
	}
	a, _ := wf.Action("a")
	if a.Status() != StatusPending {
		t.Fatalf("status(a) = %s, nothing should have run", a.Status())
	}
}

func TestRunnerRunsAtMostOnce(t *testing.T) {
	wf := mustWorkflow(t, map[string]ActionSpec{"a": {Type: "test-emit"}}, nil)
	r := NewRunner(defaults(), nil, WithRunnerDisplay(&collectorDisplay{}))
	if err := r.Run(context.Background(), wf, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background(), wf, false); err == nil {
		t.Fatal("second Run succeeded, want error")
	}
}

// panickingDisplay throws from every callback; a broken display must never
// abort the workflow.
type panickingDisplay struct{}

func (panickingDisplay) EmitActionMessage(*Action, string) { panic("display") }
func (panickingDisplay) EmitActionError(*Action, string)   { panic("display") }
func (panickingDisplay) OnActionStart(*Action)             { panic("display") }
func (panickingDisplay) OnActionFinish(*Action)            { panic("display") }
func (panickingDisplay) OnFinish()                         { panic("display") }
func (panickingDisplay) OnPlanInteraction(*Workflow) error { panic("display") }

func TestRunSurvivesPanickingDisplay(t *testing.T) {
	specs := map[string]ActionSpec{
		"a": {Type: "test-emit", Args: map[string]any{"message": "hello"}},
		"b": {Type: "test-emit", Ancestors: map[string]Dependency{"a": {}}},
	}
	wf := mustWorkflow(t, specs, nil)
	if err := runWorkflow(wf, StrategyLoose, panickingDisplay{}, false); err != nil {
		t.Fatal(err)
	}
	for name, a := range wf.Actions() {
		if a.Status() != StatusSuccess {
			t.Errorf("status(%s) = %s, want SUCCESS", name, a.Status())
		}
	}
}

func TestRunnerAggregatesOutcomes(t *testing.T) {
	specs := map[string]ActionSpec{
		"a": {Type: "test-emit", Args: map[string]any{"outcomes": map[string]any{"k": "v"}}},
	}
	wf := mustWorkflow(t, specs, nil)
	r := NewRunner(defaults(), nil, WithRunnerDisplay(&collectorDisplay{}))
	if err := r.Run(context.Background(), wf, false); err != nil {
		t.Fatal(err)
	}
	if got := r.Outcomes()["a"]["k"]; got != "v" {
		t.Fatalf("aggregated outcome = %q, want %q", got, "v")
	}
}

func boolPtr(b bool) *bool { return &b }
