package cjunct

import (
	"strings"
	"testing"
)

func specChain(names ...string) map[string]ActionSpec {
	specs := map[string]ActionSpec{}
	for i, name := range names {
		spec := ActionSpec{Type: "test-emit"}
		if i > 0 {
			spec.Ancestors = map[string]Dependency{names[i-1]: {Strict: true}}
		}
		specs[name] = spec
	}
	return specs
}

func TestNewWorkflowTiering(t *testing.T) {
	specs := map[string]ActionSpec{
		"a": {Type: "test-emit"},
		"b": {Type: "test-emit", Ancestors: map[string]Dependency{"a": {}}},
		"c": {Type: "test-emit", Ancestors: map[string]Dependency{"a": {}}},
		"d": {Type: "test-emit", Ancestors: map[string]Dependency{"b": {}, "c": {}}},
	}
	wf := mustWorkflow(t, specs, nil)

	wantTiers := map[string]int{"a": 0, "b": 1, "c": 1, "d": 2}
	for name, want := range wantTiers {
		a, _ := wf.Action(name)
		if a.Tier() != want {
			t.Errorf("tier(%s) = %d, want %d", name, a.Tier(), want)
		}
	}

	// tier(a) > tier(anc) for every ancestor edge.
	for _, a := range wf.Actions() {
		for anc := range a.Ancestors() {
			ancAction, _ := wf.Action(anc)
			if a.Tier() <= ancAction.Tier() {
				t.Errorf("tier(%s)=%d not greater than ancestor %s tier %d", a.Name(), a.Tier(), anc, ancAction.Tier())
			}
		}
	}

	if got := wf.Order(); got[0] != "a" || got[len(got)-1] != "d" {
		t.Errorf("order = %v, want a first and d last", got)
	}
}

func TestNewWorkflowDescendantsDerived(t *testing.T) {
	wf := mustWorkflow(t, specChain("x", "y"), nil)
	x, _ := wf.Action("x")
	dep, ok := x.Descendants()["y"]
	if !ok {
		t.Fatal("x has no descendant y")
	}
	if !dep.Strict {
		t.Error("descendant edge lost its strict flag")
	}
}

func TestNewWorkflowMissingDependency(t *testing.T) {
	specs := map[string]ActionSpec{
		"B": {Type: "test-emit", Ancestors: map[string]Dependency{"A": {}}},
	}
	_, err := NewWorkflow(specs, nil, nil)
	ie, ok := err.(*IntegrityError)
	if !ok {
		t.Fatalf("error = %T (%v), want *IntegrityError", err, err)
	}
	if !strings.Contains(ie.Message, "Missing actions among dependencies: [A]") {
		t.Fatalf("message = %q, want missing-dependency wording naming A", ie.Message)
	}
}

func TestNewWorkflowExternalDependencyPruned(t *testing.T) {
	specs := map[string]ActionSpec{
		"B": {Type: "test-emit", Ancestors: map[string]Dependency{"A": {External: true}}},
	}
	wf := mustWorkflow(t, specs, nil)
	b, _ := wf.Action("B")
	if len(b.Ancestors()) != 0 {
		t.Fatalf("ancestors = %v, want external edge pruned", b.Ancestors())
	}
	if b.Tier() != 0 {
		t.Fatalf("tier = %d, want 0 (B is an entrypoint after pruning)", b.Tier())
	}
}

func TestNewWorkflowNoEntrypoints(t *testing.T) {
	specs := map[string]ActionSpec{
		"a": {Type: "test-emit", Ancestors: map[string]Dependency{"b": {}}},
		"b": {Type: "test-emit", Ancestors: map[string]Dependency{"a": {}}},
	}
	_, err := NewWorkflow(specs, nil, nil)
	ie, ok := err.(*IntegrityError)
	if !ok {
		t.Fatalf("error = %T (%v), want *IntegrityError", err, err)
	}
	if !strings.Contains(ie.Message, "No entrypoints") {
		t.Fatalf("message = %q, want no-entrypoints wording", ie.Message)
	}
}

func TestNewWorkflowUnreachableCycle(t *testing.T) {
	// "entry" is a valid entrypoint, but b and c form a cycle off to the
	// side: they can never be tiered.
	specs := map[string]ActionSpec{
		"entry": {Type: "test-emit"},
		"b":     {Type: "test-emit", Ancestors: map[string]Dependency{"c": {}}},
		"c":     {Type: "test-emit", Ancestors: map[string]Dependency{"b": {}}},
	}
	_, err := NewWorkflow(specs, nil, nil)
	ie, ok := err.(*IntegrityError)
	if !ok {
		t.Fatalf("error = %T (%v), want *IntegrityError", err, err)
	}
	if !strings.Contains(ie.Message, "Unreachable actions found") {
		t.Fatalf("message = %q, want unreachable wording", ie.Message)
	}
}

func TestNewWorkflowUnknownType(t *testing.T) {
	specs := map[string]ActionSpec{
		"a": {Type: "no-such-handler"},
	}
	_, err := NewWorkflow(specs, nil, nil)
	if _, ok := err.(*LoadError); !ok {
		t.Fatalf("error = %T (%v), want *LoadError", err, err)
	}
}

func TestNewWorkflowSchemaViolation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing required", nil, "actions.a.message: required field missing"},
		{"wrong kind", map[string]any{"message": 42}, "actions.a.message"},
		{"unknown field", map[string]any{"message": "hi", "volume": 11}, "actions.a.volume: unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := map[string]ActionSpec{"a": {Type: "echo", Args: tt.args}}
			_, err := NewWorkflow(specs, nil, nil)
			le, ok := err.(*LoadError)
			if !ok {
				t.Fatalf("error = %T (%v), want *LoadError", err, err)
			}
			if !strings.Contains(le.Message, tt.want) {
				t.Fatalf("message = %q, want it to contain %q", le.Message, tt.want)
			}
		})
	}
}
