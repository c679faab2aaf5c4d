package cjunct

import (
	"fmt"
	"log/slog"
	"sort"
)

// ObjectTemplate tags a context subtree whose value is produced by
// evaluating Expr against the Templar scope; it is re-evaluated (producing
// a possibly fresh value) every time it is read through the renderer.
type ObjectTemplate struct {
	Expr string
}

// Workflow is a validated, tiered DAG of actions keyed by name, plus a
// free-form context mapping. It is immutable after construction except
// that Action.Disable may mutate status during the interactive phase,
// before execution starts.
type Workflow struct {
	actions map[string]*Action
	// order lists action names in (tier, name) order, used for tier-ordered
	// reporting and as the strategies' deterministic scan order.
	order   []string
	Context map[string]any
	logger  *slog.Logger
}

// Actions returns the workflow's action set, keyed by name. Callers must
// not mutate the returned map.
func (w *Workflow) Actions() map[string]*Action { return w.actions }

// Action looks up one action by name.
func (w *Workflow) Action(name string) (*Action, bool) {
	a, ok := w.actions[name]
	return a, ok
}

// Order returns action names in (tier ascending, name ascending) order.
func (w *Workflow) Order() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// NewWorkflow validates specs and builds a Workflow per the construction
// algorithm: prune external-missing ancestors, fail on remaining missing
// ancestors, derive descendants, collect entrypoints, BFS-assign tiers,
// and fail if any action is unreachable. Duplicate names are impossible by
// construction since specs is keyed by name; a loader is responsible for
// raising LoadError on duplicate names found in source form.
func NewWorkflow(specs map[string]ActionSpec, context map[string]any, logger *slog.Logger) (*Workflow, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if context == nil {
		context = map[string]any{}
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	actions := make(map[string]*Action, len(specs))
	var missing []string
	missingSeen := map[string]bool{}

	for _, name := range names {
		spec := specs[name]
		handler, ok := lookupHandler(spec.Type)
		if !ok {
			return nil, &LoadError{Message: fmt.Sprintf("no handler registered for type %q (action %q)", spec.Type, name)}
		}
		if err := validateArgs(name, spec.Type, spec.Args); err != nil {
			return nil, err
		}
		prunedAncestors := map[string]Dependency{}
		for anc, dep := range spec.Ancestors {
			if _, exists := specs[anc]; exists {
				prunedAncestors[anc] = dep
				continue
			}
			if dep.External {
				continue // silently dropped
			}
			if !missingSeen[anc] {
				missingSeen[anc] = true
				missing = append(missing, anc)
			}
		}
		spec.Ancestors = prunedAncestors
		actions[name] = newAction(name, spec, handler, logger)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &IntegrityError{Message: fmt.Sprintf("Missing actions among dependencies: %v", missing)}
	}

	// Derive descendants as inverse edges.
	for name, a := range actions {
		for anc, dep := range a.ancestors {
			actions[anc].descendants[name] = dep
		}
	}

	// Collect entrypoints.
	var entrypoints []string
	for _, name := range names {
		if len(actions[name].ancestors) == 0 {
			entrypoints = append(entrypoints, name)
		}
	}
	if len(entrypoints) == 0 {
		return nil, &IntegrityError{Message: "No entrypoints for the graph"}
	}
	sort.Strings(entrypoints)

	// Tiering via Kahn's algorithm: tier(entry)=0, tier(a)=1+max(tier(anc))
	// over a's ancestors. A node becomes ready (and its tier final) only
	// once every ancestor has contributed its tier, so a dependency cycle
	// leaves its members permanently not-ready rather than looping forever
	// — the existence of a finite tier for every action is equivalent to
	// acyclicity.
	remaining := map[string]int{}
	for _, name := range names {
		remaining[name] = len(actions[name].ancestors)
	}
	tiered := map[string]bool{}
	queue := make([]string, 0, len(actions))
	for _, e := range entrypoints {
		actions[e].tier = 0
		tiered[e] = true
		queue = append(queue, e)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curTier := actions[cur].tier
		descNames := make([]string, 0, len(actions[cur].descendants))
		for d := range actions[cur].descendants {
			descNames = append(descNames, d)
		}
		sort.Strings(descNames)
		for _, d := range descNames {
			if candidate := curTier + 1; candidate > actions[d].tier {
				actions[d].tier = candidate
			}
			remaining[d]--
			if remaining[d] == 0 && !tiered[d] {
				tiered[d] = true
				queue = append(queue, d)
			}
		}
	}

	var unreachable []string
	for _, name := range names {
		if !tiered[name] {
			unreachable = append(unreachable, name)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return nil, &IntegrityError{Message: fmt.Sprintf("Unreachable actions found: %v", unreachable)}
	}

	order := make([]string, len(names))
	copy(order, names)
	sort.Slice(order, func(i, j int) bool {
		ti, tj := actions[order[i]].tier, actions[order[j]].tier
		if ti != tj {
			return ti < tj
		}
		return order[i] < order[j]
	})

	return &Workflow{actions: actions, order: order, Context: context, logger: logger}, nil
}
