package cjunct

import "context"

// StrategyName identifies one of the five scheduling policies.
type StrategyName string

const (
	StrategyFree              StrategyName = "free"
	StrategySequential         StrategyName = "sequential"
	StrategyLoose              StrategyName = "loose"
	StrategyStrict             StrategyName = "strict"
	StrategyStrictSequential   StrategyName = "strict-sequential"
)

// Strategy is an async iterator of actions: it emits actions as their
// scheduling preconditions are met and closes its channel once the
// workflow is exhausted. All five variants share the same underlying
// state machine but differ in emission policy (see NewStrategy).
type Strategy interface {
	// Actions returns a channel of ready-to-run actions. It must be
	// drained (or ctx cancelled) to avoid leaking the producer goroutine.
	Actions(ctx context.Context, wf *Workflow) <-chan *Action
}

// NewStrategy constructs the Strategy for name, defaulting to loose for an
// empty or unrecognized name being the caller's responsibility to validate
// beforehand (the CLI validates against the known set).
func NewStrategy(name StrategyName) Strategy {
	switch name {
	case StrategyFree:
		return freeStrategy{}
	case StrategySequential:
		return sequentialStrategy{forceStrict: false, skipRestOnFailure: false}
	case StrategyStrict:
		return looseStrategy{forceStrict: true}
	case StrategyStrictSequential:
		return sequentialStrategy{forceStrict: true, skipRestOnFailure: true}
	default:
		return looseStrategy{forceStrict: false}
	}
}

// freeStrategy emits every action immediately, full parallelism, with no
// dependency awareness at all: ancestors need not be done before a
// descendant is emitted. This is the least safe strategy and exists for
// workflows whose actions are already independent by construction.
type freeStrategy struct{}

func (freeStrategy) Actions(ctx context.Context, wf *Workflow) <-chan *Action {
	out := make(chan *Action)
	go func() {
		defer close(out)
		for _, name := range wf.Order() {
			select {
			case out <- wf.actions[name]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// sequentialStrategy emits one action at a time, in tier order, awaiting its
// completion before emitting the next. With forceStrict it treats every
// dependency as strict; with skipRestOnFailure it skips all remaining
// actions the first time an emitted action finishes in FAILURE or SKIPPED
// (a WARNING or OMITTED action does not stop the sequence).
type sequentialStrategy struct {
	forceStrict       bool
	skipRestOnFailure bool
}

func (s sequentialStrategy) Actions(ctx context.Context, wf *Workflow) <-chan *Action {
	out := make(chan *Action)
	go func() {
		defer close(out)
		order := wf.Order()
		halt := false
		for _, name := range order {
			a := wf.actions[name]
			if halt {
				a.setTerminal(StatusSkipped, "")
				continue
			}
			if s.forceStrict && ancestorBlocksStrict(wf, a, true) {
				a.setTerminal(StatusSkipped, "")
				continue
			}
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
			select {
			case <-a.Done():
			case <-ctx.Done():
				return
			}
			if s.skipRestOnFailure {
				switch a.Status() {
				case StatusFailure, StatusSkipped:
					halt = true
				}
			}
		}
	}()
	return out
}

// looseStrategy is the reference scheduling algorithm: it maintains a
// blockers set per action (decremented as ancestors finish) and an active
// set of emitted-but-not-done actions, emitting any action whose blockers
// have all finished and otherwise waiting for the first of the active
// actions to complete. forceStrict makes every edge behave as if declared
// strict (used by the `strict` variant).
type looseStrategy struct {
	forceStrict bool
}

func (s looseStrategy) Actions(ctx context.Context, wf *Workflow) <-chan *Action {
	out := make(chan *Action)
	completed := make(chan *Action)
	go func() {
		defer close(out)

		order := wf.Order()
		blockers := make(map[string]map[string]bool, len(order))
		for _, name := range order {
			set := make(map[string]bool, len(wf.actions[name].ancestors))
			for anc := range wf.actions[name].ancestors {
				set[anc] = true
			}
			blockers[name] = set
		}
		doneNames := map[string]bool{}
		activeNames := map[string]bool{}

		markDone := func(a *Action) {
			doneNames[a.name] = true
			delete(activeNames, a.name)
			for d := range a.descendants {
				delete(blockers[d], a.name)
			}
		}

		monitor := func(a *Action) {
			go func() {
				select {
				case <-a.Done():
					select {
					case completed <- a:
					case <-ctx.Done():
					}
				case <-ctx.Done():
				}
			}()
		}

		for {
			progressed := true
			for progressed {
				progressed = false
				for _, name := range order {
					if doneNames[name] || activeNames[name] || len(blockers[name]) > 0 {
						continue
					}
					a := wf.actions[name]
					if ancestorBlocksStrict(wf, a, s.forceStrict) {
						a.setTerminal(StatusSkipped, "")
						markDone(a)
						progressed = true
						continue
					}
					activeNames[name] = true
					monitor(a)
					select {
					case out <- a:
					case <-ctx.Done():
						return
					}
					progressed = true
				}
			}
			if len(activeNames) == 0 {
				return
			}
			select {
			case a := <-completed:
				markDone(a)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ancestorBlocksStrict reports whether a should be skipped rather than run:
// true iff some ancestor connected by a strict (or force-strict) edge ended
// in FAILURE or SKIPPED. A WARNING-terminal ancestor never blocks — low
// severity failures are treated like SUCCESS for dependency purposes.
func ancestorBlocksStrict(wf *Workflow, a *Action, forceStrict bool) bool {
	for anc, dep := range a.ancestors {
		if !(dep.Strict || forceStrict) {
			continue
		}
		switch wf.actions[anc].Status() {
		case StatusFailure, StatusSkipped:
			return true
		}
	}
	return false
}
