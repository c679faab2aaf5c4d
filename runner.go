package cjunct

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// Runner is the main entry object: it drives an already built Workflow
// (see ResolveSource and Load) to completion through a Strategy, rendering each
// action's arguments just before it runs and forwarding its events to a
// Display. A Runner runs at most once.
type Runner struct {
	cfg      Config
	logger   *slog.Logger
	display  Display
	strategy Strategy
	tracer   Tracer
	strict   bool
	runID    string

	mu       sync.Mutex
	outcomes map[string]map[string]string

	ran int32
}

// RunnerOption configures a Runner built by NewRunner.
type RunnerOption func(*Runner)

// WithRunnerDisplay overrides the Display the Runner would otherwise build
// from cfg.DisplayName ("markdown" selects MarkdownDisplay; any other name
// selects DefaultDisplay), writing to os.Stdout.
func WithRunnerDisplay(d Display) RunnerOption {
	return func(r *Runner) { r.display = d }
}

// WithRunnerStrategy overrides the Strategy the Runner would otherwise
// build from cfg.StrategyName.
func WithRunnerStrategy(s Strategy) RunnerOption {
	return func(r *Runner) { r.strategy = s }
}

// WithRunnerTracer wires a Tracer: one span for the whole run, one child
// span per action. A nil tracer (the default) skips span creation.
func WithRunnerTracer(t Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner builds a Runner from a resolved Config.
func NewRunner(cfg Config, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:      cfg,
		strict:   cfg.StrictOutcomesRendering,
		runID:    newRunID(),
		outcomes: map[string]map[string]string{},
	}
	r.logger = logger.With("run_id", r.runID)
	for _, opt := range opts {
		opt(r)
	}
	if r.strategy == nil {
		r.strategy = NewStrategy(cfg.StrategyName)
	}
	return r
}

// RunID returns the identifier correlating this run across logs and traces.
func (r *Runner) RunID() string { return r.runID }

// Outcomes returns a snapshot of every finished action's outcomes, keyed by
// action name.
func (r *Runner) Outcomes() map[string]map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]string, len(r.outcomes))
	for name, m := range r.outcomes {
		inner := make(map[string]string, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[name] = inner
	}
	return out
}

func (r *Runner) snapshotOutcomes(a *Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[a.Name()] = a.Outcomes()
}

// candidateSourceNames are the default workflow file names probed by
// autodetection, in priority order.
var candidateSourceNames = []string{"cjunct.yml", "cjunct.yaml", "cjunct.toml"}

// ResolveSource finds the workflow source path: an explicit cfg.WorkflowFile
// (or "-" for stdin) wins; otherwise the current directory is scanned for
// exactly one of the candidate file names.
func ResolveSource(cfg Config) (string, error) {
	if cfg.WorkflowFile != "" {
		if cfg.WorkflowFile == "-" {
			return "-", nil
		}
		if _, err := os.Stat(cfg.WorkflowFile); err != nil {
			return "", &SourceError{Message: fmt.Sprintf("workflow file %q: %v", cfg.WorkflowFile, err), Cause: err}
		}
		return cfg.WorkflowFile, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", &SourceError{Message: "resolving working directory: " + err.Error(), Cause: err}
	}
	var found []string
	for _, name := range candidateSourceNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return "", &SourceError{Message: fmt.Sprintf("no workflow source detected in %s", dir)}
	case 1:
		return found[0], nil
	default:
		sort.Strings(found)
		return "", &SourceError{Message: fmt.Sprintf("ambiguous workflow source, found %v", found)}
	}
}

// Load resolves source into specs and a context mapping via the loader
// registered for its extension, then builds the Workflow.
func Load(source string, logger *slog.Logger) (*Workflow, error) {
	var (
		raw []byte
		err error
		ext string
	)
	if source == "-" {
		raw, err = io.ReadAll(os.Stdin)
		ext = ".yml"
	} else {
		raw, err = os.ReadFile(source)
		ext = filepath.Ext(source)
	}
	if err != nil {
		return nil, &SourceError{Message: "reading workflow source: " + err.Error(), Cause: err}
	}

	def, err := LoadDefinition(ext, raw, filepath.Dir(absOrSelf(source)))
	if err != nil {
		return nil, err
	}
	specs, err := def.ToActionSpecs()
	if err != nil {
		return nil, err
	}
	return NewWorkflow(specs, def.Context, logger)
}

func absOrSelf(p string) string {
	if p == "-" {
		wd, _ := os.Getwd()
		return wd
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Run drives wf to completion: offers an interactive plan selection when
// interactive is true, then iterates the strategy, rendering each action's
// arguments, running it, and forwarding its events to the display
// concurrently. It returns ExecutionFailed if any action ended in FAILURE,
// nil otherwise. Run must be called at most once per Runner.
func (r *Runner) Run(ctx context.Context, wf *Workflow, interactive bool) error {
	if !atomic.CompareAndSwapInt32(&r.ran, 0, 1) {
		return &BaseError{Message: "runner has already run"}
	}

	display := r.display
	if display == nil {
		if r.cfg.DisplayName == "markdown" {
			display = NewMarkdownDisplay(wf, os.Stdout)
		} else {
			display = NewDefaultDisplay(wf, os.Stdout, r.cfg.ForceColor)
		}
	}
	templar := NewTemplar(wf, r.strict)
	ctx = withConfig(ctx, r.cfg)

	var runSpan Span
	if r.tracer != nil {
		ctx, runSpan = r.tracer.Start(ctx, "workflow.run",
			StringAttr("run.id", r.runID),
			IntAttr("workflow.actions", len(wf.Actions())),
		)
		defer runSpan.End()
	}

	if interactive {
		if err := display.OnPlanInteraction(wf); err != nil {
			if runSpan != nil {
				runSpan.Error(err)
			}
			return err
		}
	}

	var wg sync.WaitGroup
	for action := range r.strategy.Actions(ctx, wf) {
		a := action
		if a.Status() != StatusPending {
			// Already terminal (e.g. skipped/omitted by the strategy or by
			// interactive deselection) before it ever reached Enable().
			continue
		}
		if err := renderArgs(templar, a); err != nil {
			r.logger.Warn("render failed", "action", a.Name(), "error", err)
			a.Fail(err.Error())
			safeCall(func() { display.EmitActionError(a, err.Error()) })
			safeCall(func() { display.OnActionFinish(a) })
			continue
		}
		if err := a.Enable(); err != nil {
			r.logger.Warn("enable failed", "action", a.Name(), "error", err)
			continue
		}
		safeCall(func() { display.OnActionStart(a) })

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runOne(ctx, a, display)
		}()
	}
	wg.Wait()

	safeCall(display.OnFinish)

	var failed []string
	for _, name := range wf.Order() {
		if wf.Actions()[name].Status() == StatusFailure {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		err := &ExecutionFailed{FailedActions: failed}
		if runSpan != nil {
			runSpan.Error(err)
		}
		return err
	}
	return nil
}

// renderArgs deep-renders an action's declared arguments through templar,
// replacing them with their rendered values so the handler sees resolved
// strings. A render error fails only this action rather than aborting the
// whole run.
func renderArgs(templar *Templar, a *Action) error {
	rendered := make(map[string]any, len(a.Args()))
	for k, v := range a.Args() {
		rv, err := templar.RenderValue(a.Name(), v)
		if err != nil {
			return err
		}
		rendered[k] = rv
	}
	a.args = rendered
	return nil
}

// runOne runs a single action and concurrently drains its event stream to
// the display until both the handler returns and the event buffer empties.
func (r *Runner) runOne(ctx context.Context, a *Action, display Display) {
	var span Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "action.run",
			StringAttr("action.name", a.Name()),
			StringAttr("action.type", a.Type()),
			IntAttr("action.tier", a.Tier()),
		)
	}

	var evWG sync.WaitGroup
	evWG.Add(1)
	go func() {
		defer evWG.Done()
		for ev := range a.ReadEvents() {
			switch ev.Kind {
			case EventStderr:
				safeCall(func() { display.EmitActionError(a, ev.Message) })
			default:
				safeCall(func() { display.EmitActionMessage(a, ev.Message) })
			}
		}
	}()

	a.Run(ctx)
	r.snapshotOutcomes(a)
	evWG.Wait()
	safeCall(func() { display.OnActionFinish(a) })

	if span != nil {
		span.SetAttr(StringAttr("action.status", string(a.Status())))
		if a.Status() == StatusFailure {
			span.Error(&ActionRunError{Action: a.Name(), Message: a.Message()})
		}
		span.End()
	}
}

// safeCall invokes a Display callback defensively: a panicking Display must
// not crash the run of unrelated actions.
func safeCall(f func()) {
	defer func() {
		_ = recover()
	}()
	f()
}
