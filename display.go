package cjunct

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Display is the Runner's sole output surface: every user-visible line,
// interactive prompt, and terminal status report flows through it. A
// Display implementation must be safe for concurrent use, since the Runner
// invokes it from per-action goroutines as well as from its own driver
// loop.
type Display interface {
	// EmitActionMessage processes one stdout-like line from a running action.
	EmitActionMessage(source *Action, message string)
	// EmitActionError processes one stderr-like line from a running action.
	EmitActionError(source *Action, message string)
	// OnActionStart is called once an action transitions to RUNNING.
	OnActionStart(source *Action)
	// OnActionFinish is called once an action reaches a terminal state.
	OnActionFinish(source *Action)
	// OnFinish is called once after every action has reached a terminal
	// state, before Runner.Run returns.
	OnFinish()
	// OnPlanInteraction offers the user a chance to deselect actions before
	// execution starts. Implementations with no interactive surface (e.g. a
	// machine-readable display) should return an InteractionError.
	OnPlanInteraction(wf *Workflow) error
}

// color wraps s in an ANSI SGR code when enabled is true.
type color struct {
	enabled bool
}

func (c color) wrap(code int, s string) string {
	if !c.enabled {
		return s
	}
	return fmt.Sprintf("[%dm%s[0m", code, s)
}

func (c color) gray(s string) string   { return c.wrap(90, s) }
func (c color) red(s string) string    { return c.wrap(31, s) }
func (c color) green(s string) string  { return c.wrap(32, s) }
func (c color) yellow(s string) string { return c.wrap(33, s) }

// forStatus maps a status to its palette entry; PENDING is gray like
// SKIPPED and OMITTED, while RUNNING and any unknown status pass through
// uncolored.
func (c color) forStatus(s Status) func(string) string {
	switch s {
	case StatusSkipped, StatusPending, StatusOmitted:
		return c.gray
	case StatusFailure:
		return c.red
	case StatusSuccess:
		return c.green
	case StatusWarning:
		return c.yellow
	default:
		return func(x string) string { return x }
	}
}

// shouldUseColor resolves terminal-capability detection, honoring an
// explicit *_FORCE_COLOR override (1/true forces on, 0/false forces off,
// unset or anything else defers to the isatty check).
func shouldUseColor(w io.Writer, forceColor string) bool {
	switch strings.ToLower(strings.TrimSpace(forceColor)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DefaultDisplay is a prefix-based, optionally colorized text display: a
// `[action-name]` prefix precedes the first line after a change of emitter,
// every line received through EmitActionError (stderr output and render
// errors alike) carries a `*` marker, and OnFinish prints a tier-ordered
// status banner. Error lines have no marker of their own.
type DefaultDisplay struct {
	out   io.Writer
	color color

	mu               sync.Mutex
	lastDisplayed    string
	actionNamesWidth int
	workflow         *Workflow
}

// NewDefaultDisplay builds the default Display for wf, writing to out.
// forceColor mirrors *_FORCE_COLOR: "1"/"true" forces color on, "0"/"false"
// forces it off, anything else defers to terminal detection against out.
func NewDefaultDisplay(wf *Workflow, out io.Writer, forceColor string) *DefaultDisplay {
	width := 0
	for name := range wf.Actions() {
		if len(name) > width {
			width = len(name)
		}
	}
	return &DefaultDisplay{
		out:              out,
		color:            color{enabled: shouldUseColor(out, forceColor)},
		actionNamesWidth: width,
		workflow:         wf,
	}
}

func (d *DefaultDisplay) display(message string) {
	fmt.Fprintln(d.out, strings.TrimRight(message, "\n"))
}

// makePrefix constructs the left-hand gutter for one line: the bracketed
// action name, padded to the widest name in the workflow, only on the first
// line after the previously-displayed emitter changes; otherwise blank
// padding of the same width, so consecutive lines from one action read as
// an unbroken block.
func (d *DefaultDisplay) makePrefix(sourceName string, mark string) string {
	justify := d.actionNamesWidth + 2 // 2 accounts for the brackets
	var name string
	if d.lastDisplayed != sourceName {
		name = pad(fmt.Sprintf("[%s]", sourceName), justify)
	} else {
		name = strings.Repeat(" ", justify)
	}
	d.lastDisplayed = sourceName
	return d.color.gray(fmt.Sprintf("%s %s| ", name, mark))
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func (d *DefaultDisplay) EmitActionMessage(source *Action, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := d.makePrefix(source.Name(), " ")
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		d.display(prefix + line)
	}
}

func (d *DefaultDisplay) EmitActionError(source *Action, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := d.makePrefix(source.Name(), "*")
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		d.display(prefix + d.color.yellow(line))
	}
}

func (d *DefaultDisplay) OnActionStart(source *Action) {}

func (d *DefaultDisplay) OnActionFinish(source *Action) {}

func (d *DefaultDisplay) OnPlanInteraction(wf *Workflow) error {
	return &InteractionError{Message: "default display has no interactive surface"}
}

// OnFinish prints the tier-ordered status banner: one "STATUS: name" line
// per action, bracketed by a separator rule sized to the longest line.
func (d *DefaultDisplay) OnFinish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	order := d.workflow.Order()
	lines := make([]string, 0, len(order))
	plain := make([]string, 0, len(order))
	maxLen := 0
	for _, name := range order {
		a := d.workflow.Actions()[name]
		p := fmt.Sprintf("%s: %s", a.Status(), a.Name())
		plain = append(plain, p)
		if len(p) > maxLen {
			maxLen = len(p)
		}
		colorFn := d.color.forStatus(a.Status())
		lines = append(lines, fmt.Sprintf("%s: %s", colorFn(string(a.Status())), a.Name()))
	}
	if maxLen == 0 {
		return
	}
	sep := d.color.gray(strings.Repeat("=", maxLen))
	d.display(sep)
	for _, l := range lines {
		d.display(l)
	}
	d.display(sep)
}
