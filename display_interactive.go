package cjunct

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

// InteractiveDisplay extends DefaultDisplay with a plan-selection prompt:
// before execution starts it lists every selectable action and disables
// everything the user does not pick. Non-selectable actions are never
// offered in the prompt, so a non-empty selection disables them too.
type InteractiveDisplay struct {
	*DefaultDisplay
	in io.Reader
}

// NewInteractiveDisplay builds the interactive variant of the default
// display, reading selections from in (normally os.Stdin).
func NewInteractiveDisplay(wf *Workflow, out io.Writer, in io.Reader, forceColor string) *InteractiveDisplay {
	return &InteractiveDisplay{
		DefaultDisplay: NewDefaultDisplay(wf, out, forceColor),
		in:             in,
	}
}

// OnPlanInteraction prompts for a comma-separated list of action numbers or
// names; every action not picked, selectable or not, is disabled. An empty
// answer keeps the full plan. Without a TTY on the input side there is
// nothing to prompt, so InteractionError is returned and the run aborts
// before any action starts.
func (d *InteractiveDisplay) OnPlanInteraction(wf *Workflow) error {
	if f, ok := d.in.(*os.File); ok {
		if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			return &InteractionError{Message: "interactive mode requires a TTY on standard input"}
		}
	}

	var selectable []string
	for _, name := range wf.Order() {
		if wf.Actions()[name].Selectable() {
			selectable = append(selectable, name)
		}
	}
	if len(selectable) == 0 {
		return nil
	}

	d.mu.Lock()
	fmt.Fprintln(d.out, "Plan selection; leave empty to run everything:")
	for i, name := range selectable {
		a := wf.Actions()[name]
		desc := ""
		if a.Description() != "" {
			desc = " - " + a.Description()
		}
		fmt.Fprintf(d.out, "  %d) %s%s\n", i+1, name, desc)
	}
	fmt.Fprint(d.out, "Run actions (numbers or names, comma-separated): ")
	d.mu.Unlock()

	sc := newLineScanner(d.in)
	if !sc.Scan() {
		return &InteractionError{Message: "reading plan selection: " + errString(sc.Err())}
	}
	answer := strings.TrimSpace(sc.Text())
	if answer == "" {
		return nil
	}

	picked := map[string]bool{}
	for _, tok := range strings.Split(answer, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 1 || n > len(selectable) {
				return &InteractionError{Message: fmt.Sprintf("selection %d out of range", n)}
			}
			picked[selectable[n-1]] = true
			continue
		}
		found := false
		for _, name := range selectable {
			if name == tok {
				picked[name] = true
				found = true
				break
			}
		}
		if !found {
			return &InteractionError{Message: fmt.Sprintf("unknown or non-selectable action %q", tok)}
		}
	}

	for _, name := range wf.Order() {
		if !picked[name] {
			if err := wf.Actions()[name].Disable(); err != nil {
				return &InteractionError{Message: err.Error()}
			}
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "end of input"
	}
	return err.Error()
}
