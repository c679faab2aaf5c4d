package cjunct

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MarkdownDisplay accumulates each action's output as a Markdown document —
// one section per action, its captured stdout/stderr fenced as a code
// block — and on OnFinish renders the whole document to HTML through
// goldmark, writing the result to out. Unlike DefaultDisplay it produces no
// output until the run completes; it exists for producing a shareable HTML
// report rather than for live progress.
type MarkdownDisplay struct {
	out      io.Writer
	workflow *Workflow
	md       goldmark.Markdown

	mu       sync.Mutex
	sections map[string]*strings.Builder
}

// NewMarkdownDisplay builds a Display that renders an HTML report to out
// once the workflow finishes.
func NewMarkdownDisplay(wf *Workflow, out io.Writer) *MarkdownDisplay {
	return &MarkdownDisplay{
		out:      out,
		workflow: wf,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Strikethrough)),
		sections: map[string]*strings.Builder{},
	}
}

func (d *MarkdownDisplay) section(name string) *strings.Builder {
	b, ok := d.sections[name]
	if !ok {
		b = &strings.Builder{}
		d.sections[name] = b
	}
	return b
}

func (d *MarkdownDisplay) EmitActionMessage(source *Action, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.section(source.Name()), message)
}

func (d *MarkdownDisplay) EmitActionError(source *Action, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.section(source.Name()), "**stderr:** %s\n", message)
}

func (d *MarkdownDisplay) OnActionStart(source *Action) {}

func (d *MarkdownDisplay) OnActionFinish(source *Action) {}

func (d *MarkdownDisplay) OnPlanInteraction(wf *Workflow) error {
	return &InteractionError{Message: "markdown display has no interactive surface"}
}

// OnFinish assembles one Markdown heading per action, in tier order, fences
// its accumulated output, and converts the document to HTML.
func (d *MarkdownDisplay) OnFinish() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var doc strings.Builder
	doc.WriteString("# Workflow report\n\n")
	for _, name := range d.workflow.Order() {
		a := d.workflow.Actions()[name]
		fmt.Fprintf(&doc, "## %s: %s\n\n", a.Status(), name)
		if desc := a.Description(); desc != "" {
			fmt.Fprintf(&doc, "%s\n\n", desc)
		}
		if msg := a.Message(); msg != "" {
			fmt.Fprintf(&doc, "> %s\n\n", msg)
		}
		body := d.section(name).String()
		if strings.TrimSpace(body) != "" {
			doc.WriteString("```\n")
			doc.WriteString(body)
			doc.WriteString("```\n\n")
		}
	}

	var buf bytes.Buffer
	if err := d.md.Convert([]byte(doc.String()), &buf); err != nil {
		fmt.Fprintf(d.out, "<pre>%s</pre>\n", doc.String())
		return
	}
	d.out.Write(buf.Bytes())
}
