package cjunct

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// maxRenderDepth bounds recursive rendering (context -> template -> context
// -> ...); exceeding it fails with ActionRenderRecursionError instead of
// looping on a self-referential cycle.
const maxRenderDepth = 50

// Templar evaluates `@{ expression }` string templates and `!@ expression`
// object templates against a scope built from a Workflow's live outcomes,
// statuses, context, and the process environment.
type Templar struct {
	workflow *Workflow
	strict   bool
}

// NewTemplar builds a Templar bound to wf. strict controls whether a
// missing outcome key is a render error (true) or resolves to the empty
// string (false), per *_STRICT_OUTCOMES_RENDERING.
func NewTemplar(wf *Workflow, strict bool) *Templar {
	return &Templar{workflow: wf, strict: strict}
}

// Render replaces every `@{ expression }` occurrence in s with the string
// form of its evaluated result. A literal `@` is escaped by doubling
// (`@@`); outside `@{…}` the input passes through untouched.
func (t *Templar) Render(actionName, s string) (string, error) {
	return t.render(actionName, s, 0)
}

func (t *Templar) render(actionName, s string, depth int) (string, error) {
	if depth > maxRenderDepth {
		return "", &ActionRenderRecursionError{Action: actionName, Depth: maxRenderDepth}
	}
	var out strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '@' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '@' {
			out.WriteByte('@')
			i += 2
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			end, exprSrc, err := scanExpr(s, i+2)
			if err != nil {
				return "", &ActionRenderError{Action: actionName, Message: err.Error()}
			}
			val, err := t.eval(actionName, exprSrc, depth)
			if err != nil {
				return "", err
			}
			out.WriteString(stringify(val))
			i = end
			continue
		}
		out.WriteByte('@')
		i++
	}
	return out.String(), nil
}

// RenderValue deep-renders an arbitrary args value: strings are run through
// Render, ObjectTemplate nodes are evaluated directly (trying the
// structured value before falling back to string templating, per the
// union-field design note), and maps/slices are rendered element-wise.
func (t *Templar) RenderValue(actionName string, v any) (any, error) {
	switch val := v.(type) {
	case ObjectTemplate:
		return t.eval(actionName, val.Expr, 0)
	case string:
		return t.Render(actionName, val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			rv, err := t.RenderValue(actionName, e)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			rv, err := t.RenderValue(actionName, e)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// scanExpr finds the end of an `@{ … }` expression starting right after the
// opening `@{`, matching nested braces and skipping over quoted strings
// (Python-tokenizer style) so braces or `@` inside a string literal don't
// confuse the boundary.
func scanExpr(s string, start int) (int, string, error) {
	depth := 1
	i := start
	var quote byte
	for i < len(s) {
		c := s[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(s) {
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, s[start:i], nil
			}
		}
		i++
	}
	return 0, "", fmt.Errorf("unterminated @{ expression")
}

func (t *Templar) eval(actionName, exprSrc string, depth int) (any, error) {
	expr := strings.TrimSpace(exprSrc)
	if lit, ok, err := parseLiteral(expr); err != nil {
		return nil, &ActionRenderError{Action: actionName, Message: err.Error()}
	} else if ok {
		return lit, nil
	}

	segs, err := parsePath(expr)
	if err != nil {
		return nil, &ActionRenderError{Action: actionName, Message: err.Error()}
	}

	switch segs[0] {
	case "outcomes", "out":
		if len(segs) < 2 {
			return nil, &ActionRenderError{Action: actionName, Message: "outcomes reference requires an action name"}
		}
		refAction, ok := t.workflow.Action(segs[1])
		if !ok {
			return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("unknown action %q in outcomes reference", segs[1])}
		}
		outs := refAction.Outcomes()
		if len(segs) == 2 {
			return outs, nil
		}
		v, ok := outs[segs[2]]
		if !ok {
			if t.strict {
				return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("missing outcome key %q for action %q", segs[2], segs[1])}
			}
			return "", nil
		}
		return v, nil

	case "status":
		if len(segs) < 2 {
			return nil, &ActionRenderError{Action: actionName, Message: "status reference requires an action name"}
		}
		refAction, ok := t.workflow.Action(segs[1])
		if !ok {
			return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("unknown action %q in status reference", segs[1])}
		}
		return string(refAction.Status()), nil

	case "context", "ctx":
		return t.resolveContext(actionName, segs[1:], depth)

	case "environment", "env":
		if len(segs) < 2 {
			return nil, &ActionRenderError{Action: actionName, Message: "environment reference requires a variable name"}
		}
		return os.Getenv(segs[1]), nil

	default:
		return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("unknown scope %q", segs[0])}
	}
}

func (t *Templar) resolveContext(actionName string, segs []string, depth int) (any, error) {
	var cur any = t.workflow.Context
	for i, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("context.%s is not a mapping", strings.Join(segs[:i], "."))}
		}
		v, ok := m[seg]
		if !ok {
			return nil, &ActionRenderError{Action: actionName, Message: fmt.Sprintf("missing context key %q", seg)}
		}
		cur = v
	}
	return t.forceValue(actionName, cur, depth)
}

// forceValue lazily evaluates a context leaf: an ObjectTemplate is
// evaluated fresh; a string containing `@{` is rendered; anything else is
// returned as-is. Direct (non-renderer) access to the same leaf would see
// the raw, unevaluated value instead.
func (t *Templar) forceValue(actionName string, v any, depth int) (any, error) {
	switch val := v.(type) {
	case ObjectTemplate:
		return t.eval(actionName, val.Expr, depth+1)
	case string:
		if strings.Contains(val, "@{") {
			return t.render(actionName, val, depth+1)
		}
		return val, nil
	default:
		return v, nil
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func parseLiteral(expr string) (any, bool, error) {
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return unescapeQuoted(expr[1:len(expr)-1], expr[0]), true, nil
	}
	switch expr {
	case "true":
		return true, true, nil
	case "false":
		return false, true, nil
	}
	if n, err := strconv.ParseFloat(expr, 64); err == nil {
		return n, true, nil
	}
	return nil, false, nil
}

func unescapeQuoted(s string, quote byte) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == quote || s[i+1] == '\\') {
			out.WriteByte(s[i+1])
			i++
			continue
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// parsePath tokenizes a dotted/bracketed reference such as
// `outcomes.Foo.result_key` or `outcomes["Foo"]["result_key"]` into its
// segments.
func parsePath(expr string) ([]string, error) {
	var segs []string
	i, n := 0, len(expr)

	start := i
	for i < n && isIdentChar(expr[i]) {
		i++
	}
	if i == start {
		return nil, fmt.Errorf("invalid expression %q", expr)
	}
	segs = append(segs, expr[start:i])

	for i < n {
		switch {
		case expr[i] == '.':
			i++
			start = i
			for i < n && isIdentChar(expr[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("invalid expression %q", expr)
			}
			segs = append(segs, expr[start:i])
		case expr[i] == '[':
			i++
			qstart := i
			var quote byte
			for i < n && (expr[i] != ']' || quote != 0) {
				if quote != 0 {
					if expr[i] == '\\' {
						i += 2
						continue
					}
					if expr[i] == quote {
						quote = 0
					}
					i++
					continue
				}
				if expr[i] == '\'' || expr[i] == '"' {
					quote = expr[i]
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated [ in %q", expr)
			}
			raw := strings.Trim(expr[qstart:i], `'"`)
			segs = append(segs, raw)
			i++
		case expr[i] == ' ' || expr[i] == '\t':
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q in expression %q", string(expr[i]), expr)
		}
	}
	return segs, nil
}
