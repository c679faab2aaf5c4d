package cjunct

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// importTag splices another file's actions (or context) section into the
// current one; objectTemplateTag marks a scalar expression whose evaluation
// produces an arbitrary value through the Templar scope.
const (
	importTag         = "!import"
	objectTemplateTag = "!@"
)

// DependencyDefinition is one `expects` entry in source form.
type DependencyDefinition struct {
	Name     string
	Strict   bool
	External bool
}

// ActionDefinition is one action as declared in a workflow source file,
// before Workflow construction.
type ActionDefinition struct {
	Name        string
	Type        string
	Description string
	Expects     []DependencyDefinition
	Selectable  *bool
	Severity    Severity
	// Args holds every key not recognized above; these are passed to the
	// handler's args schema.
	Args map[string]any
}

// WorkflowDefinition is the decoded form of a workflow source file: the
// ordered action list, the merged context mapping, and the free-form
// miscellaneous section.
type WorkflowDefinition struct {
	Actions       []ActionDefinition
	Context       map[string]any
	Miscellaneous map[string]any
}

// ToActionSpecs converts the definition's action list into the name-keyed
// spec map NewWorkflow consumes, rejecting duplicate names.
func (d *WorkflowDefinition) ToActionSpecs() (map[string]ActionSpec, error) {
	specs := make(map[string]ActionSpec, len(d.Actions))
	for _, ad := range d.Actions {
		if ad.Name == "" {
			return nil, &LoadError{Message: "action with empty name"}
		}
		if ad.Type == "" {
			return nil, &LoadError{Message: fmt.Sprintf("actions.%s.type: required field missing", ad.Name)}
		}
		if _, dup := specs[ad.Name]; dup {
			return nil, &LoadError{Message: fmt.Sprintf("duplicate action name %q", ad.Name)}
		}
		ancestors := make(map[string]Dependency, len(ad.Expects))
		for _, dep := range ad.Expects {
			ancestors[dep.Name] = Dependency{Strict: dep.Strict, External: dep.External}
		}
		specs[ad.Name] = ActionSpec{
			Type:        ad.Type,
			Description: ad.Description,
			Args:        ad.Args,
			Ancestors:   ancestors,
			Selectable:  ad.Selectable,
			Severity:    ad.Severity,
		}
	}
	return specs, nil
}

// LoadDefinition dispatches on the source's file extension: ".toml" uses the
// TOML loader; ".yml", ".yaml" and the empty extension use the YAML loader;
// any other extension is a LoadError. baseDir anchors relative !import paths.
func LoadDefinition(ext string, raw []byte, baseDir string) (*WorkflowDefinition, error) {
	switch strings.ToLower(ext) {
	case ".toml":
		return loadTOMLDefinition(raw)
	case ".yml", ".yaml", "":
		return loadYAMLDefinition(raw, baseDir, map[string]bool{})
	default:
		return nil, &LoadError{Message: fmt.Sprintf("no loader for source extension %q", ext)}
	}
}

// --- YAML loader ---

// loadYAMLDefinition parses one YAML document. visited carries the absolute
// paths of every file on the current !import chain so a cyclic import is
// detected rather than looping.
func loadYAMLDefinition(raw []byte, baseDir string, visited map[string]bool) (*WorkflowDefinition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &LoadError{Message: "parsing YAML: " + err.Error(), Cause: err}
	}
	if len(doc.Content) == 0 {
		return nil, &LoadError{Message: "empty workflow source"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &LoadError{Message: "workflow source root must be a mapping"}
	}

	def := &WorkflowDefinition{Context: map[string]any{}}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		switch key {
		case "actions":
			actions, err := decodeActionsNode(val, baseDir, visited)
			if err != nil {
				return nil, err
			}
			def.Actions = append(def.Actions, actions...)
		case "context":
			ctx, err := decodeContextNode(val, baseDir, visited)
			if err != nil {
				return nil, err
			}
			mergeContext(def.Context, ctx)
		case "miscellaneous":
			misc, err := nodeToValue(val)
			if err != nil {
				return nil, err
			}
			m, ok := misc.(map[string]any)
			if !ok {
				return nil, &LoadError{Message: "miscellaneous: must be a mapping"}
			}
			def.Miscellaneous = m
		default:
			return nil, &LoadError{Message: fmt.Sprintf("unknown top-level key %q", key)}
		}
	}
	return def, nil
}

func decodeActionsNode(node *yaml.Node, baseDir string, visited map[string]bool) ([]ActionDefinition, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &LoadError{Message: "actions: must be a list"}
	}
	var out []ActionDefinition
	for _, item := range node.Content {
		if item.Tag == importTag {
			imported, err := importFile(item.Value, baseDir, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, imported.Actions...)
			continue
		}
		if item.Kind != yaml.MappingNode {
			return nil, &LoadError{Message: "actions: each entry must be a mapping or an !import directive"}
		}
		ad, err := decodeActionMapping(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, nil
}

func decodeActionMapping(node *yaml.Node) (ActionDefinition, error) {
	ad := ActionDefinition{Severity: SeverityNormal, Args: map[string]any{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "name":
			ad.Name = val.Value
		case "type":
			ad.Type = val.Value
		case "description":
			ad.Description = val.Value
		case "expects":
			raw, err := nodeToValue(val)
			if err != nil {
				return ad, err
			}
			deps, err := decodeExpects(ad.Name, raw)
			if err != nil {
				return ad, err
			}
			ad.Expects = deps
		case "selectable":
			var b bool
			if err := val.Decode(&b); err != nil {
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.selectable: must be a bool", ad.Name), Cause: err}
			}
			ad.Selectable = &b
		case "severity":
			switch Severity(val.Value) {
			case SeverityNormal, SeverityLow:
				ad.Severity = Severity(val.Value)
			default:
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.severity: must be %q or %q, got %q", ad.Name, SeverityNormal, SeverityLow, val.Value)}
			}
		default:
			v, err := nodeToValue(val)
			if err != nil {
				return ad, err
			}
			ad.Args[key] = v
		}
	}
	return ad, nil
}

// decodeExpects normalizes the `expects` field: a bare string, a list of
// strings, or a list of `{name, strict?, external?}` mappings.
func decodeExpects(actionName string, raw any) ([]DependencyDefinition, error) {
	var items []any
	switch v := raw.(type) {
	case string:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects: must be a string or a list", actionName)}
	}
	out := make([]DependencyDefinition, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, DependencyDefinition{Name: v})
		case map[string]any:
			dep := DependencyDefinition{}
			for k, dv := range v {
				switch k {
				case "name":
					s, ok := dv.(string)
					if !ok {
						return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d].name: must be a string", actionName, i)}
					}
					dep.Name = s
				case "strict":
					b, ok := dv.(bool)
					if !ok {
						return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d].strict: must be a bool", actionName, i)}
					}
					dep.Strict = b
				case "external":
					b, ok := dv.(bool)
					if !ok {
						return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d].external: must be a bool", actionName, i)}
					}
					dep.External = b
				default:
					return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d]: unknown key %q", actionName, i, k)}
				}
			}
			if dep.Name == "" {
				return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d]: name is required", actionName, i)}
			}
			out = append(out, dep)
		default:
			return nil, &LoadError{Message: fmt.Sprintf("actions.%s.expects[%d]: must be a name or a mapping", actionName, i)}
		}
	}
	return out, nil
}

// decodeContextNode accepts either one mapping or a list of mappings and
// !import directives, merged shallowly in order (later keys win).
func decodeContextNode(node *yaml.Node, baseDir string, visited map[string]bool) (map[string]any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		v, err := nodeToValue(node)
		if err != nil {
			return nil, err
		}
		return v.(map[string]any), nil
	case yaml.SequenceNode:
		merged := map[string]any{}
		for _, item := range node.Content {
			if item.Tag == importTag {
				imported, err := importFile(item.Value, baseDir, visited)
				if err != nil {
					return nil, err
				}
				mergeContext(merged, imported.Context)
				continue
			}
			if item.Kind != yaml.MappingNode {
				return nil, &LoadError{Message: "context: list entries must be mappings or !import directives"}
			}
			v, err := nodeToValue(item)
			if err != nil {
				return nil, err
			}
			mergeContext(merged, v.(map[string]any))
		}
		return merged, nil
	default:
		return nil, &LoadError{Message: "context: must be a mapping or a list of mappings"}
	}
}

// mergeContext is the shallow, last-wins merge policy: top-level keys of src
// overwrite dst; nested maps are not merged recursively.
func mergeContext(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// importFile resolves, reads, and parses a !import target, guarding against
// cyclic import chains.
func importFile(path, baseDir string, visited map[string]bool) (*WorkflowDefinition, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if visited[abs] {
		return nil, &LoadError{Message: fmt.Sprintf("cyclic !import chain through %q", abs)}
	}
	visited[abs] = true
	defer delete(visited, abs)

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Message: fmt.Sprintf("!import %q: %v", path, err), Cause: err}
	}
	return loadYAMLDefinition(raw, filepath.Dir(abs), visited)
}

// nodeToValue converts a YAML node into a generic Go value, turning
// `!@ expr` scalars into ObjectTemplate markers and keeping mapping key
// order irrelevant (maps are unordered past this point).
func nodeToValue(node *yaml.Node) (any, error) {
	if node.Tag == objectTemplateTag {
		return ObjectTemplate{Expr: node.Value}, nil
	}
	switch node.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			v, err := nodeToValue(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[node.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := nodeToValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return nodeToValue(node.Alias)
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, &LoadError{Message: "decoding YAML value: " + err.Error(), Cause: err}
		}
		return v, nil
	}
}

// --- TOML loader ---

// tomlDocument mirrors the recognized top-level sections. TOML sources have
// no !import or object-template equivalent; they exist for workflows
// authored alongside other TOML-first tooling.
type tomlDocument struct {
	Actions       []map[string]any `toml:"actions"`
	Context       map[string]any   `toml:"context"`
	Miscellaneous map[string]any   `toml:"miscellaneous"`
}

func loadTOMLDefinition(raw []byte) (*WorkflowDefinition, error) {
	var doc tomlDocument
	meta, err := toml.Decode(string(raw), &doc)
	if err != nil {
		return nil, &LoadError{Message: "parsing TOML: " + err.Error(), Cause: err}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			if len(k) == 1 {
				keys = append(keys, k.String())
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			return nil, &LoadError{Message: fmt.Sprintf("unknown top-level key %q", keys[0])}
		}
	}

	def := &WorkflowDefinition{Context: doc.Context, Miscellaneous: doc.Miscellaneous}
	if def.Context == nil {
		def.Context = map[string]any{}
	}
	for _, m := range doc.Actions {
		ad, err := actionFromMap(m)
		if err != nil {
			return nil, err
		}
		def.Actions = append(def.Actions, ad)
	}
	return def, nil
}

// actionFromMap decodes one action from a generic key/value mapping, shared
// by the TOML loader (the YAML loader works on nodes directly to preserve
// custom tags).
func actionFromMap(m map[string]any) (ActionDefinition, error) {
	ad := ActionDefinition{Severity: SeverityNormal, Args: map[string]any{}}
	name, _ := m["name"].(string)
	ad.Name = name
	for k, v := range m {
		switch k {
		case "name":
		case "type":
			s, ok := v.(string)
			if !ok {
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.type: must be a string", ad.Name)}
			}
			ad.Type = s
		case "description":
			s, ok := v.(string)
			if !ok {
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.description: must be a string", ad.Name)}
			}
			ad.Description = s
		case "expects":
			deps, err := decodeExpects(ad.Name, v)
			if err != nil {
				return ad, err
			}
			ad.Expects = deps
		case "selectable":
			b, ok := v.(bool)
			if !ok {
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.selectable: must be a bool", ad.Name)}
			}
			ad.Selectable = &b
		case "severity":
			s, _ := v.(string)
			switch Severity(s) {
			case SeverityNormal, SeverityLow:
				ad.Severity = Severity(s)
			default:
				return ad, &LoadError{Message: fmt.Sprintf("actions.%s.severity: must be %q or %q, got %q", ad.Name, SeverityNormal, SeverityLow, s)}
			}
		default:
			ad.Args[k] = v
		}
	}
	return ad, nil
}
