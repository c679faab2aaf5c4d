package cjunct

import (
	"fmt"
	"sync"
)

// ArgKind is the declared type of one handler argument field.
type ArgKind int

const (
	ArgString ArgKind = iota // plain string or template
	ArgBool
	ArgNumber
	ArgStringList
	ArgAny
)

// ArgSpec describes one field of a handler's args schema. String fields are
// always subject to late template rendering; Template only documents intent.
type ArgSpec struct {
	Required bool
	Kind     ArgKind
	Template bool
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Handler{}
	schemas    = map[string]map[string]ArgSpec{}
)

// Register installs a Handler under a dispatch key (the action `type`
// field). Bundled action packages call this from an init() function; a
// plugin-discovery step populating *_ACTIONS_CLASS_DEFINITIONS_DIRECTORY
// would call it after loading an external handler definition.
//
// Registering the same type name twice overwrites the previous handler;
// callers wanting strict once-only registration should check
// lookupHandler themselves first.
func Register(typeName string, h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeName] = h
}

// RegisterSchema declares the args schema for a handler type. Actions of
// that type have their declared args validated against the schema at
// workflow build time; violations surface as LoadError with the offending
// field path. Types without a schema accept arbitrary args.
func RegisterSchema(typeName string, schema map[string]ArgSpec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	schemas[typeName] = schema
}

func lookupHandler(typeName string) (Handler, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[typeName]
	return h, ok
}

func lookupSchema(typeName string) (map[string]ArgSpec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := schemas[typeName]
	return s, ok
}

// validateArgs checks one action's declared args against its type's schema.
// actionName is used only to build the error's field path.
func validateArgs(actionName, typeName string, args map[string]any) error {
	schema, ok := lookupSchema(typeName)
	if !ok {
		return nil
	}
	for field, spec := range schema {
		v, present := args[field]
		if !present {
			if spec.Required {
				return &LoadError{Message: fmt.Sprintf("actions.%s.%s: required field missing", actionName, field)}
			}
			continue
		}
		if err := checkArgKind(v, spec.Kind); err != nil {
			return &LoadError{Message: fmt.Sprintf("actions.%s.%s: %v", actionName, field, err)}
		}
	}
	for field := range args {
		if _, known := schema[field]; !known {
			return &LoadError{Message: fmt.Sprintf("actions.%s.%s: unknown field", actionName, field)}
		}
	}
	return nil
}

func checkArgKind(v any, kind ArgKind) error {
	switch kind {
	case ArgString:
		switch v.(type) {
		case string, ObjectTemplate:
			return nil
		}
		return fmt.Errorf("expected string, got %T", v)
	case ArgBool:
		if _, ok := v.(bool); ok {
			return nil
		}
		return fmt.Errorf("expected bool, got %T", v)
	case ArgNumber:
		switch v.(type) {
		case int, int64, float64:
			return nil
		}
		return fmt.Errorf("expected number, got %T", v)
	case ArgStringList:
		switch val := v.(type) {
		case string, ObjectTemplate:
			return nil
		case []any:
			for i, e := range val {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("element %d: expected string, got %T", i, e)
				}
			}
			return nil
		case []string:
			return nil
		}
		return fmt.Errorf("expected string or list of strings, got %T", v)
	default:
		return nil
	}
}
