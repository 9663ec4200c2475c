package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the tools available to agent runs and validates arguments
// against each tool's schema before dispatch. Schemas compile once at
// registration.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. An empty schema string registers the tool without
// argument validation.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	var schema *jsonschema.Schema
	if raw := t.InputSchema(); raw != "" {
		compiled, err := jsonschema.CompileString(name+".json", raw)
		if err != nil {
			return fmt.Errorf("compiling schema for tool %q: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	if schema != nil {
		r.schemas[name] = schema
	}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call validates the arguments and dispatches to the named tool. Unknown
// tools and schema violations come back as business-error values so the
// agent can recover in-conversation instead of aborting the run.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return Errorf("unknown tool %q", name), nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if schema != nil {
		if err := schema.Validate(normalizeForSchema(args)); err != nil {
			return Errorf("invalid arguments for %q: %v", name, err), nil
		}
	}
	return t.Call(ctx, args)
}

// normalizeForSchema converts argument values into the shapes the schema
// validator expects (json.Unmarshal-equivalent types).
func normalizeForSchema(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeForSchema(val)
		}
		return out
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
