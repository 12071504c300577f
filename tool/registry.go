package tool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// Descriptor is the discoverable metadata of a tool. It is immutable once the
// tool is registered.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// Tool is a pluggable unit of functionality invocable through the dispatcher.
type Tool interface {
	Descriptor() Descriptor
	// Bind validates raw arguments against the declared input schema and
	// returns a call ready to run. Validation failures must not run anything.
	Bind(args map[string]any) (Call, error)
}

// Call is a bound, validated invocation.
type Call interface {
	Run(ctx context.Context) (any, error)
}

// ChunkedCall is implemented by calls whose result is naturally incremental.
// Chunks produces payloads lazily in order; production stops as soon as the
// consumer stops iterating.
type ChunkedCall interface {
	Call
	Chunks(ctx context.Context) iter.Seq2[string, error]
}

// Registry is the ordered tool catalog. It is built once at startup and is
// safe for concurrent reads afterwards.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry registers tools in the given order. Empty or duplicate names
// are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(tools)),
		tools: make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		if t == nil {
			return nil, errors.New("tool: registry: nil tool")
		}
		name := t.Descriptor().Name
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("tool: registry: tool name is required")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool: registry: duplicate tool name %q", name)
		}
		r.order = append(r.order, name)
		r.tools[name] = t
	}
	return r, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Resolve looks a tool up by name. Unknown names produce an UNKNOWN_TOOL
// error that lists the valid names.
func (r *Registry) Resolve(name string) (Tool, error) {
	if r != nil {
		if t, ok := r.tools[name]; ok {
			return t, nil
		}
	}
	return nil, UnknownToolError(name, r.Names())
}
