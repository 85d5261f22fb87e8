// Package tool defines the capability set the agent loop can invoke: a
// closed registry of named tools, the per-job memo shared between them, and
// the validation gate that blocks persistence tools after a failed check.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"stride/internal/llmclient"
)

// Tool is one named capability. Description is part of the contract: the
// model decides applicability from it, so it must state when to use the tool,
// not just what it does.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Execute     func(ctx context.Context, input json.RawMessage, job *Job) (any, error)
}

// Registry is a closed lookup from tool name to capability. Unknown names
// are a data error for the caller to convert into an error tool result, not
// a reason to abort.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool: empty name")
		}
		if t.Execute == nil {
			return nil, fmt.Errorf("tool %s: nil Execute", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %s: duplicate registration", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns wire-level tool descriptions in registration order.
func (r *Registry) Specs() []llmclient.ToolSpec {
	specs := make([]llmclient.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		specs = append(specs, llmclient.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return specs
}
