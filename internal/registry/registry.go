// Package registry implements the in-memory tool catalog that the planner
// reads from and the sandbox executor dispatches against.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ExecutionType names how a tool's Payload is resolved by the sandbox executor.
type ExecutionType string

const (
	ExecutionInlineCode    ExecutionType = "inline-code"
	ExecutionShellTemplate ExecutionType = "shell-template"
	ExecutionHTTPRequest   ExecutionType = "http-request"
)

// HTTPPayload is the Payload shape for an http-request tool.
type HTTPPayload struct {
	Method      string `json:"method"`
	URLTemplate string `json:"urlTemplate"`
}

// Definition is one entry in the tool catalog.
type Definition struct {
	Name            string
	Description     string
	Parameters      json.RawMessage // JSON-Schema object
	ExecutionType   ExecutionType
	Payload         string // shell template, inline-code symbol name; unused for http-request
	HTTP            HTTPPayload
	RequiresNetwork bool

	schema *jsonschema.Schema
}

// ValidateArgs checks args against the tool's compiled parameter schema.
// A nil schema (a definition registered without Parameters) always passes.
// A malformed schema never reaches this point: Register rejects it.
func (d *Definition) ValidateArgs(args map[string]any) error {
	if d.schema == nil {
		return nil
	}
	return d.schema.Validate(args)
}

// View is the slice of a Definition the planner is allowed to see.
type View struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Registry is a name-to-definition catalog. Mutations are expected before
// first read, but register is still guarded so tools may be added at runtime
// without tearing down an in-flight viewFor caller.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	order []string
}

// New returns an empty registry. Call SeedBuiltins to populate the standard tools.
func New() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register inserts or replaces a tool by name, compiling its parameter schema.
// A replaced name keeps its original position in registration order.
func (r *Registry) Register(def Definition) error {
	compiled, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("registry: compiling schema for %q: %w", def.Name, err)
	}
	def.schema = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	d := def
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &d
	return nil
}

// Get returns the named tool, or nil if it is not registered.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// ViewFor returns the planner-facing view of every tool in allowed. An empty
// allowed set returns every registered tool.
func (r *Registry) ViewFor(allowed []string) []View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowSet[name] = true
	}

	views := make([]View, 0, len(r.tools))
	for _, name := range r.order {
		if len(allowSet) > 0 && !allowSet[name] {
			continue
		}
		d := r.tools[name]
		views = append(views, View{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return views
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", doc); err != nil {
		return nil, err
	}
	return c.Compile(name + ".json")
}
