// Package tools provides external data connectors the chat flow can
// invoke to ground answers in live data.
//
// Connectors declare a JSON schema for their parameters; the invoker
// validates calls against it before dispatch. Connector failures are
// reported in the result, never aborting the turn that requested them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Sentinel errors.
var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrInvalidParams = errors.New("invalid tool parameters")
	ErrDisabled      = errors.New("tool disabled")
)

// Params are the decoded call arguments.
type Params map[string]any

// Call names a connector and its arguments.
type Call struct {
	Name   string `json:"name"`
	Params Params `json:"params,omitempty"`
}

// Result is one connector invocation outcome. Exactly one of Data and
// Err is meaningful.
type Result struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"error,omitempty"`
}

// OK reports whether the invocation produced data.
func (r Result) OK() bool { return r.Err == "" }

// Connector fetches external data for one named capability.
type Connector interface {
	// Name is the stable identifier used in calls and settings.
	Name() string
	// Description explains the connector for the connectors API.
	Description() string
	// Schema describes the accepted parameters.
	Schema() *jsonschema.Schema
	// Enabled reports default enablement; user settings can override.
	Enabled() bool
	// Call fetches data. The returned payload must be valid JSON.
	Call(ctx context.Context, params Params) (json.RawMessage, error)
}

// Registry holds the available connectors with their resolved schemas.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Connector
	resolved map[string]*jsonschema.Resolved
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Connector),
		resolved: make(map[string]*jsonschema.Resolved),
	}
}

// Register adds a connector, resolving its schema for validation.
// Registering a duplicate name or an invalid schema is a wiring bug.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("connector %q already registered", name)
	}

	resolved, err := c.Schema().Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolving schema for %q: %w", name, err)
	}

	r.byName[name] = c
	r.resolved[name] = resolved
	return nil
}

// Get returns the named connector and its resolved schema.
func (r *Registry) Get(name string) (Connector, *jsonschema.Resolved, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, nil, false
	}
	return c, r.resolved[name], true
}

// List returns all connectors sorted by name.
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
