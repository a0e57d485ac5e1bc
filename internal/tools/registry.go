// Package tools exposes the executable tools the model can request through
// in-band markup. Arguments are validated against a JSON schema derived from
// each tool's parameters and converted to typed structs before a handler runs,
// so callers never deal with argument shapes.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
	"github.com/xeipuuv/gojsonschema"
)

// Param describes one named tool argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Optional    bool   `json:"optional,omitempty"`
}

// Spec describes a tool to the model.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters"`
}

// Invocation is one tool request parsed from model output.
type Invocation struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Outcome is the result of executing an Invocation.
type Outcome struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
	Error   string      `json:"error,omitempty"`
}

// Describe renders the outcome the way it is folded into the transcript.
func (o Outcome) Describe(name string) string {
	if o.Success {
		return fmt.Sprintf("Tool '%s' returned: %s", name, renderValue(o.Result))
	}
	return fmt.Sprintf("Tool '%s' error: %s", name, o.Error)
}

func renderValue(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Handler executes a tool with already-validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool couples a Spec with its Handler.
type Tool struct {
	Spec    Spec
	Handler Handler
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry holds the available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Spec.Name)
	if name == "" {
		return errors.New("tool name required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler required", name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(argumentSchema(t.Spec.Parameters)))
	if err != nil {
		return fmt.Errorf("tool %s: build schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = entry{tool: t, schema: schema}
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on error; used for built-in tool sets.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// ListTools returns the registered tool specs in registration order.
func (r *Registry) ListTools() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool.Spec)
	}
	return out
}

// Execute runs one invocation. It never returns an error: every failure is
// captured in the Outcome so the next model round can react to it.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (out Outcome) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out = failure(fmt.Sprintf("tool %s panicked: %v", inv.Name, rec))
		}
		metrics.ObserveToolCall(inv.Name, out.Success, time.Since(start))
	}()

	r.mu.RLock()
	e, ok := r.tools[inv.Name]
	r.mu.RUnlock()
	if !ok {
		return failure(fmt.Sprintf("Unknown tool: %s", inv.Name))
	}

	args := inv.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil || !res.Valid() {
		return failure(fmt.Sprintf("Invalid arguments for %s", inv.Name))
	}

	value, err := e.tool.Handler(ctx, args)
	if err != nil {
		return failure(err.Error())
	}
	// Results are relayed to viewers as JSON; one that cannot be encoded
	// would never reach them.
	if _, err := json.Marshal(value); err != nil {
		return failure(fmt.Sprintf("Tool %s returned a result that cannot be encoded", inv.Name))
	}
	return Outcome{Success: true, Result: value}
}

func failure(msg string) Outcome {
	return Outcome{Success: false, Result: nil, Error: msg}
}

func argumentSchema(params []Param) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	required := make([]interface{}, 0, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]interface{}{
			"type":        typ,
			"description": p.Description,
		}
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Typed adapts a handler taking a decoded argument struct T.
func Typed[T any](fn func(ctx context.Context, args T) (interface{}, error)) Handler {
	return func(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
		var args T
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return fn(ctx, args)
	}
}

// Names returns the sorted registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}
