// Package toolregistry binds declarative tool metadata to executable
// handlers, enforcing the scope and approval rules a handler declares
// before it is ever invoked.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/quietloop/agentd/internal/policy"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler is the single shape every tool handler is adapted to, per the
// design note on handler polymorphism: heterogeneous typed handlers are
// wrapped to this signature at registration time, and the JSON-schema
// parameter descriptor remains the public contract the model sees.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor declares a tool's identity, scope/approval requirements, and
// parameter schema. Names are globally unique within a Registry and
// registration is one-shot at daemon start.
type Descriptor struct {
	Name             string
	Description      string
	ParameterSchema  json.RawMessage
	RequiresWrite    bool
	RequiresApproval bool
	ApprovalSummary  string
	Handler          Handler
}

// Definition is the language-agnostic view of a Descriptor relayed to the
// model provider as part of a chat-completion request.
type Definition struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ParameterSchema json.RawMessage `json:"parameters"`
}

// Result is the structured value invoke() returns to the caller. It is
// never a Go error for an unknown tool or a handler failure — the model
// must be able to see it and recover.
type Result struct {
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Registry holds every registered Descriptor. It is populated at startup
// and is read-only thereafter.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Descriptor
	schemas map[string]*jsonschema.Schema
	policy  *policy.Engine
}

// New builds an empty Registry backed by a policy Engine.
func New(engine *policy.Engine) *Registry {
	return &Registry{
		tools:   make(map[string]*Descriptor),
		schemas: make(map[string]*jsonschema.Schema),
		policy:  engine,
	}
}

// Register adds a Descriptor. Registering the same name twice replaces the
// prior entry; callers are expected to register once at startup. A
// malformed ParameterSchema is a programming error and panics — there is
// no request in flight to return a structured error to yet.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.tools[d.Name] = &cp

	if len(d.ParameterSchema) == 0 {
		delete(r.schemas, d.Name)
		return
	}
	compiler := jsonschema.NewCompiler()
	resource := d.Name + ".schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(d.ParameterSchema)); err != nil {
		panic(fmt.Sprintf("toolregistry: %s: invalid parameter schema: %v", d.Name, err))
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		panic(fmt.Sprintf("toolregistry: %s: compile parameter schema: %v", d.Name, err))
	}
	r.schemas[d.Name] = schema
}

// Get returns the descriptor for name, if registered.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Definitions returns every registered tool's language-agnostic view, in no
// particular order, for the model provider to relay to the chat-completion
// endpoint.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, Definition{Name: d.Name, Description: d.Description, ParameterSchema: d.ParameterSchema})
	}
	return out
}

// Invoke runs the named tool under policy. The procedure, in order:
//
//  1. look up name; if absent, return a structured error Result, not a Go
//     error — the model must be able to see and recover from this.
//  2. if RequiresWrite, enforce the write scope.
//  3. if RequiresApproval and not approved, raise ApprovalRequired via the
//     policy engine, suspending the turn.
//  4. otherwise invoke the handler.
//
// Handler panics and returned errors are both caught here and converted to
// structured error Results; ApprovalRequired and MissingScope are not
// caught — they propagate to the executor, which treats them as
// control-flow signals rather than tool failures.
func (r *Registry) Invoke(
	ctx context.Context,
	authCtx policy.AuthContext,
	sessionID, name string,
	args map[string]any,
	toolCallID string,
	approved bool,
) (Result, error) {
	d, ok := r.Get(name)
	if !ok {
		return Result{Error: fmt.Sprintf("Unknown tool: %s", name), IsError: true}, nil
	}

	if d.RequiresWrite {
		if err := r.policy.EnforceWriteScope(authCtx); err != nil {
			return Result{}, err
		}
	}

	if d.RequiresApproval && !approved {
		if err := r.policy.MaybeRequireApproval(authCtx, sessionID, name, args, d.ApprovalSummary, true, toolCallID); err != nil {
			return Result{}, err
		}
	}

	if err := r.validateArgs(name, args); err != nil {
		return Result{Error: err.Error(), IsError: true}, nil
	}

	return r.runHandler(ctx, d, args), nil
}

// validateArgs checks args against the tool's compiled JSON schema, if one
// was supplied at registration. A schema violation is a ToolHandlerError
// value returned to the model, never a Go error.
func (r *Registry) validateArgs(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.Validate(toValidatable(args)); err != nil {
		return fmt.Errorf("invalid arguments for %s: %v", name, err)
	}
	return nil
}

// toValidatable round-trips args through JSON so map[string]any values
// (e.g. numbers decoded as int rather than float64) satisfy the jsonschema
// validator's expectations about Go value kinds.
func toValidatable(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return args
	}
	return v
}

// runHandler invokes a handler with panic recovery, converting both
// panics and returned errors into structured Result values so a single
// misbehaving handler can never crash a turn.
func (r *Registry) runHandler(ctx context.Context, d *Descriptor, args map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{
				Error:   fmt.Sprintf("tool %s panicked: %v\n%s", d.Name, rec, debug.Stack()),
				IsError: true,
			}
		}
	}()

	value, err := d.Handler(ctx, args)
	if err != nil {
		return Result{Error: err.Error(), IsError: true}
	}
	return Result{Value: value}
}
