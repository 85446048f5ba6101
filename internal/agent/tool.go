package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/streamforge/agentcore/pkg/canonical"
)

// DefaultToolTimeout is the timeout applied to a tool call that doesn't
// declare its own.
const DefaultToolTimeout = 30 * time.Second

// Handler executes one tool call. Args is the decoded argument object
// already validated against the tool's declared schema. A non-nil error
// is treated the same as IsError=true with the error's text as the result:
// failures surface through the normal result channel rather than aborting
// the loop.
type Handler interface {
	Descriptor() canonical.Tool
	Timeout() time.Duration
	Execute(ctx context.Context, args json.RawMessage) (result string, isError bool, err error)
}

// Registry resolves tool calls by name and validates their arguments
// against each tool's declared JSON schema before dispatch.
type Registry struct {
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry compiles each handler's schema once up front so a malformed
// tool descriptor fails at registration time, not mid-turn.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		schemas:  make(map[string]*jsonschema.Schema, len(handlers)),
	}
	for _, h := range handlers {
		desc := h.Descriptor()
		if len(desc.Parameters) > 0 {
			schema, err := jsonschema.CompileString("tool://"+desc.Name, string(desc.Parameters))
			if err != nil {
				return nil, fmt.Errorf("agent: compile schema for tool %s: %w", desc.Name, err)
			}
			r.schemas[desc.Name] = schema
		}
		r.handlers[desc.Name] = h
	}
	return r, nil
}

// Tools returns the descriptors for every registered handler, in the order
// supplied to NewRegistry's callers (map iteration order isn't relied on:
// callers needing a stable Tools() order should keep their own slice).
func (r *Registry) Tools() []canonical.Tool {
	out := make([]canonical.Tool, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Descriptor())
	}
	return out
}

// Dispatch validates args against the tool's schema (if any) and executes
// it, applying the handler's declared timeout.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (result string, isError bool) {
	h, ok := r.handlers[name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}

	if schema, ok := r.schemas[name]; ok {
		var decoded any
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Sprintf("invalid arguments for %s: %v", name, err), true
		}
		if err := schema.Validate(decoded); err != nil {
			return fmt.Sprintf("arguments for %s failed schema validation: %v", name, err), true
		}
	}

	timeout := h.Timeout()
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, isError, err := h.Execute(callCtx, args)
	if err != nil {
		if callCtx.Err() != nil {
			return "timeout", true
		}
		return err.Error(), true
	}
	return result, isError
}
