// Package provider implements the canonical provider-adapter contract: each
// adapter turns a canonical message history into a provider-native request
// and streams back the closed event taxonomy every adapter shares,
// regardless of the wire protocol underneath.
package provider

import (
	"context"
	"fmt"

	"github.com/streamforge/agentcore/internal/stream"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// EventType tags one event in an adapter's output stream.
type EventType string

const (
	EventStart         EventType = "start"
	EventTextStart     EventType = "text_start"
	EventTextDelta     EventType = "text_delta"
	EventTextEnd       EventType = "text_end"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCall      EventType = "toolCall"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is the tagged union an adapter emits. Which fields are meaningful
// is determined by Type; see the EventType constants.
type Event struct {
	Type EventType

	// start
	Partial *canonical.AssistantMessage

	// text_delta / thinking_delta
	Delta string
	// text_end / thinking_end
	Content string

	// toolCall: emitted once the block's JSON is fully assembled and decoded.
	ToolCall *canonical.ContentBlock

	// done
	Reason  canonical.StopReason
	Message *canonical.AssistantMessage

	// error: Partial carries whatever assistant content was assembled
	// before the failure, for callers that want to show a partial result.
	Err error
}

// Options parameterizes one Stream call.
type Options struct {
	Tools         []canonical.Tool
	ThinkingLevel canonical.ThinkingLevel
	MaxTokens     int
}

// Adapter is the contract every provider implements: build a provider-native
// request from the canonical context (running it through history.Transform
// first), open the streaming connection bound to ctx, and translate
// provider-native stream events into the canonical Event taxonomy.
//
// The returned stream's terminal event is always exactly one of a done or
// error Event; cancelling ctx (or calling Stop on
// the returned stream) MUST tear down the underlying HTTP/gRPC call.
type Adapter interface {
	Stream(ctx context.Context, model canonical.Model, history []canonical.Message, opts Options) (*stream.QueuedStream[Event], error)
}

// Registry resolves an Adapter by the API a model descriptor declares.
type Registry struct {
	adapters map[canonical.API]Adapter
}

// NewRegistry builds a Registry from adapters keyed by the wire protocol
// each one speaks.
func NewRegistry(adapters map[canonical.API]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Resolve returns the Adapter registered for model.API.
func (r *Registry) Resolve(model canonical.Model) (Adapter, error) {
	a, ok := r.adapters[model.API]
	if !ok {
		return nil, fmt.Errorf("provider: no adapter registered for api %q (model %s)", model.API, model.ID)
	}
	return a, nil
}
