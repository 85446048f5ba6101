// Package sandbox implements the RPC router that multiplexes calls between
// the agent host and sandboxed code-execution workers: one logical
// "sandbox" per running piece of `javascript_repl` or HTML-artifact code,
// addressed by sandbox ID over a single shared transport connection.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope exchanged between the host and a sandbox worker.
// Request carries Method/Params and expects a Response with the same ID;
// Event carries one-way notifications (console output, lifecycle signals)
// with no response expected.
type Message struct {
	ID        string          `json:"id,omitempty"`
	SandboxID string          `json:"sandboxId"`
	Kind      string          `json:"kind"` // "request" | "response" | "event"
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Handler answers an RPC method call addressed to a sandbox's host-side
// capability objects (the C9 runtime providers).
type Handler func(ctx context.Context, sandboxID, method string, params json.RawMessage) (any, error)

// Router multiplexes RPC requests and pub/sub events across any number of
// concurrently running sandboxes, generalizing the session-scoped
// broadcast hub to a sandbox-scoped one.
type Router struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Message]struct{}
	pending     map[string]chan Message // request ID -> response channel
	handler     Handler
}

// NewRouter creates a router. handler answers inbound "request" messages
// from sandbox workers (calls into ConsoleProvider, ArtifactsProvider, etc).
func NewRouter(handler Handler) *Router {
	return &Router{
		subscribers: make(map[string]map[chan Message]struct{}),
		pending:     make(map[string]chan Message),
		handler:     handler,
	}
}

// Subscribe registers a listener for all messages addressed to sandboxID
// (the transport-side connection for that sandbox). The returned cancel
// func must be called to release the subscription.
func (r *Router) Subscribe(sandboxID string) (chan Message, func()) {
	ch := make(chan Message, 32)
	r.mu.Lock()
	listeners := r.subscribers[sandboxID]
	if listeners == nil {
		listeners = make(map[chan Message]struct{})
		r.subscribers[sandboxID] = listeners
	}
	listeners[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		listeners := r.subscribers[sandboxID]
		if listeners != nil {
			delete(listeners, ch)
			if len(listeners) == 0 {
				delete(r.subscribers, sandboxID)
			}
		}
		r.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Broadcast delivers a message to every subscriber of its sandbox.
func (r *Router) Broadcast(msg Message) {
	r.mu.RLock()
	listeners := r.subscribers[msg.SandboxID]
	for ch := range listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	r.mu.RUnlock()
}

// Call issues an RPC request to sandboxID and blocks until the matching
// response arrives, ctx is canceled, or timeout elapses.
func (r *Router) Call(ctx context.Context, sandboxID, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal params: %w", err)
	}

	id := uuid.NewString()
	respCh := make(chan Message, 1)
	r.mu.Lock()
	r.pending[id] = respCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	r.Broadcast(Message{ID: id, SandboxID: sandboxID, Kind: "request", Method: method, Params: raw})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, fmt.Errorf("sandbox: %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("sandbox: %s: timed out after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dispatch routes one inbound message from a sandbox worker connection:
// a "response" completes a pending Call; a "request" is answered via the
// router's Handler and the reply broadcast back; an "event" is fanned out
// to subscribers unchanged.
func (r *Router) Dispatch(ctx context.Context, msg Message) {
	switch msg.Kind {
	case "response":
		r.mu.RLock()
		ch, ok := r.pending[msg.ID]
		r.mu.RUnlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	case "request":
		if r.handler == nil {
			r.Broadcast(Message{ID: msg.ID, SandboxID: msg.SandboxID, Kind: "response", Error: "sandbox: no handler registered"})
			return
		}
		result, err := r.handler(ctx, msg.SandboxID, msg.Method, msg.Params)
		resp := Message{ID: msg.ID, SandboxID: msg.SandboxID, Kind: "response"}
		if err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			raw, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				resp.Error = marshalErr.Error()
			} else {
				resp.Result = raw
			}
		}
		r.Broadcast(resp)
	case "event":
		r.Broadcast(msg)
	}
}
