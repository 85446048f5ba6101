// Package agent implements the agent loop: the state machine that turns a
// user prompt into a stream of assistant turns, dispatching tool calls
// between them. Phase functions handle streaming, tool execution, and
// continuation; tool dispatch is bounded by a semaphore, and events fan out
// to subscribers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/transport"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// DefaultParallelism bounds concurrent tool execution when the provider
// doesn't state one.
const DefaultParallelism = 4

// Agent drives one conversation: prompt/abort/setModel/setThinkingLevel on
// the public side, a single background loop goroutine on the private side.
// Safe for concurrent use; exactly one prompt may be in flight at a time.
type Agent struct {
	transport   transport.Transport
	tools       *Registry
	parallelism int

	mu            sync.Mutex
	state         canonical.AgentState
	running       bool
	cancelCurrent context.CancelFunc

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// New builds an Agent over the given transport and tool registry, seeded
// with the model/thinkingLevel/systemPrompt it should start with.
func New(t transport.Transport, tools *Registry, model canonical.Model, thinkingLevel canonical.ThinkingLevel, systemPrompt string) *Agent {
	var toolDescs []canonical.Tool
	if tools != nil {
		toolDescs = tools.Tools()
	}
	return &Agent{
		transport:   t,
		tools:       tools,
		parallelism: DefaultParallelism,
		state: canonical.AgentState{
			SystemPrompt:     systemPrompt,
			Model:            model,
			ThinkingLevel:    thinkingLevel,
			Tools:            toolDescs,
			PendingToolCalls: map[string]struct{}{},
		},
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a listener for every Event the agent emits from here
// on. The returned func unsubscribes and closes the channel; callers MUST
// drain it after unsubscribing to avoid leaking the emit goroutine on a
// full channel (emit uses a non-blocking send, so a slow subscriber drops
// events rather than stalling the loop).
func (a *Agent) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	a.subMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = ch
	a.subMu.Unlock()

	return ch, func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if _, ok := a.subscribers[id]; ok {
			delete(a.subscribers, id)
			close(ch)
		}
	}
}

func (a *Agent) emit(ev Event) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SetModel updates the active model and emits model_change. Valid at any
// time, including mid-turn; it takes effect on the next transport call.
func (a *Agent) SetModel(m canonical.Model) {
	a.mu.Lock()
	a.state.Model = m
	a.mu.Unlock()
	a.emit(Event{Type: EventModelChange, Model: m})
}

// SetThinkingLevel updates the requested reasoning effort and emits
// thinking_level_change.
func (a *Agent) SetThinkingLevel(l canonical.ThinkingLevel) {
	a.mu.Lock()
	a.state.ThinkingLevel = l
	a.mu.Unlock()
	a.emit(Event{Type: EventThinkingLevelChange, ThinkingLevel: l})
}

// Abort cancels the in-flight stream and every outstanding tool execution,
// if a prompt is running. Idempotent; a no-op when nothing is in flight.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancelCurrent
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Prompt appends a user turn and runs the loop to completion (a full
// sequence of assistant turns and tool dispatches, ending when the
// assistant stops without requesting more tools, or errors, or is
// aborted). It returns once agent_end has been emitted. Calling Prompt
// while one is already running returns an error; the caller must Abort
// first.
func (a *Agent) Prompt(ctx context.Context, content canonical.UserMessage) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: prompt already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancelCurrent = cancel
	a.state.Messages = append(a.state.Messages, canonical.Message{Role: canonical.MessageRoleUser, User: &content})
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancelCurrent = nil
		a.mu.Unlock()
		cancel()
	}()

	a.emit(Event{Type: EventAgentStart})
	err := a.loop(runCtx)
	a.emit(Event{Type: EventAgentEnd})
	return err
}

// loop implements the turn/tool-dispatch cycle: stream an assistant turn,
// and if it ends in toolUse, execute every tool call before looping again.
func (a *Agent) loop(ctx context.Context) error {
	for {
		final, err := a.runTurn(ctx)
		if err != nil {
			return err
		}
		if final.StopReason != canonical.StopReasonToolUse {
			return nil
		}
		if err := a.runToolCalls(ctx, final.ToolCalls()); err != nil {
			return err
		}
	}
}

// runTurn streams one assistant turn via the transport and appends the
// finished message to history.
func (a *Agent) runTurn(ctx context.Context) (*canonical.AssistantMessage, error) {
	a.mu.Lock()
	req := transport.Request{
		Model:   a.state.Model,
		History: append([]canonical.Message(nil), a.state.Messages...),
		Options: toolOptions(a.state),
	}
	a.mu.Unlock()

	skeleton := &canonical.AssistantMessage{API: req.Model.API, Provider: req.Model.Provider, Model: req.Model.ID}
	a.emit(Event{Type: EventMessageStart, Message: skeleton})

	s, err := a.transport.Run(ctx, req)
	if err != nil {
		sealed := sealAborted(skeleton, err)
		a.appendAssistant(sealed)
		a.emit(Event{Type: EventMessageEnd, Message: sealed})
		return sealed, nil
	}

	var final *canonical.AssistantMessage
	for {
		ev, done, nextErr := s.Next(ctx)
		if done {
			if nextErr != nil && final == nil {
				final = sealAborted(skeleton, nextErr)
			}
			break
		}
		a.emit(Event{Type: EventMessageUpdate, Message: ev.Partial})
		if ev.Message != nil {
			final = ev.Message
		}
		if ev.Err != nil && final == nil {
			final = sealAborted(skeleton, ev.Err)
		}
	}
	if final == nil {
		final = skeleton
		final.StopReason = canonical.StopReasonStop
	}

	a.appendAssistant(final)
	a.emit(Event{Type: EventMessageEnd, Message: final})
	return final, nil
}

func (a *Agent) appendAssistant(msg *canonical.AssistantMessage) {
	a.mu.Lock()
	a.state.Messages = append(a.state.Messages, canonical.Message{Role: canonical.MessageRoleAssistant, Assistant: msg})
	a.mu.Unlock()
}

// sealAborted closes out a skeleton assistant message with whatever
// happened: context cancellation becomes aborted, anything else becomes a
// provider/network error.
func sealAborted(skeleton *canonical.AssistantMessage, err error) *canonical.AssistantMessage {
	if errors.Is(err, context.Canceled) {
		skeleton.StopReason = canonical.StopReasonAborted
	} else {
		skeleton.StopReason = canonical.StopReasonError
		skeleton.ErrorMessage = err.Error()
	}
	return skeleton
}

func toolOptions(state canonical.AgentState) provider.Options {
	return provider.Options{Tools: state.Tools, ThinkingLevel: state.ThinkingLevel}
}

// runToolCalls dispatches every tool call from one assistant turn: start
// events fire in source order before any execution begins; execution runs
// concurrently up to a.parallelism; end events may interleave; the
// resulting toolResult messages are appended in source order regardless of
// completion order.
func (a *Agent) runToolCalls(ctx context.Context, calls []canonical.ContentBlock) error {
	if len(calls) == 0 {
		return nil
	}
	for _, call := range calls {
		a.emit(Event{Type: EventToolExecutionStart, ToolCallID: call.ID, ToolName: call.Name, Args: call.Arguments})
	}

	results := make([]canonical.Message, len(calls))
	sem := make(chan struct{}, a.parallelism)
	var wg sync.WaitGroup

	for i, call := range calls {
		select {
		case <-ctx.Done():
			// Pending, not-yet-dispatched calls are skipped on abort.
			results[i] = canonical.Message{}
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, call canonical.ContentBlock) {
			defer wg.Done()
			defer func() { <-sem }()

			var result string
			var isError bool
			if a.tools == nil {
				result, isError = fmt.Sprintf("no tool registry configured, cannot run %q", call.Name), true
			} else {
				result, isError = a.tools.Dispatch(ctx, call.Name, call.Arguments)
			}
			a.emit(Event{Type: EventToolExecutionEnd, ToolCallID: call.ID, ToolName: call.Name, Result: result, IsError: isError})
			results[i] = canonical.Message{
				Role: canonical.MessageRoleToolResult,
				ToolResult: &canonical.ToolResultMessage{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Text:       result,
					IsError:    isError,
				},
			}
		}(i, call)
	}
	wg.Wait()

	a.mu.Lock()
	for _, msg := range results {
		if msg.Role == "" {
			continue // skipped
		}
		a.state.Messages = append(a.state.Messages, msg)
	}
	a.mu.Unlock()

	if ctx.Err() != nil {
		a.sealLastAssistantAborted()
		return ctx.Err()
	}
	return nil
}

// sealLastAssistantAborted marks the most recent assistant message aborted
// when a turn's tool phase is cut short by Abort.
func (a *Agent) sealLastAssistantAborted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.state.Messages) - 1; i >= 0; i-- {
		if a.state.Messages[i].Role == canonical.MessageRoleAssistant {
			a.state.Messages[i].Assistant.StopReason = canonical.StopReasonAborted
			return
		}
	}
}
