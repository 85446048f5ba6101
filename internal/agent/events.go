package agent

import "github.com/streamforge/agentcore/pkg/canonical"

// EventType tags one event emitted on an Agent's subscription channel.
type EventType string

const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventModelChange         EventType = "model_change"
	EventThinkingLevelChange EventType = "thinking_level_change"
	EventError               EventType = "error"
)

// Event is the tagged union a subscriber receives. Which fields are
// meaningful is determined by Type.
type Event struct {
	Type EventType

	// message_start / message_update / message_end
	Message *canonical.AssistantMessage

	// tool_execution_start / tool_execution_end
	ToolCallID string
	ToolName   string
	Args       []byte
	Result     string
	IsError    bool

	// model_change / thinking_level_change
	Model         canonical.Model
	ThinkingLevel canonical.ThinkingLevel

	// error
	Err error
}
