// Package canonical defines the provider-agnostic message and model types
// that flow through the agent loop, history transformation, and session
// log: the single representation every provider adapter translates into
// and out of.
package canonical

import (
	"encoding/json"
	"fmt"
)

// MessageRole distinguishes the three message kinds carried in a history.
type MessageRole string

const (
	MessageRoleUser       MessageRole = "user"
	MessageRoleAssistant  MessageRole = "assistant"
	MessageRoleToolResult MessageRole = "toolResult"
)

// StopReason is the terminal reason an assistant turn ended.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonAborted StopReason = "aborted"
	StopReasonError   StopReason = "error"
	StopReasonSafety  StopReason = "safety"
)

// API identifies the wire protocol a model descriptor speaks, independent
// of which company operates it (OpenRouter, Groq, and friends all speak
// openai-completions).
type API string

const (
	APIAnthropicMessages API = "anthropic-messages"
	APIOpenAICompletions API = "openai-completions"
	APIOpenAIResponses   API = "openai-responses"
	APIGoogleGenerative  API = "google-generative"
)

// BlockType tags a content block within an assistant or user message.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockThinking BlockType = "thinking"
	BlockToolCall BlockType = "toolCall"
	BlockImage    BlockType = "image"
)

// ContentBlock is one unit of assistant message content. Which fields are
// meaningful depends on Type:
//   - text:     Text
//   - thinking: Thinking, ThinkingSignature (opaque; dropped on signature loss)
//   - toolCall: ID, Name, Arguments (decoded object); PartialJSON accumulates
//     mid-stream and is cleared once Arguments is set
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking          string `json:"thinking,omitempty"`
	ThinkingSignature string `json:"thinkingSignature,omitempty"`

	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	PartialJSON string          `json:"-"`
}

// UserContentItem is one item of a user message's content when it is not a
// plain string: text or an inline base64 image.
type UserContentItem struct {
	Type     BlockType `json:"type"` // "text" or "image"
	Text     string    `json:"text,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Data     string    `json:"data,omitempty"`
}

// ToolResultContentItem is one item of a tool result's content when it is
// not a plain string.
type ToolResultContentItem struct {
	Type     BlockType `json:"type"` // "text" or "image"
	Text     string    `json:"text,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Data     string    `json:"data,omitempty"`
}

// Cost is a USD cost breakdown; Total is recomputed from the other fields,
// never accumulated independently.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
	Total      float64 `json:"total"`
}

// Usage carries token counts and monotonically-accumulated cost for an
// assistant turn.
type Usage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cacheRead,omitempty"`
	CacheWrite int64 `json:"cacheWrite,omitempty"`
	Cost       Cost  `json:"cost"`
}

// Add accumulates delta into Usage in place, following provider streams
// that emit usage as successive deltas rather than one final total.
func (u *Usage) Add(delta Usage) {
	u.Input += delta.Input
	u.Output += delta.Output
	u.CacheRead += delta.CacheRead
	u.CacheWrite += delta.CacheWrite
	u.Cost.Input += delta.Cost.Input
	u.Cost.Output += delta.Cost.Output
	u.Cost.CacheRead += delta.Cost.CacheRead
	u.Cost.CacheWrite += delta.Cost.CacheWrite
	u.Cost.Total = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
}

// UserMessage holds a user turn. Exactly one of Text or Content is set;
// Content is used once the turn carries images or other structured items.
type UserMessage struct {
	Text    string            `json:"text,omitempty"`
	Content []UserContentItem `json:"content,omitempty"`
}

// AssistantMessage holds an assistant turn: ordered content blocks plus the
// provenance and outcome of the completion that produced them.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`

	API      API    `json:"api"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	Usage      Usage      `json:"usage"`
	StopReason StopReason `json:"stopReason"`

	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ToolCalls returns the ToolCall blocks of an assistant message, in order.
func (m *AssistantMessage) ToolCalls() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultMessage is the outcome of executing one assistant tool call.
type ToolResultMessage struct {
	ToolCallID string                   `json:"toolCallId"`
	ToolName   string                   `json:"toolName"`
	Text       string                   `json:"text,omitempty"`
	Content    []ToolResultContentItem  `json:"content,omitempty"`
	IsError    bool                     `json:"isError,omitempty"`
}

// Message is the tagged sum type of the canonical history: exactly one of
// User, Assistant, or ToolResult is meaningful, selected by Role.
type Message struct {
	Role MessageRole `json:"role"`

	User       *UserMessage       `json:"user,omitempty"`
	Assistant  *AssistantMessage  `json:"assistant,omitempty"`
	ToolResult *ToolResultMessage `json:"toolResult,omitempty"`
}

// NewUserMessage builds a plain-text user turn.
func NewUserMessage(text string) Message {
	return Message{Role: MessageRoleUser, User: &UserMessage{Text: text}}
}

// NewToolResultMessage builds a successful text tool result.
func NewToolResultMessage(toolCallID, toolName, text string) Message {
	return Message{
		Role: MessageRoleToolResult,
		ToolResult: &ToolResultMessage{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Text:       text,
		},
	}
}

// Tool is the descriptor an adapter translates into a provider-native
// function/tool schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Label       string          `json:"label,omitempty"`
}

// Model is the descriptor for a single callable model: which wire protocol
// it speaks, its capabilities, and its per-million-token pricing.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	API      API    `json:"api"`
	BaseURL  string `json:"baseUrl,omitempty"`

	Reasoning bool     `json:"reasoning"`
	Input     []string `json:"input"` // e.g. ["text"], ["text","image"]

	// CostPerMTok is cost in USD per million tokens.
	CostPerMTok Cost `json:"cost"`

	ContextWindow int `json:"contextWindow"`
	MaxTokens     int `json:"maxTokens"`
}

// ThinkingLevel is the requested reasoning effort for an agent turn.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// AgentState is the mutable state of one agent conversation.
type AgentState struct {
	SystemPrompt     string
	Model            Model
	ThinkingLevel    ThinkingLevel
	Tools            []Tool
	Messages         []Message
	Running          bool
	PendingToolCalls map[string]struct{}
}

// Validate checks the history-level invariants H1/H2 (tool-call id
// uniqueness and tool-result pairing) across a full message slice.
func Validate(history []Message) error {
	seen := make(map[string]bool)

	for i, msg := range history {
		switch msg.Role {
		case MessageRoleAssistant:
			if msg.Assistant == nil {
				return fmt.Errorf("message %d: role=assistant but Assistant is nil", i)
			}
			for _, b := range msg.Assistant.Content {
				if b.Type != BlockToolCall {
					continue
				}
				if seen[b.ID] {
					return fmt.Errorf("message %d: duplicate tool call id %q", i, b.ID)
				}
				seen[b.ID] = true
			}
		case MessageRoleToolResult:
			if msg.ToolResult == nil {
				return fmt.Errorf("message %d: role=toolResult but ToolResult is nil", i)
			}
			if !seen[msg.ToolResult.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q has no preceding tool call (orphaned)", i, msg.ToolResult.ToolCallID)
			}
		case MessageRoleUser:
			if msg.User == nil {
				return fmt.Errorf("message %d: role=user but User is nil", i)
			}
		default:
			return fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
	}
	return nil
}
