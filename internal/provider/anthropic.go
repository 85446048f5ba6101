package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/streamforge/agentcore/internal/history"
	"github.com/streamforge/agentcore/internal/stream"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// AnthropicAdapter implements Adapter for the Anthropic Messages API.
type AnthropicAdapter struct {
	// BaseURL overrides the default API host, e.g. for a CORS/browser proxy.
	BaseURL string
}

var _ Adapter = (*AnthropicAdapter)(nil)

// thinkingBudgets maps a requested reasoning effort to an extended-thinking
// token budget. Anthropic has no "off" distinct from omitting Thinking.
var thinkingBudgets = map[canonical.ThinkingLevel]int64{
	canonical.ThinkingMinimal: 1024,
	canonical.ThinkingLow:     4096,
	canonical.ThinkingMedium:  10000,
	canonical.ThinkingHigh:    32000,
}

// Stream implements Adapter: transform the history for this model, resolve
// credentials, and translate Anthropic's SSE stream into the canonical
// event taxonomy.
func (a *AnthropicAdapter) Stream(ctx context.Context, model canonical.Model, msgs []canonical.Message, opts Options) (*stream.QueuedStream[Event], error) {
	creds, err := resolveAnthropicCredentials()
	if err != nil {
		return nil, err
	}

	transformed := history.Transform(msgs, model)

	clientOpts := []option.RequestOption{}
	if creds.AuthToken != "" {
		clientOpts = append(clientOpts, option.WithAuthToken(creds.AuthToken))
	} else {
		clientOpts = append(clientOpts, option.WithAPIKey(creds.APIKey))
	}
	baseURL := a.BaseURL
	if baseURL == "" {
		baseURL = model.BaseURL
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	params, err := buildAnthropicParams(model, transformed, opts, creds.PrependIdentity)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := stream.New[Event](cancel)

	sdkStream := client.Messages.NewStreaming(streamCtx, params)
	go runAnthropicStream(sdkStream, model, out)

	return out, nil
}

// buildAnthropicParams converts the canonical, already-transformed history
// into an Anthropic MessageNewParams. When prependIdentity is true (an
// OAuth-authenticated call) the Claude Code identity string is prepended to
// the system prompt as its own ephemeral-cached block.
func buildAnthropicParams(model canonical.Model, msgs []canonical.Message, opts Options, prependIdentity bool) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	if prependIdentity {
		system = append(system, anthropic.TextBlockParam{
			Text:         anthropicClaudeCodeIdentity,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		})
	}

	native := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := toAnthropicMessage(msg)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if converted != nil {
			native = append(native, *converted)
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		Messages:  native,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(opts.Tools) > 0 {
		tools, err := toAnthropicTools(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if budget, ok := thinkingBudgets[opts.ThinkingLevel]; ok && model.Reasoning {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// toAnthropicMessage maps one canonical message to Anthropic's native
// {role, content} shape. toolResult messages become a user message
// carrying a tool_result block.
func toAnthropicMessage(msg canonical.Message) (*anthropic.MessageParam, error) {
	switch msg.Role {
	case canonical.MessageRoleUser:
		blocks, err := toAnthropicUserBlocks(msg.User)
		if err != nil {
			return nil, err
		}
		m := anthropic.NewUserMessage(blocks...)
		return &m, nil
	case canonical.MessageRoleAssistant:
		blocks, err := toAnthropicAssistantBlocks(msg.Assistant)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		m := anthropic.NewAssistantMessage(blocks...)
		return &m, nil
	case canonical.MessageRoleToolResult:
		block := anthropic.NewToolResultBlock(msg.ToolResult.ToolCallID, toolResultText(msg.ToolResult), msg.ToolResult.IsError)
		m := anthropic.NewUserMessage(block)
		return &m, nil
	default:
		return nil, fmt.Errorf("anthropic: unknown message role %q", msg.Role)
	}
}

func toolResultText(tr *canonical.ToolResultMessage) string {
	if tr.Text != "" || len(tr.Content) == 0 {
		return tr.Text
	}
	var sb strings.Builder
	for _, item := range tr.Content {
		if item.Type == canonical.BlockText {
			sb.WriteString(item.Text)
		}
	}
	return sb.String()
}

func toAnthropicUserBlocks(u *canonical.UserMessage) ([]anthropic.ContentBlockParamUnion, error) {
	if u == nil {
		return nil, nil
	}
	if len(u.Content) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(u.Text)}, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(u.Content))
	for _, item := range u.Content {
		switch item.Type {
		case canonical.BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(item.Text))
		case canonical.BlockImage:
			blocks = append(blocks, anthropic.NewImageBlockBase64(item.MimeType, item.Data))
		}
	}
	return blocks, nil
}

func toAnthropicAssistantBlocks(m *canonical.AssistantMessage) ([]anthropic.ContentBlockParamUnion, error) {
	if m == nil {
		return nil, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
	for _, b := range m.Content {
		switch b.Type {
		case canonical.BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case canonical.BlockThinking:
			blocks = append(blocks, anthropic.NewThinkingBlock(b.ThinkingSignature, b.Thinking))
		case canonical.BlockToolCall:
			args := b.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			var input any
			if err := json.Unmarshal(args, &input); err != nil {
				return nil, fmt.Errorf("anthropic: decode tool call %s arguments: %w", b.ID, err)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
		}
	}
	return blocks, nil
}

func toAnthropicTools(tools []canonical.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		out = append(out, toolParam)
	}
	return out, nil
}

// runAnthropicStream consumes the SDK's SSE stream and translates it into
// the canonical Event taxonomy, maintaining the single currentBlock cursor
// the protocol describes: *_start when a new block is detected, deltas
// appended as they arrive, *_end when the block closes.
func runAnthropicStream(sdkStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, model canonical.Model, out *stream.QueuedStream[Event]) {
	defer out.End()

	partial := &canonical.AssistantMessage{API: canonical.APIAnthropicMessages, Provider: "anthropic", Model: model.ID}
	out.Push(Event{Type: EventStart, Partial: partial})

	var currentText, currentThinking, currentSignature, currentToolJSON strings.Builder
	var currentToolID, currentToolName string
	blockKind := ""

	for sdkStream.Next() {
		event := sdkStream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			switch start.ContentBlock.Type {
			case "text":
				blockKind = "text"
				currentText.Reset()
				out.Push(Event{Type: EventTextStart})
			case "thinking":
				blockKind = "thinking"
				currentThinking.Reset()
				currentSignature.Reset()
				out.Push(Event{Type: EventThinkingStart})
			case "tool_use":
				blockKind = "tool_use"
				toolUse := start.ContentBlock.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				currentToolJSON.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				currentText.WriteString(delta.Text)
				out.Push(Event{Type: EventTextDelta, Delta: delta.Text})
			case "thinking_delta":
				currentThinking.WriteString(delta.Thinking)
				out.Push(Event{Type: EventThinkingDelta, Delta: delta.Thinking})
			case "signature_delta":
				currentSignature.WriteString(delta.Signature)
			case "input_json_delta":
				currentToolJSON.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			switch blockKind {
			case "text":
				text := currentText.String()
				partial.Content = append(partial.Content, canonical.ContentBlock{Type: canonical.BlockText, Text: text})
				out.Push(Event{Type: EventTextEnd, Content: text})
			case "thinking":
				block := canonical.ContentBlock{Type: canonical.BlockThinking, Thinking: currentThinking.String(), ThinkingSignature: currentSignature.String()}
				partial.Content = append(partial.Content, block)
				out.Push(Event{Type: EventThinkingEnd, Content: block.Thinking})
			case "tool_use":
				raw := currentToolJSON.String()
				if raw == "" {
					raw = "{}"
				}
				var decoded json.RawMessage
				if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
					partial.StopReason = canonical.StopReasonError
					partial.ErrorMessage = fmt.Sprintf("anthropic: malformed tool call arguments for %s: %v", currentToolName, err)
					out.Push(Event{Type: EventError, Err: fmt.Errorf("%s", partial.ErrorMessage)})
					return
				}
				block := canonical.ContentBlock{Type: canonical.BlockToolCall, ID: currentToolID, Name: currentToolName, Arguments: decoded}
				partial.Content = append(partial.Content, block)
				out.Push(Event{Type: EventToolCall, ToolCall: &block})
			}
			blockKind = ""
		case "message_delta":
			md := event.AsMessageDelta()
			partial.Usage.Add(canonical.Usage{Output: int64(md.Usage.OutputTokens)})
			if reason := string(md.Delta.StopReason); reason != "" {
				partial.StopReason = mapAnthropicStopReason(reason)
			}
		case "message_start":
			ms := event.AsMessageStart()
			partial.Usage.Add(canonical.Usage{Input: int64(ms.Message.Usage.InputTokens)})
		case "message_stop":
			if partial.StopReason == "" {
				partial.StopReason = canonical.StopReasonStop
			}
			out.Push(Event{Type: EventDone, Reason: partial.StopReason, Message: partial})
			return
		}
	}

	if err := sdkStream.Err(); err != nil {
		partial.StopReason = canonical.StopReasonError
		partial.ErrorMessage = err.Error()
		out.Push(Event{Type: EventError, Err: err})
	}
}

// mapAnthropicStopReason maps Anthropic's stop reasons onto the canonical
// StopReason vocabulary shared by every adapter.
func mapAnthropicStopReason(reason string) canonical.StopReason {
	switch reason {
	case "end_turn", "pause_turn", "stop_sequence":
		return canonical.StopReasonStop
	case "max_tokens":
		return canonical.StopReasonLength
	case "tool_use":
		return canonical.StopReasonToolUse
	case "refusal":
		return canonical.StopReasonSafety
	default:
		return canonical.StopReasonStop
	}
}
