// Package history implements the pure history transformer that normalizes
// a canonical message history for a specific target model before it is
// handed to a provider adapter: stripping content the target can't accept
// and repairing tool-call/tool-result pairing the way transcript_repair.go
// does for the flat message shape, generalized to canonical.Message and to
// the full set of per-provider policies.
package history

import "github.com/streamforge/agentcore/pkg/canonical"

// Transform returns a new slice; it never mutates messages in place. Policies
// applied, in order: image filtering, reasoning pairing and same-model
// stripping, tool-id sanitization, empty-message suppression, then role
// projection is left to the adapter (Transform keeps toolResult messages in
// canonical shape; adapters map them to the provider's native representation
// at send time).
func Transform(messages []canonical.Message, target canonical.Model) []canonical.Message {
	out := make([]canonical.Message, 0, len(messages))

	supportsImages := acceptsImages(target)

	for _, msg := range messages {
		switch msg.Role {
		case canonical.MessageRoleUser:
			filtered := filterUserContent(msg, supportsImages)
			if filtered == nil {
				continue
			}
			out = append(out, *filtered)
		case canonical.MessageRoleAssistant:
			filtered := filterAssistantContent(msg, target)
			if filtered == nil {
				continue
			}
			out = append(out, *filtered)
		case canonical.MessageRoleToolResult:
			out = append(out, msg)
		default:
			out = append(out, msg)
		}
	}

	out = sanitizeToolIDs(out, target)
	out = dropOrphanedToolResults(out)

	return out
}

func acceptsImages(target canonical.Model) bool {
	for _, kind := range target.Input {
		if kind == "image" {
			return true
		}
	}
	return false
}

// filterUserContent strips image items the target can't accept and drops the
// message entirely if that leaves it with no content.
func filterUserContent(msg canonical.Message, supportsImages bool) *canonical.Message {
	if msg.User == nil {
		return &msg
	}
	if supportsImages || len(msg.User.Content) == 0 {
		if msg.User.Text == "" && len(msg.User.Content) == 0 {
			return nil
		}
		return &msg
	}

	kept := make([]canonical.UserContentItem, 0, len(msg.User.Content))
	for _, item := range msg.User.Content {
		if item.Type == canonical.BlockImage {
			continue
		}
		kept = append(kept, item)
	}
	if msg.User.Text == "" && len(kept) == 0 {
		return nil
	}
	copied := *msg.User
	copied.Content = kept
	msg.User = &copied
	return &msg
}

// filterAssistantContent applies image filtering, reasoning/tool-call
// pairing (Responses-API targets require a non-empty thinking signature
// immediately before the tool call it authorizes), and same-model signature
// stripping. Returns nil if the message ends up with no content blocks
// (empty-message suppression).
func filterAssistantContent(msg canonical.Message, target canonical.Model) *canonical.Message {
	if msg.Assistant == nil {
		return &msg
	}

	requiresPairing := target.API == canonical.APIOpenAIResponses
	supportsImages := acceptsImages(target)

	content := msg.Assistant.Content
	kept := make([]canonical.ContentBlock, 0, len(content))

	for i, block := range content {
		switch block.Type {
		case canonical.BlockImage:
			if !supportsImages {
				continue
			}
		case canonical.BlockThinking:
			if block.ThinkingSignature != "" && issuedByDifferentModel(msg.Assistant.Model, target) {
				// Signature stripped; thinking text still carries useful
				// context for the target, so the block is kept with its
				// signature cleared rather than dropped outright.
				block.ThinkingSignature = ""
			}
		case canonical.BlockToolCall:
			if requiresPairing && !pairedWithSignedThinking(content, i) {
				continue
			}
		}
		kept = append(kept, block)
	}

	if requiresPairing && isAbortedThinkingOnly(kept, msg.Assistant.StopReason) {
		return nil
	}

	if len(kept) == 0 {
		return nil
	}

	copied := *msg.Assistant
	copied.Content = kept
	msg.Assistant = &copied
	return &msg
}

// pairedWithSignedThinking reports whether content[idx], a toolCall block, is
// immediately preceded within the same message by a thinking block carrying
// a non-empty signature.
func pairedWithSignedThinking(content []canonical.ContentBlock, idx int) bool {
	if idx == 0 {
		return false
	}
	prev := content[idx-1]
	return prev.Type == canonical.BlockThinking && prev.ThinkingSignature != ""
}

// issuedByDifferentModel reports whether a thinking signature was produced
// by a different model than target. Providers sign thinking blocks for the
// model that authored them; replaying a signature against a different
// model is rejected, so the signature (not the thinking text) must be
// stripped whenever authorModel and target.ID disagree. An empty
// authorModel (e.g. a history assembled before Model was populated) is
// treated as unknown and never triggers stripping.
func issuedByDifferentModel(authorModel string, target canonical.Model) bool {
	if authorModel == "" {
		return false
	}
	return authorModel != target.ID
}

func isAbortedThinkingOnly(kept []canonical.ContentBlock, stopReason canonical.StopReason) bool {
	if stopReason != canonical.StopReasonAborted {
		return false
	}
	for _, b := range kept {
		if b.Type != canonical.BlockThinking {
			return false
		}
	}
	return len(kept) > 0
}

// sanitizeToolIDs rewrites tool-call and tool-result IDs to satisfy a
// target's character class, applied symmetrically so H2 pairing survives
// the rewrite.
func sanitizeToolIDs(messages []canonical.Message, target canonical.Model) []canonical.Message {
	sanitize := toolIDSanitizer(target)
	if sanitize == nil {
		return messages
	}

	rewritten := make(map[string]string)
	out := make([]canonical.Message, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case canonical.MessageRoleAssistant:
			if msg.Assistant == nil {
				out[i] = msg
				continue
			}
			content := make([]canonical.ContentBlock, len(msg.Assistant.Content))
			copy(content, msg.Assistant.Content)
			for j, b := range content {
				if b.Type == canonical.BlockToolCall && b.ID != "" {
					clean := sanitize(b.ID)
					rewritten[b.ID] = clean
					content[j].ID = clean
				}
			}
			assistant := *msg.Assistant
			assistant.Content = content
			msg.Assistant = &assistant
			out[i] = msg
		case canonical.MessageRoleToolResult:
			if msg.ToolResult == nil {
				out[i] = msg
				continue
			}
			result := *msg.ToolResult
			if clean, ok := rewritten[result.ToolCallID]; ok {
				result.ToolCallID = clean
			} else {
				result.ToolCallID = sanitize(result.ToolCallID)
			}
			msg.ToolResult = &result
			out[i] = msg
		default:
			out[i] = msg
		}
	}
	return out
}

// toolIDSanitizer returns the character-class filter for a target's API, or
// nil if the target has no special tool-id requirements.
func toolIDSanitizer(target canonical.Model) func(string) string {
	if target.API != canonical.APIAnthropicMessages {
		return nil
	}
	return func(id string) string {
		out := make([]byte, 0, len(id))
		for i := 0; i < len(id); i++ {
			c := id[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
				out = append(out, c)
			}
		}
		return string(out)
	}
}

// dropOrphanedToolResults removes any toolResult message whose toolCallId
// does not match a tool call surviving earlier in the transformed history,
// enforcing H2 after the other policies may have dropped a toolCall block.
func dropOrphanedToolResults(messages []canonical.Message) []canonical.Message {
	known := make(map[string]bool)
	out := make([]canonical.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == canonical.MessageRoleAssistant && msg.Assistant != nil {
			for _, b := range msg.Assistant.Content {
				if b.Type == canonical.BlockToolCall {
					known[b.ID] = true
				}
			}
			out = append(out, msg)
			continue
		}
		if msg.Role == canonical.MessageRoleToolResult && msg.ToolResult != nil {
			if !known[msg.ToolResult.ToolCallID] {
				continue
			}
			delete(known, msg.ToolResult.ToolCallID)
		}
		out = append(out, msg)
	}
	return out
}
