package artifact

import (
	"encoding/json"

	"github.com/streamforge/agentcore/pkg/canonical"
)

// artifactOp mirrors the JSON shape of an artifacts-tool call's arguments,
// covering every operation the tool accepts.
type artifactOp struct {
	Op       string `json:"op"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Title    string `json:"title,omitempty"`
	OldStr   string `json:"old_str,omitempty"`
	NewStr   string `json:"new_str,omitempty"`
}

const artifactsToolName = "artifacts"

// Reconstruct rebuilds an artifact store from scratch by replaying every
// successful artifacts-tool result in a message history, in order. get and
// logs calls are side-effect free and are skipped. This is a pure function
// of the history: reconstructStoreAt(history) == artifactStoreAt(endOf(run)).
func Reconstruct(history []canonical.Message) *Store {
	store := NewStore()

	pending := make(map[string]json.RawMessage)
	for _, msg := range history {
		switch {
		case msg.Role == canonical.MessageRoleAssistant && msg.Assistant != nil:
			for _, b := range msg.Assistant.Content {
				if b.Type == canonical.BlockToolCall && b.Name == artifactsToolName {
					pending[b.ID] = b.Arguments
				}
			}
		case msg.Role == canonical.MessageRoleToolResult && msg.ToolResult != nil:
			tr := msg.ToolResult
			if tr.ToolName != artifactsToolName || tr.IsError {
				delete(pending, tr.ToolCallID)
				continue
			}
			if args, ok := pending[tr.ToolCallID]; ok {
				applyOp(store, args)
				delete(pending, tr.ToolCallID)
			}
		}
	}

	return store
}

// applyOp applies one artifacts-tool call's arguments to the store,
// skipping read-only operations (get, logs) and ignoring malformed or
// failed calls: reconstruction only replays operations that the store
// itself can apply deterministically.
func applyOp(store *Store, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var op artifactOp
	if err := json.Unmarshal(raw, &op); err != nil {
		return
	}
	switch op.Op {
	case "create":
		_, _ = store.Create(op.Filename, op.Content, op.Title)
	case "update":
		_, _ = store.Update(op.Filename, op.OldStr, op.NewStr)
	case "rewrite":
		_, _ = store.Rewrite(op.Filename, op.Content, op.Title)
	case "delete":
		_ = store.Delete(op.Filename)
	case "get", "logs":
		// Read-only; no effect on reconstructed state.
	}
}
