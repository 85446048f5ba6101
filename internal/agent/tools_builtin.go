package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streamforge/agentcore/internal/artifact"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// ArtifactWriteTool lets an assistant turn create or overwrite a named
// artifact in the session's artifact store, the same store a sandboxed
// worker's createOrUpdateArtifact RPC writes into.
type ArtifactWriteTool struct {
	Store *artifact.Store
}

var artifactWriteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"filename": {"type": "string"},
		"content": {"type": "string"},
		"title": {"type": "string"}
	},
	"required": ["filename", "content"]
}`)

func (t *ArtifactWriteTool) Descriptor() canonical.Tool {
	return canonical.Tool{
		Name:        "write_artifact",
		Description: "Create or overwrite a named artifact with the given content.",
		Parameters:  artifactWriteSchema,
	}
}

func (t *ArtifactWriteTool) Timeout() time.Duration { return 5 * time.Second }

func (t *ArtifactWriteTool) Execute(ctx context.Context, args json.RawMessage) (string, bool, error) {
	var req struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
		Title    string `json:"title"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return "", true, fmt.Errorf("decode arguments: %w", err)
	}

	if _, err := t.Store.Get(req.Filename); err == nil {
		a, err := t.Store.Rewrite(req.Filename, req.Content, req.Title)
		if err != nil {
			return "", true, err
		}
		return fmt.Sprintf("rewrote artifact %s (%d bytes)", a.Filename, len(a.Content)), false, nil
	}

	a, err := t.Store.Create(req.Filename, req.Content, req.Title)
	if err != nil {
		return "", true, err
	}
	return fmt.Sprintf("created artifact %s (%d bytes)", a.Filename, len(a.Content)), false, nil
}

// ArtifactReadTool lets an assistant turn read back a previously written
// artifact.
type ArtifactReadTool struct {
	Store *artifact.Store
}

var artifactReadSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"filename": {"type": "string"}},
	"required": ["filename"]
}`)

func (t *ArtifactReadTool) Descriptor() canonical.Tool {
	return canonical.Tool{
		Name:        "read_artifact",
		Description: "Read the current content of a named artifact.",
		Parameters:  artifactReadSchema,
	}
}

func (t *ArtifactReadTool) Timeout() time.Duration { return 5 * time.Second }

func (t *ArtifactReadTool) Execute(ctx context.Context, args json.RawMessage) (string, bool, error) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return "", true, fmt.Errorf("decode arguments: %w", err)
	}
	a, err := t.Store.Get(req.Filename)
	if err != nil {
		return err.Error(), true, nil
	}
	return a.Content, false, nil
}
