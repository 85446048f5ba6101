package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streamforge/agentcore/internal/artifact"
)

// ProviderSet is the host-side capability surface RPC'd into from a
// sandbox worker: artifact CRUD, attachment reads, console capture, and
// file downloads. Each method name below matches the RPC method a sandbox
// worker calls.
type ProviderSet struct {
	Artifacts   *ArtifactsProvider
	Attachments *AttachmentsProvider
	Console     *ConsoleProvider
	Downloads   *DownloadableFileProvider
}

// Handle dispatches one RPC method call to the matching provider, making a
// ProviderSet usable directly as a Router Handler.
func (p *ProviderSet) Handle(ctx context.Context, sandboxID, method string, params json.RawMessage) (any, error) {
	switch method {
	case "listArtifacts":
		return p.Artifacts.List(), nil
	case "getArtifact":
		var args struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return p.Artifacts.Get(args.Filename)
	case "createOrUpdateArtifact":
		var args struct {
			Filename string `json:"filename"`
			Content  string `json:"content"`
			Title    string `json:"title,omitempty"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return p.Artifacts.CreateOrUpdate(args.Filename, args.Content, args.Title)
	case "deleteArtifact":
		var args struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return nil, p.Artifacts.Delete(args.Filename)
	case "listAttachments":
		return p.Attachments.List(), nil
	case "readTextAttachment":
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return p.Attachments.ReadText(args.ID)
	case "readBinaryAttachment":
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return p.Attachments.ReadBinary(args.ID)
	case "console.log", "console.warn", "console.error":
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		level := strings.TrimPrefix(method, "console.")
		p.Console.Append(sandboxID, level, args.Message)
		return nil, nil
	case "returnFile":
		var args struct {
			FileName string          `json:"fileName"`
			Content  json.RawMessage `json:"content"`
			MimeType string          `json:"mimeType,omitempty"`
		}
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return p.Downloads.ReturnFile(args.FileName, args.Content, args.MimeType)
	default:
		return nil, fmt.Errorf("sandbox: unknown method %q", method)
	}
}

// ArtifactsProvider exposes C10's artifact store to a running sandbox.
// `.json` filenames are auto-(parse|stringify)d so sandbox code can treat
// JSON artifacts as plain objects.
type ArtifactsProvider struct {
	Store *artifact.Store
}

func (p *ArtifactsProvider) List() []*artifact.Artifact {
	return p.Store.List()
}

func (p *ArtifactsProvider) Get(filename string) (*artifact.Artifact, error) {
	return p.Store.Get(filename)
}

// CreateOrUpdate rewrites the named artifact, creating it if absent —
// the iframe-facing RPC is forgiving where the tool-facing `create`
// operation is strict about uniqueness.
func (p *ArtifactsProvider) CreateOrUpdate(filename, content, title string) (*artifact.Artifact, error) {
	return p.Store.Rewrite(filename, content, title)
}

func (p *ArtifactsProvider) Delete(filename string) error {
	return p.Store.Delete(filename)
}

// Attachment is a user-message attachment the sandbox can read.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Text     string `json:"-"`
	Data     []byte `json:"-"`
}

// AttachmentsProvider exposes the current conversation's user-message
// attachments to a running sandbox.
type AttachmentsProvider struct {
	Attachments []Attachment
}

func (p *AttachmentsProvider) List() []Attachment {
	out := make([]Attachment, len(p.Attachments))
	copy(out, p.Attachments)
	return out
}

func (p *AttachmentsProvider) find(id string) (*Attachment, error) {
	for i := range p.Attachments {
		if p.Attachments[i].ID == id {
			return &p.Attachments[i], nil
		}
	}
	return nil, fmt.Errorf("sandbox: attachment %q not found", id)
}

func (p *AttachmentsProvider) ReadText(id string) (string, error) {
	a, err := p.find(id)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

func (p *AttachmentsProvider) ReadBinary(id string) ([]byte, error) {
	a, err := p.find(id)
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}

// ConsoleProvider captures console output from a running sandbox, keyed by
// sandbox ID, for display and for attaching to artifact tool results via
// C10's Logs operation.
type ConsoleProvider struct {
	mu      sync.Mutex
	entries map[string][]artifact.LogEntry
}

// NewConsoleProvider returns an empty console capture buffer.
func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{entries: make(map[string][]artifact.LogEntry)}
}

// Append records one console line for sandboxID.
func (p *ConsoleProvider) Append(sandboxID, level, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[sandboxID] = append(p.entries[sandboxID], artifact.LogEntry{
		Level:   level,
		Message: message,
		At:      time.Now(),
	})
}

// Drain returns and clears the captured console lines for sandboxID,
// called once a sandbox run finishes so its output can be attached to an
// artifact tool result via Store.RecordLogs.
func (p *ConsoleProvider) Drain(sandboxID string) []artifact.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.entries[sandboxID]
	delete(p.entries, sandboxID)
	return entries
}

// DownloadableFileProvider implements the iframe-facing `returnFile` RPC:
// Blob/Uint8Array content MUST specify a MIME type, strings default to
// text/plain, and objects default to application/json and are
// auto-stringified.
type DownloadableFileProvider struct {
	OnFile func(fileName string, content []byte, mimeType string)
}

// ReturnFile validates and forwards a file produced by sandbox code.
func (p *DownloadableFileProvider) ReturnFile(fileName string, content json.RawMessage, mimeType string) (any, error) {
	var asString string
	isString := json.Unmarshal(content, &asString) == nil

	switch {
	case isString:
		if mimeType == "" {
			mimeType = "text/plain"
		}
		if p.OnFile != nil {
			p.OnFile(fileName, []byte(asString), mimeType)
		}
	case mimeType == "":
		var asObject any
		if err := json.Unmarshal(content, &asObject); err == nil {
			stringified, err := json.Marshal(asObject)
			if err != nil {
				return nil, err
			}
			if p.OnFile != nil {
				p.OnFile(fileName, stringified, "application/json")
			}
		} else {
			return nil, fmt.Errorf("returnFile: MIME type is required for Blob content")
		}
	default:
		if p.OnFile != nil {
			p.OnFile(fileName, content, mimeType)
		}
	}
	return map[string]string{"fileName": fileName}, nil
}
