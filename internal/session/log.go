// Package session implements the append-only JSONL session log: one header
// line followed by one entry per event worth persisting, and the replay
// function that reconstructs model/thinking-level/message state from it.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/streamforge/agentcore/pkg/canonical"
)

// EntryType tags a session log line.
type EntryType string

const (
	EntryHeader         EntryType = "session"
	EntryMessage        EntryType = "message"
	EntryModelChange    EntryType = "model_change"
	EntryThinkingChange EntryType = "thinking_level_change"
	EntryCompaction     EntryType = "compaction"
	EntryBranchSummary  EntryType = "branch_summary"
	EntryLabel          EntryType = "label"
)

// Header is the mandatory first line of a session file.
type Header struct {
	Type          EntryType `json:"type"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Cwd           string    `json:"cwd"`
	Provider      string    `json:"provider"`
	ModelID       string    `json:"modelId"`
	ThinkingLevel string    `json:"thinkingLevel"`
}

// Entry is one non-header line. Which payload field is set is determined by
// Type.
type Entry struct {
	Type      EntryType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Message   *canonical.Message `json:"message,omitempty"`

	ModelID       string `json:"modelId,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	// Compaction: messages[:CompactedThrough] are replaced by Summary.
	CompactedThrough int               `json:"compactedThrough,omitempty"`
	Summary          *canonical.Message `json:"summary,omitempty"`

	// BranchSummary names an earlier compaction entry (by line index in the
	// raw log) whose original messages should be restored for this branch.
	BranchFromLine int `json:"branchFromLine,omitempty"`

	Label string `json:"label,omitempty"`
}

// Log is a single-writer, append-only JSONL session file. Concurrency: one
// writer per file, guarded by mu; readers re-read the file from disk on
// demand via Load and never share state with a live Log.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Create writes a fresh session file with header as its first line.
func Create(path string, header Header) (*Log, error) {
	header.Type = EntryHeader
	if header.Timestamp.IsZero() {
		header.Timestamp = time.Now()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}

	l := &Log{file: f, path: path}
	if err := l.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Open appends to an existing session file.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	return &Log{file: f, path: path}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// AppendMessage logs one canonical message.
func (l *Log) AppendMessage(msg canonical.Message) error {
	return l.writeLine(Entry{Type: EntryMessage, Timestamp: time.Now(), Message: &msg})
}

// AppendModelChange logs a setModel call.
func (l *Log) AppendModelChange(modelID string) error {
	return l.writeLine(Entry{Type: EntryModelChange, Timestamp: time.Now(), ModelID: modelID})
}

// AppendThinkingLevelChange logs a setThinkingLevel call.
func (l *Log) AppendThinkingLevelChange(level canonical.ThinkingLevel) error {
	return l.writeLine(Entry{Type: EntryThinkingChange, Timestamp: time.Now(), ThinkingLevel: string(level)})
}

// AppendCompaction logs that messages up to (not including) compactedThrough
// are replaced by summary going forward. The original entries remain in the
// log untouched so AppendBranchSummary can later restore them.
func (l *Log) AppendCompaction(compactedThrough int, summary canonical.Message) error {
	return l.writeLine(Entry{
		Type:             EntryCompaction,
		Timestamp:        time.Now(),
		CompactedThrough: compactedThrough,
		Summary:          &summary,
	})
}

// AppendBranchSummary logs an explicit request to reconstruct the original,
// pre-compaction messages starting at a given raw log line for a new branch.
func (l *Log) AppendBranchSummary(branchFromLine int) error {
	return l.writeLine(Entry{Type: EntryBranchSummary, Timestamp: time.Now(), BranchFromLine: branchFromLine})
}

// AppendLabel logs a free-form label (e.g. a user-assigned session title).
func (l *Log) AppendLabel(label string) error {
	return l.writeLine(Entry{Type: EntryLabel, Timestamp: time.Now(), Label: label})
}

func (l *Log) writeLine(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal entry: %w", err)
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(raw); err != nil {
		return fmt.Errorf("session: write entry: %w", err)
	}
	return nil
}

// State is the result of replaying a session file: the model/thinking-level
// in effect as of the last change entry, and the message history with
// compactions applied.
type State struct {
	Header        Header
	ModelID       string
	ThinkingLevel canonical.ThinkingLevel
	Messages      []canonical.Message
}

// Load reads and replays an entire session file from disk.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()

	var header Header
	var rawLines []json.RawMessage

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			if err := json.Unmarshal(line, &header); err != nil {
				return nil, fmt.Errorf("session: decode header: %w", err)
			}
			if header.Type != EntryHeader {
				return nil, fmt.Errorf("session: first line is not a header (type=%q)", header.Type)
			}
			first = false
			continue
		}
		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		rawLines = append(rawLines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", path, err)
	}

	return replay(header, rawLines)
}

// LoadEntries replays already-decoded entries, for callers that keep a
// session in memory (tests, or a caller streaming entries as they arrive)
// rather than reading from disk.
func LoadEntries(header Header, entries []Entry) *State {
	state := &State{Header: header, ModelID: header.ModelID, ThinkingLevel: canonical.ThinkingLevel(header.ThinkingLevel)}
	applyEntries(state, entries)
	return state
}

func replay(header Header, rawLines []json.RawMessage) (*State, error) {
	entries := make([]Entry, 0, len(rawLines))
	for i, raw := range rawLines {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("session: decode entry %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return LoadEntries(header, entries), nil
}

// applyEntries folds entries into state in order. A compaction replaces the
// accumulated messages with [summary], discarding the prefix but not the
// log's own record of it; a branch_summary instead restores every message
// entry seen before its target line, undoing any compaction in between.
func applyEntries(state *State, entries []Entry) {
	type messageEntry struct {
		lineIndex int
		message   canonical.Message
	}
	var allMessages []messageEntry

	for i, e := range entries {
		switch e.Type {
		case EntryMessage:
			if e.Message != nil {
				allMessages = append(allMessages, messageEntry{lineIndex: i, message: *e.Message})
				state.Messages = append(state.Messages, *e.Message)
			}
		case EntryModelChange:
			state.ModelID = e.ModelID
		case EntryThinkingChange:
			state.ThinkingLevel = canonical.ThinkingLevel(e.ThinkingLevel)
		case EntryCompaction:
			if e.Summary != nil {
				state.Messages = append([]canonical.Message{*e.Summary}, state.Messages[boundedLen(state.Messages, e.CompactedThrough):]...)
			}
		case EntryBranchSummary:
			var restored []canonical.Message
			for _, m := range allMessages {
				if m.lineIndex >= e.BranchFromLine {
					break
				}
				restored = append(restored, m.message)
			}
			state.Messages = restored
		}
	}
}

func boundedLen(messages []canonical.Message, n int) int {
	if n < 0 {
		return 0
	}
	if n > len(messages) {
		return len(messages)
	}
	return n
}
