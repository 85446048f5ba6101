package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/stream"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// RelayTransport forwards a Request to an HTTP endpoint that holds the real
// provider credentials and streams back server-sent events describing the
// same taxonomy a direct adapter call would produce. The relay strips the
// partial assistant message from every event but the first to save
// bandwidth; the client rebuilds it here by replaying deltas into a shadow
// accumulator, so callers of Transport never see the difference.
type RelayTransport struct {
	Endpoint string
	Client   *http.Client
}

var _ Transport = (*RelayTransport)(nil)

// NewRelayTransport builds a RelayTransport posting to endpoint. A nil
// client defaults to http.DefaultClient.
func NewRelayTransport(endpoint string, client *http.Client) *RelayTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayTransport{Endpoint: endpoint, Client: client}
}

// relayEvent is the wire shape of one SSE data line: a thinned-down mirror
// of provider.Event with the bulky Partial/Message snapshots omitted after
// the first event.
type relayEvent struct {
	Type     provider.EventType      `json:"type"`
	Delta    string                  `json:"delta,omitempty"`
	ToolCall *canonical.ContentBlock `json:"toolCall,omitempty"`
	Reason   canonical.StopReason    `json:"reason,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

func (t *RelayTransport) Run(ctx context.Context, req Request) (*stream.QueuedStream[provider.Event], error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: relay: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: relay: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: relay: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("transport: relay: unexpected status %s", resp.Status)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := stream.New[provider.Event](cancel)
	go consumeRelaySSE(streamCtx, resp, req.Model, out)
	return out, nil
}

// consumeRelaySSE reads "data: <json>\n\n" frames and replays them into the
// shadow accumulator the relay protocol expects the client to maintain.
func consumeRelaySSE(ctx context.Context, resp *http.Response, model canonical.Model, out *stream.QueuedStream[provider.Event]) {
	defer resp.Body.Close()
	defer out.End()

	partial := &canonical.AssistantMessage{API: model.API, Provider: model.Provider, Model: model.ID}
	out.Push(provider.Event{Type: provider.EventStart, Partial: partial})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var textBuf, thinkingBuf strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev relayEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out.Push(provider.Event{Type: provider.EventError, Err: fmt.Errorf("transport: relay: malformed event: %w", err)})
			return
		}

		switch ev.Type {
		case provider.EventTextStart:
			textBuf.Reset()
			out.Push(provider.Event{Type: provider.EventTextStart})
		case provider.EventTextDelta:
			textBuf.WriteString(ev.Delta)
			out.Push(provider.Event{Type: provider.EventTextDelta, Delta: ev.Delta})
		case provider.EventTextEnd:
			text := textBuf.String()
			partial.Content = append(partial.Content, canonical.ContentBlock{Type: canonical.BlockText, Text: text})
			out.Push(provider.Event{Type: provider.EventTextEnd, Content: text})
		case provider.EventThinkingStart:
			thinkingBuf.Reset()
			out.Push(provider.Event{Type: provider.EventThinkingStart})
		case provider.EventThinkingDelta:
			thinkingBuf.WriteString(ev.Delta)
			out.Push(provider.Event{Type: provider.EventThinkingDelta, Delta: ev.Delta})
		case provider.EventThinkingEnd:
			thinking := thinkingBuf.String()
			partial.Content = append(partial.Content, canonical.ContentBlock{Type: canonical.BlockThinking, Thinking: thinking})
			out.Push(provider.Event{Type: provider.EventThinkingEnd, Content: thinking})
		case provider.EventToolCall:
			if ev.ToolCall != nil {
				partial.Content = append(partial.Content, *ev.ToolCall)
			}
			out.Push(provider.Event{Type: provider.EventToolCall, ToolCall: ev.ToolCall})
		case provider.EventDone:
			partial.StopReason = ev.Reason
			out.Push(provider.Event{Type: provider.EventDone, Reason: ev.Reason, Message: partial})
			return
		case provider.EventError:
			partial.StopReason = canonical.StopReasonError
			partial.ErrorMessage = ev.Error
			out.Push(provider.Event{Type: provider.EventError, Err: fmt.Errorf("%s", ev.Error)})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out.Push(provider.Event{Type: provider.EventError, Err: fmt.Errorf("transport: relay: %w", err)})
	}
}
