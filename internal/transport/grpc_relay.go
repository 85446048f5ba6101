package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/stream"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// grpcRelayMethod is the fully-qualified RPC the relay's gRPC variant
// dials. There is no generated client stub for it: every frame is a
// structpb.Struct carrying one JSON-encoded field, so the well-known
// protobuf types already vendored with google.golang.org/protobuf are
// enough of a wire format without a .proto/protoc step.
const grpcRelayMethod = "/agentcore.transport.Relay/Stream"

// GRPCRelayTransport is the gRPC-streaming sibling of RelayTransport, for
// embedding hosts (desktop shells, edge workers) that can't terminate an
// SSE body but do speak HTTP/2 gRPC.
type GRPCRelayTransport struct {
	Conn *grpc.ClientConn
}

var _ Transport = (*GRPCRelayTransport)(nil)

// NewGRPCRelayTransport wraps an already-dialed connection; callers own its
// lifecycle (grpc.NewClient + Close).
func NewGRPCRelayTransport(conn *grpc.ClientConn) *GRPCRelayTransport {
	return &GRPCRelayTransport{Conn: conn}
}

func (t *GRPCRelayTransport) Run(ctx context.Context, req Request) (*stream.QueuedStream[provider.Event], error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: grpc relay: encode request: %w", err)
	}
	reqStruct, err := structpb.NewStruct(map[string]any{"request": string(payload)})
	if err != nil {
		return nil, fmt.Errorf("transport: grpc relay: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}
	clientStream, err := t.Conn.NewStream(streamCtx, desc, grpcRelayMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: grpc relay: %w", err)
	}
	if err := clientStream.SendMsg(reqStruct); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: grpc relay: %w", err)
	}
	if err := clientStream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: grpc relay: %w", err)
	}

	out := stream.New[provider.Event](cancel)
	go consumeGRPCRelay(clientStream, req.Model, out)
	return out, nil
}

// consumeGRPCRelay mirrors consumeRelaySSE's frame handling, unwrapping the
// JSON payload each structpb.Struct carries in its "event" field instead of
// an SSE "data:" line.
func consumeGRPCRelay(clientStream grpc.ClientStream, model canonical.Model, out *stream.QueuedStream[provider.Event]) {
	defer out.End()

	partial := &canonical.AssistantMessage{API: model.API, Provider: model.Provider, Model: model.ID}
	out.Push(provider.Event{Type: provider.EventStart, Partial: partial})

	var textBuf, thinkingBuf strings.Builder

	for {
		frame := &structpb.Struct{}
		if err := clientStream.RecvMsg(frame); err != nil {
			if err != io.EOF {
				out.Push(provider.Event{Type: provider.EventError, Err: fmt.Errorf("transport: grpc relay: %w", err)})
			}
			return
		}

		raw, ok := frame.Fields["event"]
		if !ok {
			continue
		}
		var ev relayEvent
		if err := json.Unmarshal([]byte(raw.GetStringValue()), &ev); err != nil {
			out.Push(provider.Event{Type: provider.EventError, Err: fmt.Errorf("transport: grpc relay: malformed event: %w", err)})
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
}
