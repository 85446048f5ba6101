package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge serves the Router's RPC multiplexer over a websocket connection
// per sandbox worker, standing in for the browser's postMessage channel
// when the embedding host is a terminal/daemon rather than a page.
type Bridge struct {
	router *Router
	logger *slog.Logger
}

// NewBridge wires a websocket handler to router.
func NewBridge(router *Router, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{router: router, logger: logger}
}

// ServeHTTP upgrades the connection and pumps Router messages to and from
// it until either side closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sandboxID := r.URL.Query().Get("sandboxId")
	if sandboxID == "" {
		http.Error(w, "sandboxId query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("sandbox bridge upgrade failed", "error", err, "sandbox_id", sandboxID)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound, unsubscribe := b.router.Subscribe(sandboxID)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					b.logger.Warn("sandbox bridge write failed", "error", err, "sandbox_id", sandboxID)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		msg.SandboxID = sandboxID
		b.router.Dispatch(ctx, msg)
	}

	cancel()
	<-done
}

// Event emits a one-way notification to a sandbox's subscribers, used for
// lifecycle signals (start/complete/error) that don't expect a reply.
func (b *Bridge) Event(sandboxID, kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("sandbox bridge event marshal failed", "error", err, "sandbox_id", sandboxID, "kind", kind)
		return
	}
	b.router.Broadcast(Message{SandboxID: sandboxID, Kind: "event", Method: kind, Params: raw})
}
