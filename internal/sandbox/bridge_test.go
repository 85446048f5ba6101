package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialBridge(t *testing.T, server *httptest.Server, sandboxID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("sandboxId", sandboxID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestBridge_RejectsMissingSandboxID(t *testing.T) {
	bridge := NewBridge(NewRouter(nil), nil)
	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestBridge_RoundTripsRequest(t *testing.T) {
	router := NewRouter(func(ctx context.Context, sandboxID, method string, params json.RawMessage) (any, error) {
		return map[string]string{"sandboxId": sandboxID, "method": method}, nil
	})
	bridge := NewBridge(router, nil)
	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	conn := dialBridge(t, server, "sandbox-a")
	defer conn.Close()

	if err := conn.WriteJSON(Message{ID: "req-1", Kind: "request", Method: "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Kind != "response" || resp.ID != "req-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBridge_EventDeliversToSubscriber(t *testing.T) {
	router := NewRouter(nil)
	bridge := NewBridge(router, nil)
	server := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	defer server.Close()

	conn := dialBridge(t, server, "sandbox-a")
	defer conn.Close()

	// Give the server goroutine a moment to register the subscription before
	// the event is broadcast.
	time.Sleep(50 * time.Millisecond)
	bridge.Event("sandbox-a", "started", map[string]bool{"ok": true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Kind != "event" || msg.Method != "started" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
