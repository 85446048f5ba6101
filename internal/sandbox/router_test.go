package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRouter_SubscribeBroadcast(t *testing.T) {
	t.Run("delivers to subscribers of the same sandbox only", func(t *testing.T) {
		r := NewRouter(nil)
		chA, cancelA := r.Subscribe("sandbox-a")
		defer cancelA()
		chB, cancelB := r.Subscribe("sandbox-b")
		defer cancelB()

		r.Broadcast(Message{SandboxID: "sandbox-a", Kind: "event", Method: "ping"})

		select {
		case msg := <-chA:
			if msg.Method != "ping" {
				t.Errorf("method = %q, want ping", msg.Method)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for subscriber a")
		}

		select {
		case msg := <-chB:
			t.Fatalf("unexpected message delivered to sandbox-b: %+v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel releases the subscription", func(t *testing.T) {
		r := NewRouter(nil)
		ch, cancel := r.Subscribe("sandbox-a")
		cancel()

		r.Broadcast(Message{SandboxID: "sandbox-a", Kind: "event", Method: "ping"})

		if _, ok := <-ch; ok {
			t.Fatal("expected channel to be closed")
		}
	})
}

func TestRouter_Call(t *testing.T) {
	t.Run("resolves once the matching response is dispatched", func(t *testing.T) {
		r := NewRouter(nil)
		outbound, cancel := r.Subscribe("sandbox-a")
		defer cancel()

		go func() {
			req := <-outbound
			r.Dispatch(context.Background(), Message{
				ID:        req.ID,
				SandboxID: "sandbox-a",
				Kind:      "response",
				Result:    json.RawMessage(`{"ok":true}`),
			})
		}()

		result, err := r.Call(context.Background(), "sandbox-a", "ping", nil, time.Second)
		if err != nil {
			t.Fatalf("Call error: %v", err)
		}
		if string(result) != `{"ok":true}` {
			t.Errorf("result = %s, want {\"ok\":true}", result)
		}
	})

	t.Run("returns an error for an error response", func(t *testing.T) {
		r := NewRouter(nil)
		outbound, cancel := r.Subscribe("sandbox-a")
		defer cancel()

		go func() {
			req := <-outbound
			r.Dispatch(context.Background(), Message{ID: req.ID, SandboxID: "sandbox-a", Kind: "response", Error: "boom"})
		}()

		if _, err := r.Call(context.Background(), "sandbox-a", "ping", nil, time.Second); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("times out when no response arrives", func(t *testing.T) {
		r := NewRouter(nil)
		_, err := r.Call(context.Background(), "sandbox-a", "ping", nil, 20*time.Millisecond)
		if err == nil {
			t.Fatal("expected timeout error")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		r := NewRouter(nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Call(ctx, "sandbox-a", "ping", nil, time.Second); err == nil {
			t.Fatal("expected context error")
		}
	})
}

func TestRouter_DispatchRequest(t *testing.T) {
	t.Run("answers via the handler and broadcasts the response", func(t *testing.T) {
		r := NewRouter(func(ctx context.Context, sandboxID, method string, params json.RawMessage) (any, error) {
			if method != "echo" {
				t.Errorf("method = %q, want echo", method)
			}
			return map[string]string{"sandboxId": sandboxID}, nil
		})

		outbound, cancel := r.Subscribe("sandbox-a")
		defer cancel()

		r.Dispatch(context.Background(), Message{ID: "req-1", SandboxID: "sandbox-a", Kind: "request", Method: "echo"})

		select {
		case resp := <-outbound:
			if resp.Kind != "response" || resp.ID != "req-1" {
				t.Fatalf("unexpected response: %+v", resp)
			}
			var payload struct {
				SandboxID string `json:"sandboxId"`
			}
			if err := json.Unmarshal(resp.Result, &payload); err != nil {
				t.Fatalf("unmarshal result: %v", err)
			}
			if payload.SandboxID != "sandbox-a" {
				t.Errorf("sandboxId = %q, want sandbox-a", payload.SandboxID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for response")
		}
	})

	t.Run("without a handler responds with an error", func(t *testing.T) {
		r := NewRouter(nil)
		outbound, cancel := r.Subscribe("sandbox-a")
		defer cancel()

		r.Dispatch(context.Background(), Message{ID: "req-1", SandboxID: "sandbox-a", Kind: "request", Method: "echo"})

		select {
		case resp := <-outbound:
			if resp.Error == "" {
				t.Fatal("expected an error response")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for response")
		}
	})
}
