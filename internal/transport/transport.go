// Package transport implements the two ways an agent loop can obtain a
// provider's event stream: calling a provider adapter directly in-process,
// or relaying the call through an HTTP endpoint that fronts the real
// credentials. Both satisfy the same Transport interface so the agent loop
// never needs to know which one it's driving.
package transport

import (
	"context"

	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/stream"
	"github.com/streamforge/agentcore/pkg/canonical"
)

// Request bundles everything a transport needs to open one stream.
type Request struct {
	Model   canonical.Model
	History []canonical.Message
	Options provider.Options
}

// Transport opens a provider event stream for one assistant turn. Cancelling
// ctx tears down the underlying call exactly like cancelling the returned
// stream's consumer context would.
type Transport interface {
	Run(ctx context.Context, req Request) (*stream.QueuedStream[provider.Event], error)
}
