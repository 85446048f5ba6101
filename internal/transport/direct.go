package transport

import (
	"context"
	"fmt"

	"github.com/streamforge/agentcore/internal/provider"
	"github.com/streamforge/agentcore/internal/stream"
)

// DirectTransport invokes a provider.Adapter in-process: credentials are
// resolved at call time by the adapter itself (see provider/oauth.go for the
// Anthropic case), and BaseURL on the resolved model is honored as-is,
// letting a caller point it at a CORS proxy without the transport knowing
// anything about proxying.
type DirectTransport struct {
	Registry *provider.Registry
}

var _ Transport = (*DirectTransport)(nil)

// NewDirectTransport builds a DirectTransport dispatching by the API each
// model declares.
func NewDirectTransport(registry *provider.Registry) *DirectTransport {
	return &DirectTransport{Registry: registry}
}

func (t *DirectTransport) Run(ctx context.Context, req Request) (*stream.QueuedStream[provider.Event], error) {
	adapter, err := t.Registry.Resolve(req.Model)
	if err != nil {
		return nil, fmt.Errorf("transport: direct: %w", err)
	}
	return adapter.Stream(ctx, req.Model, req.History, req.Options)
}
