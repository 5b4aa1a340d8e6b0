package mcp

import (
	"context"
	"encoding/json"
)

// Transport is one duplex channel to a tool provider.
type Transport interface {
	// Connect opens the channel. For stdio this spawns the child process.
	Connect(ctx context.Context) error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Events delivers provider-initiated notifications.
	Events() <-chan *Notification

	// Connected reports whether the channel is open.
	Connected() bool

	// Close tears the channel down, releasing the process handle if the
	// transport owns one.
	Close() error
}

// NewTransport builds the transport matching the descriptor's kind.
func NewTransport(cfg *ServerConfig) Transport {
	if cfg.EffectiveTransport() == TransportSSE {
		return NewSSETransport(cfg)
	}
	return NewStdioTransport(cfg)
}
