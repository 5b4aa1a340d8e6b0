package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Session is an initialized connection to a single tool provider.
type Session struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	tools []*Tool
	mu    sync.RWMutex

	serverInfo ServerInfo
	closed     bool
	closeMu    sync.Mutex
}

// NewSession creates a session for the descriptor. The session is not
// connected until Connect succeeds.
func NewSession(cfg *ServerConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("server", cfg.ID),
	}
}

// Connect opens the transport and runs the initialize handshake. On any
// failure the transport is closed so no process or stream leaks.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := s.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "farmmind",
			"version": "1.0.0",
		},
	})
	if err != nil {
		s.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		s.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.serverInfo = initResult.ServerInfo

	s.logger.Info("connected to provider",
		"name", s.serverInfo.Name,
		"version", s.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := s.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		s.logger.Warn("initialized notification failed", "error", err)
	}

	return nil
}

// Close releases the transport. Safe to call more than once.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}

// Config returns the descriptor this session was built from.
func (s *Session) Config() *ServerConfig {
	return s.config
}

// ServerInfo returns the identity the provider reported at initialize.
func (s *Session) ServerInfo() ServerInfo {
	return s.serverInfo
}

// Connected reports whether the underlying transport is open.
func (s *Session) Connected() bool {
	return s.transport.Connected()
}

// ListTools fetches the provider's tool inventory and caches it.
func (s *Session) ListTools(ctx context.Context) ([]*Tool, error) {
	result, err := s.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}

	s.mu.Lock()
	s.tools = resp.Tools
	s.mu.Unlock()

	s.logger.Debug("listed tools", "count", len(resp.Tools))
	return resp.Tools, nil
}

// Tools returns the most recently listed tool inventory.
func (s *Session) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools
}

// CallTool invokes one tool on the provider.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	result, err := s.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}

// Events exposes provider-initiated notifications.
func (s *Session) Events() <-chan *Notification {
	return s.transport.Events()
}
