// Package mcp implements the client side of the Model Context Protocol:
// sessions to tool-provider processes over stdio or SSE transports, and a
// connection manager that establishes and supervises them.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TransportType selects how a tool provider is reached.
type TransportType string

const (
	// TransportStdio talks JSON-RPC over the stdin/stdout of a spawned
	// child process.
	TransportStdio TransportType = "stdio"
	// TransportSSE talks JSON-RPC over HTTP with a server-sent event
	// stream for notifications.
	TransportSSE TransportType = "sse"
)

// ErrNoLaunchTarget marks a descriptor that names neither a command to
// spawn nor a URL to reach. It is a configuration error and is never
// retried.
var ErrNoLaunchTarget = errors.New("descriptor missing required launch target")

// ServerConfig describes one tool provider. Loaded once at startup and
// treated as immutable afterwards.
type ServerConfig struct {
	ID        string        `json:"id" yaml:"id"`
	Transport TransportType `json:"transport" yaml:"transport"`

	// Stdio transport options. Command is also used by the SSE transport
	// when the client is expected to spawn the server process itself.
	Command string            `json:"command,omitempty" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
	WorkDir string            `json:"cwd,omitempty" yaml:"cwd"`

	// SSE transport options.
	URL     string            `json:"url,omitempty" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`

	// Timeout bounds the initialize handshake and each RPC on this
	// server. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	// MaxRetries is the number of connection attempts before the server
	// is given up on. Zero means DefaultMaxRetries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries"`

	// TaskStatusTool names the status-query tool used to poll
	// long-running tasks started on this server.
	TaskStatusTool string `json:"task_status_tool,omitempty" yaml:"task_status_tool"`

	// HighRiskTools lists tools on this server that must not run without
	// operator confirmation.
	HighRiskTools []string `json:"high_risk_tools,omitempty" yaml:"high_risk_tools"`
}

// ProtocolVersion is the MCP revision sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

// Default bounds applied when a descriptor leaves them unset.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultTaskStatusTool = "get_task_status"

	// ProbeTimeout is the hard budget for a single liveness probe.
	ProbeTimeout = 500 * time.Millisecond
	// StartupWindow is how long a spawned server gets to become reachable.
	StartupWindow = 10 * time.Second
	// TerminateGrace is how long a child process gets between the
	// graceful terminate signal and the kill.
	TerminateGrace = 3 * time.Second
)

// Validate checks the descriptor for errors that make connecting pointless.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server id is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("server %s: %w", c.ID, ErrNoLaunchTarget)
		}
	case TransportSSE:
		if c.URL == "" {
			return fmt.Errorf("server %s: %w", c.ID, ErrNoLaunchTarget)
		}
	case "":
		// The transport kind may be omitted in the descriptor file; a
		// url means SSE, a command means stdio.
		if c.URL == "" && c.Command == "" {
			return fmt.Errorf("server %s: %w", c.ID, ErrNoLaunchTarget)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

// EffectiveTransport resolves an unset transport kind from the launch
// target, preferring the network endpoint when both are present.
func (c *ServerConfig) EffectiveTransport() TransportType {
	if c.Transport != "" {
		return c.Transport
	}
	if c.URL != "" {
		return TransportSSE
	}
	return TransportStdio
}

// EffectiveTimeout returns the RPC timeout with the default applied.
func (c *ServerConfig) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// EffectiveMaxRetries returns the retry budget with the default applied.
func (c *ServerConfig) EffectiveMaxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

// EffectiveTaskStatusTool returns the status-query tool name with the
// default applied.
func (c *ServerConfig) EffectiveTaskStatusTool() string {
	if c.TaskStatusTool != "" {
		return c.TaskStatusTool
	}
	return DefaultTaskStatusTool
}

// Tool is a tool descriptor as reported by a provider. InputSchema passes
// through to the model service unmodified.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult is the provider's response to tools/call.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is one piece of a tool result.
type ToolResultContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text concatenates the textual content pieces of the result.
func (r *ToolCallResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			out += c.Text
		}
	}
	return out
}

// JSON-RPC 2.0 framing.

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC notification (no ID, no response).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ServerInfo identifies a connected provider.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the provider's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
}

// ListToolsResult holds the result of tools/list.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams holds the parameters of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
