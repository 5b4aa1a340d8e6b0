// Package audit writes a structured trail of everything the engine does
// on an operator's behalf: tool invocations, denials, and irrigation
// decisions as they move through their lifecycle.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Tool events
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"

	// Decision events
	EventDecisionPending   EventType = "decision.pending"
	EventDecisionConfirmed EventType = "decision.confirmed"
	EventDecisionRejected  EventType = "decision.rejected"

	// Provider events
	EventServerConnected    EventType = "server.connected"
	EventServerDisconnected EventType = "server.disconnected"

	// Loop events
	EventLoopTerminated EventType = "loop.terminated"
)

// Level is the severity of an audit entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	// ToolName and ToolCallID identify the call for tool events.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ServerID identifies the provider for server events.
	ServerID string `json:"server_id,omitempty"`

	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
}
