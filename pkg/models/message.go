package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Provenance records how a tool call reached the dispatcher.
type Provenance string

const (
	// ProvenanceStructured marks calls emitted through the model's native
	// function-calling channel.
	ProvenanceStructured Provenance = "structured"
	// ProvenanceInterceptedText marks calls recovered from plain assistant
	// text by the textual intent extractor.
	ProvenanceInterceptedText Provenance = "intercepted-text"
	// ProvenanceForced marks calls synthesized by the loop's forced-action
	// heuristics when the model refused to use an available tool.
	ProvenanceForced Provenance = "forced"
)

// Message is one entry of a conversation transcript.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, CreatedAt: time.Now()}
}

// NewAssistantMessage builds an assistant message with its tool calls.
func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, CreatedAt: time.Now()}
}

// NewToolResultMessage builds a tool message carrying a batch of results.
func NewToolResultMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results, CreatedAt: time.Now()}
}

// ToolCall is the model's request to execute a named tool. Arguments is the
// raw JSON string as produced by the model; parsing is the dispatcher's job.
type ToolCall struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Arguments  string     `json:"arguments"`
	Provenance Provenance `json:"provenance,omitempty"`
}

// ArgumentsJSON returns the argument payload as raw JSON.
func (tc ToolCall) ArgumentsJSON() json.RawMessage {
	return json.RawMessage(tc.Arguments)
}

// ToolResult is the outcome of one tool call, fed back into the
// conversation. Errors are data here, never propagated as Go errors.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TaskStatus is the lifecycle state of a provider-owned long-running task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status will not change again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskHandle is the payload a provider returns for an asynchronous tool
// call. The provider owns the task; the client only polls it.
type TaskHandle struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
}
