// Package llm streams chat completions from a model service and exposes
// them as provider-neutral fragments.
package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/farmmind/farmmind/pkg/models"
)

// ToolCallDelta is one streamed fragment of a tool call. The service
// interleaves fragments of several calls; Index says which call this
// fragment extends.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamFragment is one unit of a streamed response. Exactly one of the
// payload fields is meaningful per fragment; Done closes the stream, with
// Err set when it closed abnormally.
type StreamFragment struct {
	Text       string
	Reasoning  string
	ToolDeltas []ToolCallDelta
	Done       bool
	Err        error
}

// Request is a single completion request. Model and Temperature fall back
// to the provider's configured defaults when zero.
type Request struct {
	System      string
	Messages    []models.Message
	Tools       []openai.Tool
	Model       string
	MaxTokens   int
	Temperature float32
}

// Provider streams completions from one model service.
type Provider interface {
	Name() string

	// Model is the default model requests run against.
	Model() string

	// Stream starts a completion and returns its fragment channel. The
	// channel is closed after a Done fragment. Errors that occur before
	// any fragment is produced are returned directly.
	Stream(ctx context.Context, req *Request) (<-chan StreamFragment, error)
}
