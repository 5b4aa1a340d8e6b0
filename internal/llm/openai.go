package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/farmmind/farmmind/pkg/models"
)

// OpenAIConfig configures the chat-completion provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// DefaultModel is used when the config leaves the model unset.
const DefaultModel = "gpt-4o"

// OpenAIProvider streams chat completions from an OpenAI-compatible
// endpoint. Safe for concurrent use; every Stream call owns its own
// stream and goroutine.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider from the config. An empty API key
// is allowed; Stream fails until one is configured.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}

	p := &OpenAIProvider{
		model:      cfg.Model,
		logger:     logger.With("component", "llm", "provider", "openai"),
		maxRetries: 3,
		retryDelay: time.Second,
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		p.client = openai.NewClientWithConfig(clientCfg)
	}
	return p
}

// Name identifies the provider in logs and metrics.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model is the configured default model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Stream starts a streaming completion, retrying transient failures with
// linearly increasing delays before giving up.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan StreamFragment, error) {
	if p.client == nil {
		return nil, errors.New("model service API key not configured")
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages, req.System),
		Stream:      true,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = req.Tools
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("model request failed, retrying",
				"attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("model request: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("model request retries exhausted: %w", lastErr)
	}

	fragments := make(chan StreamFragment)
	go p.pump(ctx, stream, fragments)
	return fragments, nil
}

// pump converts the SDK stream into fragments until EOF or error.
func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamFragment) {
	defer close(out)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			out <- StreamFragment{Done: true, Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				out <- StreamFragment{Done: true}
			} else {
				out <- StreamFragment{Done: true, Err: err}
			}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		fragment := StreamFragment{
			Text:      delta.Content,
			Reasoning: delta.ReasoningContent,
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			fragment.ToolDeltas = append(fragment.ToolDeltas, ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if fragment.Text != "" || fragment.Reasoning != "" || len(fragment.ToolDeltas) > 0 {
			out <- fragment
		}
	}
}

// convertMessages renders conversation history in the chat-completion
// shape: the system prompt leads, and each tool result becomes its own
// tool-role message linked by call ID.
func convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return result
}

// isRetryable classifies transient failures: rate limits, server errors
// and timeouts retry, everything else fails fast.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
