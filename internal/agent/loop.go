package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/farmmind/farmmind/internal/audit"
	"github.com/farmmind/farmmind/internal/catalog"
	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/internal/observability"
	"github.com/farmmind/farmmind/pkg/models"
)

// DefaultMaxCycles caps perception-act cycles per request.
const DefaultMaxCycles = 10

// Loop termination diagnostics returned to the caller as content.
const (
	MaxCyclesDiagnostic = "possible infinite loop detected, stopping after too many tool cycles"
	AllErrorsDiagnostic = "tool call failed"
)

// ErrMaxCycles is recorded when a loop hits its cycle cap.
var ErrMaxCycles = errors.New("cycle cap reached")

// LoopConfig tunes a Loop.
type LoopConfig struct {
	MaxCycles    int
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// Loop is the single-phase agent loop: stream a completion, dispatch the
// tool calls it asks for, feed the results back, repeat until the model
// answers in plain text or a bound trips.
type Loop struct {
	provider   llm.Provider
	catalog    *catalog.Catalog
	dispatcher *Dispatcher
	conv       *Conversation
	logger     *slog.Logger
	auditLog   *audit.Logger
	metrics    *observability.Metrics
	cfg        LoopConfig

	// OnText and OnReasoning receive deltas as they stream, for live
	// display. Optional.
	OnText      func(string)
	OnReasoning func(string)
}

// NewLoop builds a loop with its own conversation.
func NewLoop(provider llm.Provider, cat *catalog.Catalog, dispatcher *Dispatcher, cfg LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = OrchestratorPrompt
	}
	return &Loop{
		provider:   provider,
		catalog:    cat,
		dispatcher: dispatcher,
		conv:       NewConversation(),
		logger:     logger.With("component", "loop"),
		cfg:        cfg,
	}
}

// SetAudit wires the audit trail.
func (l *Loop) SetAudit(a *audit.Logger) { l.auditLog = a }

// SetMetrics wires metrics collection.
func (l *Loop) SetMetrics(m *observability.Metrics) { l.metrics = m }

// Conversation exposes the transcript, e.g. for reset handling.
func (l *Loop) Conversation() *Conversation { return l.conv }

// Run processes one operator request to completion. Tool failures stay
// inside the loop as data; only transport-level failures surface as
// errors.
func (l *Loop) Run(ctx context.Context, input string) (string, error) {
	l.conv.Append(models.NewUserMessage(input))

	for cycle := 0; cycle < l.cfg.MaxCycles; cycle++ {
		assistant, err := l.complete(ctx, l.conv.History(), l.catalog.OpenAITools(nil), l.cfg.SystemPrompt)
		if err != nil {
			l.terminate("cancelled", cycle)
			return "", err
		}

		calls := assistant.ToolCalls
		if len(calls) == 0 {
			calls = l.interceptText(assistant.Content)
		}
		if len(calls) == 0 {
			if forced, ok := l.forcedAction(assistant.Content, input); ok {
				l.logger.Info("model refused an available tool, forcing call",
					"tool", forced.Name)
				calls = []models.ToolCall{forced}
			}
		}
		assistant.ToolCalls = calls
		l.conv.Append(assistant)

		if len(calls) == 0 {
			l.terminate("completed", cycle)
			return assistant.Content, nil
		}

		results := l.dispatcher.DispatchAll(ctx, calls)
		l.conv.Append(models.NewToolResultMessage(results))

		if allErrors(results) {
			l.logger.Warn("every tool call in the cycle failed", "cycle", cycle)
			l.terminate("all_errors", cycle)
			return AllErrorsDiagnostic, nil
		}
	}

	l.logger.Warn("cycle cap reached", "max_cycles", l.cfg.MaxCycles)
	l.terminate("max_cycles", l.cfg.MaxCycles)
	return MaxCyclesDiagnostic, nil
}

// complete streams one completion and folds it into a message.
func (l *Loop) complete(ctx context.Context, history []models.Message, tools []openai.Tool, system string) (models.Message, error) {
	start := time.Now()

	fragments, err := l.provider.Stream(ctx, &llm.Request{
		System:      system,
		Messages:    history,
		Tools:       tools,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	})
	if err != nil {
		l.recordLLM("error", start)
		return models.Message{}, fmt.Errorf("model stream: %w", err)
	}

	agg := NewAggregator()
	for frag := range fragments {
		if frag.Err != nil {
			l.recordLLM("error", start)
			return models.Message{}, fmt.Errorf("model stream: %w", frag.Err)
		}
		if frag.Text != "" && l.OnText != nil {
			l.OnText(frag.Text)
		}
		if frag.Reasoning != "" && l.OnReasoning != nil {
			l.OnReasoning(frag.Reasoning)
		}
		agg.Add(frag)
	}

	l.recordLLM("success", start)
	return agg.Message(), nil
}

// interceptText recovers textual tool intents and counts them.
func (l *Loop) interceptText(content string) []models.ToolCall {
	intercepted := ExtractToolCalls(content)
	for _, call := range intercepted {
		l.logger.Info("recovered tool intent from plain text", "tool", call.Name)
		if l.metrics != nil {
			l.metrics.RecordInterceptedCall(call.Name)
		}
	}
	return intercepted
}

// forcedAction synthesizes a search call when the model claims it cannot
// search although a search tool is available. Advisory only: it never
// runs when the model issued calls of its own.
func (l *Loop) forcedAction(content, input string) (models.ToolCall, bool) {
	if _, ok := l.catalog.Resolve("search"); !ok {
		return models.ToolCall{}, false
	}
	if !looksLikeSearchRefusal(content) {
		return models.ToolCall{}, false
	}

	args := fmt.Sprintf(`{"query":%q}`, input)
	return models.ToolCall{
		ID:         fmt.Sprintf("call_%s", uuid.New().String()),
		Name:       "search",
		Arguments:  args,
		Provenance: models.ProvenanceForced,
	}, true
}

func looksLikeSearchRefusal(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range []string{
		"cannot search", "can't search", "unable to search",
		"cannot browse", "unable to browse",
		"no access to the internet", "cannot access the internet",
		"cannot access the web", "no internet access",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (l *Loop) recordLLM(status string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordLLMRequest(l.provider.Name(), l.provider.Model(), status, time.Since(start).Seconds())
	}
}

func (l *Loop) terminate(reason string, cycles int) {
	if l.metrics != nil {
		l.metrics.RecordLoopTermination(reason)
	}
	if l.auditLog != nil {
		l.auditLog.LoopTerminated(reason, cycles)
	}
}

func allErrors(results []models.ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.IsError {
			return false
		}
	}
	return true
}
