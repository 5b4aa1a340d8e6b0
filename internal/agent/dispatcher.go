package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/farmmind/farmmind/internal/audit"
	"github.com/farmmind/farmmind/internal/catalog"
	"github.com/farmmind/farmmind/internal/mcp"
	"github.com/farmmind/farmmind/internal/observability"
	"github.com/farmmind/farmmind/pkg/models"
)

// Dispatch defaults.
const (
	// TaskPollInterval is how often a provider-owned task is polled.
	TaskPollInterval = 5 * time.Second
	// MaxTaskWait bounds how long a single task is polled before giving up.
	MaxTaskWait = 10 * time.Minute
)

// ErrUnknownTool marks a call naming a tool no provider offers.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatcher routes tool calls to their providers. Failures of any kind
// come back as error-flagged results, never as Go errors: the loop feeds
// them to the model like any other tool output.
type Dispatcher struct {
	catalog   *catalog.Catalog
	confirmer Confirmer
	logger    *slog.Logger
	auditLog  *audit.Logger
	metrics   *observability.Metrics

	// highRisk holds globally configured high-risk tool names, on top of
	// the per-server lists.
	highRisk map[string]bool

	pollInterval time.Duration
	maxTaskWait  time.Duration
}

// DispatcherOption tunes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConfirmer installs the operator confirmation channel.
func WithConfirmer(c Confirmer) DispatcherOption {
	return func(d *Dispatcher) { d.confirmer = c }
}

// WithHighRiskTools marks additional tool names as high-risk.
func WithHighRiskTools(names []string) DispatcherOption {
	return func(d *Dispatcher) {
		for _, n := range names {
			d.highRisk[n] = true
		}
	}
}

// WithAudit wires the audit trail.
func WithAudit(a *audit.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.auditLog = a }
}

// WithMetrics wires metrics collection.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// withPollInterval shortens task polling in tests.
func withPollInterval(interval, maxWait time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.pollInterval = interval
		d.maxTaskWait = maxWait
	}
}

// NewDispatcher creates a dispatcher over the catalog. Without an explicit
// confirmer every high-risk call is refused.
func NewDispatcher(cat *catalog.Catalog, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		catalog:      cat,
		confirmer:    AutoDeny{},
		logger:       logger.With("component", "dispatcher"),
		highRisk:     make(map[string]bool),
		pollInterval: TaskPollInterval,
		maxTaskWait:  MaxTaskWait,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAll runs the calls one at a time, in order. Sequential on
// purpose: farm actuators must not race each other.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.Dispatch(ctx, call))
	}
	return results
}

// Dispatch runs one tool call through the full pipeline: argument parse,
// catalog resolution, schema validation, the high-risk gate, the timed
// provider invocation, and task-handle polling.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	if d.auditLog != nil {
		d.auditLog.ToolInvoked(call.Name, call.ID, call.Arguments)
	}

	result := d.dispatch(ctx, call)

	if d.metrics != nil {
		d.metrics.RecordToolCall(call.Name, resultStatus(result), time.Since(start).Seconds())
	}
	if d.auditLog != nil {
		d.auditLog.ToolCompleted(call.Name, call.ID, !result.IsError, result.Content, time.Since(start))
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	args, err := parseArguments(call.Arguments)
	if err != nil {
		return errorResult(call, fmt.Sprintf("Error: invalid arguments for %s: %v (raw: %s)",
			call.Name, err, call.Arguments))
	}

	entry, ok := d.catalog.Resolve(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("Error: unknown tool %q", call.Name))
	}

	owner, ok := d.catalog.Owner(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("Error: tool %q: provider not connected", call.Name))
	}

	if err := entry.ValidateArgs(args); err != nil {
		return errorResult(call, fmt.Sprintf("Error: %v", err))
	}

	if d.isHighRisk(call.Name, owner) {
		allowed, err := d.confirmer.Confirm(ctx, call)
		if err != nil {
			return errorResult(call, fmt.Sprintf("Error: confirmation for %s failed: %v", call.Name, err))
		}
		if !allowed {
			d.logger.Warn("high-risk call declined", "tool", call.Name)
			if d.auditLog != nil {
				d.auditLog.ToolDenied(call.Name, call.ID, "operator declined")
			}
			return errorResult(call, fmt.Sprintf("Error: operator declined execution of %s", call.Name))
		}
	}

	text, err := d.invoke(ctx, call.Name, args, owner.EffectiveTimeout())
	if err != nil {
		return errorResult(call, fmt.Sprintf("Error: %v", err))
	}

	// A task handle means the provider runs the work asynchronously and
	// we poll for the outcome.
	if handle, ok := parseTaskHandle(text); ok {
		return d.awaitTask(ctx, call, owner, handle)
	}

	return models.ToolResult{ToolCallID: call.ID, Content: text}
}

// invoke calls the tool with a per-call timeout and unwraps the result.
func (d *Dispatcher) invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *mcp.ToolCallResult
		err    error
	}
	resultChan := make(chan outcome, 1)
	go func() {
		result, err := d.catalog.Call(callCtx, name, args)
		resultChan <- outcome{result, err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out after %v", name, timeout)
		}
		return "", callCtx.Err()
	case out := <-resultChan:
		if out.err != nil {
			return "", out.err
		}
		text := out.result.Text()
		if out.result.IsError {
			return "", fmt.Errorf("%s failed: %s", name, text)
		}
		return text, nil
	}
}

// awaitTask polls the owning server's status tool until the task reaches
// a terminal state or the wait budget runs out.
func (d *Dispatcher) awaitTask(ctx context.Context, call models.ToolCall, owner *mcp.ServerConfig, handle models.TaskHandle) models.ToolResult {
	statusTool := owner.EffectiveTaskStatusTool()
	d.logger.Info("provider returned task handle, polling",
		"tool", call.Name, "task_id", handle.TaskID, "status_tool", statusTool)

	deadline := time.Now().Add(d.maxTaskWait)
	for {
		text, err := d.invoke(ctx, statusTool, map[string]any{"task_id": handle.TaskID}, owner.EffectiveTimeout())
		if err != nil {
			return errorResult(call, fmt.Sprintf("Error: polling task %s: %v", handle.TaskID, err))
		}

		var status taskState
		if err := json.Unmarshal([]byte(text), &status); err != nil {
			return errorResult(call, fmt.Sprintf("Error: task %s returned unreadable status: %s", handle.TaskID, text))
		}

		switch {
		case status.Status == models.TaskCompleted:
			if status.FinalResult != "" {
				return models.ToolResult{ToolCallID: call.ID, Content: status.FinalResult}
			}
			if status.ExtractedContent != "" {
				return models.ToolResult{ToolCallID: call.ID, Content: status.ExtractedContent}
			}
			return models.ToolResult{ToolCallID: call.ID, Content: text}
		case status.Status.Terminal():
			detail := status.Error
			if detail == "" {
				detail = string(status.Status)
			}
			return errorResult(call, fmt.Sprintf("Error: task %s %s: %s", handle.TaskID, status.Status, detail))
		}

		if time.Now().After(deadline) {
			return errorResult(call, fmt.Sprintf("Error: task %s did not finish within %v", handle.TaskID, d.maxTaskWait))
		}
		select {
		case <-ctx.Done():
			return errorResult(call, fmt.Sprintf("Error: polling task %s: %v", handle.TaskID, ctx.Err()))
		case <-time.After(d.pollInterval):
		}
	}
}

// taskState is the status tool's answer while a task runs.
type taskState struct {
	TaskID           string            `json:"task_id"`
	Status           models.TaskStatus `json:"status"`
	FinalResult      string            `json:"final_result,omitempty"`
	ExtractedContent string            `json:"extracted_content,omitempty"`
	Error            string            `json:"error,omitempty"`
}

func (d *Dispatcher) isHighRisk(name string, owner *mcp.ServerConfig) bool {
	if d.highRisk[name] {
		return true
	}
	for _, n := range owner.HighRiskTools {
		if n == name {
			return true
		}
	}
	return false
}

// parseArguments decodes the model's argument payload. Empty payloads are
// an empty argument set, not an error.
func parseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// parseTaskHandle recognizes a {task_id, status} payload.
func parseTaskHandle(text string) (models.TaskHandle, bool) {
	var handle models.TaskHandle
	if err := json.Unmarshal([]byte(text), &handle); err != nil {
		return models.TaskHandle{}, false
	}
	if handle.TaskID == "" || handle.Status == "" {
		return models.TaskHandle{}, false
	}
	return handle, true
}

func errorResult(call models.ToolCall, content string) models.ToolResult {
	return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: true}
}

func resultStatus(r models.ToolResult) string {
	switch {
	case !r.IsError:
		return "success"
	case strings.Contains(r.Content, "operator declined"):
		return "denied"
	case strings.Contains(r.Content, "timed out"):
		return "timeout"
	default:
		return "error"
	}
}
