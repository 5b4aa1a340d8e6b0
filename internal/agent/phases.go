package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/farmmind/farmmind/internal/audit"
	"github.com/farmmind/farmmind/internal/catalog"
	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/internal/observability"
	"github.com/farmmind/farmmind/pkg/models"
)

// Decision is the reasoning phase's verdict.
type Decision struct {
	Irrigate              bool    `json:"irrigate"`
	Zone                  string  `json:"zone"`
	IrrigationAmountMM    float64 `json:"irrigation_amount_mm"`
	IrrigationDurationMin float64 `json:"irrigation_duration_min"`
	IrrigationTimeWindow  string  `json:"irrigation_time_window"`
}

// DecisionReasoning explains the verdict, field by field.
type DecisionReasoning struct {
	WaterStressAssessment string `json:"water_stress_assessment"`
	WeatherImpactAnalysis string `json:"weather_impact_analysis"`
	CropDemandAnalysis    string `json:"crop_demand_analysis"`
	WaterSavingStrategy   string `json:"water_saving_strategy"`
}

// DecisionDoc is the complete reasoning phase output.
type DecisionDoc struct {
	Decision          Decision          `json:"decision"`
	DecisionReasoning DecisionReasoning `json:"decision_reasoning"`
	ConfidenceScore   float64           `json:"confidence_score"`
}

// PendingDecision is an irrigation decision waiting for the operator.
// The runner holds at most one; a newer decision replaces an older one.
type PendingDecision struct {
	Doc       DecisionDoc
	Raw       string
	CreatedAt time.Time
}

// PhaseRunner drives the three-phase flow: perception gathers data,
// reasoning produces a decision, and actuation only happens after the
// operator confirms. Each phase runs in its own sub-conversation with
// its own tool allow-list.
type PhaseRunner struct {
	provider   llm.Provider
	catalog    *catalog.Catalog
	dispatcher *Dispatcher
	logger     *slog.Logger
	auditLog   *audit.Logger
	metrics    *observability.Metrics
	cfg        LoopConfig

	pending   *PendingDecision
	pendingMu sync.Mutex
}

// NewPhaseRunner builds a runner over the shared catalog and dispatcher.
func NewPhaseRunner(provider llm.Provider, cat *catalog.Catalog, dispatcher *Dispatcher, cfg LoopConfig, logger *slog.Logger) *PhaseRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	return &PhaseRunner{
		provider:   provider,
		catalog:    cat,
		dispatcher: dispatcher,
		logger:     logger.With("component", "phases"),
		cfg:        cfg,
	}
}

// SetAudit wires the audit trail.
func (r *PhaseRunner) SetAudit(a *audit.Logger) { r.auditLog = a }

// SetMetrics wires metrics collection.
func (r *PhaseRunner) SetMetrics(m *observability.Metrics) { r.metrics = m }

// Pending returns the decision waiting for confirmation, if any.
func (r *PhaseRunner) Pending() *PendingDecision {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending
}

// Run walks one request through perception and reasoning. When the
// decision calls for irrigation it is parked as the pending decision and
// the returned text asks the operator to confirm; the action phase only
// runs through Confirm.
func (r *PhaseRunner) Run(ctx context.Context, input string) (string, error) {
	perception, err := r.runPhase(ctx, PerceptionPrompt, PerceptionTools, []models.Message{
		models.NewUserMessage(input),
	})
	if err != nil {
		return "", fmt.Errorf("perception phase: %w", err)
	}
	r.logger.Debug("perception complete", "output_len", len(perception))

	reasoningInput := fmt.Sprintf("Operator request:\n%s\n\nPerception output:\n%s", input, perception)
	reasoning, err := r.runPhase(ctx, ReasoningPrompt, ReasoningTools, []models.Message{
		models.NewUserMessage(reasoningInput),
	})
	if err != nil {
		return "", fmt.Errorf("reasoning phase: %w", err)
	}

	doc, err := parseDecision(reasoning)
	if err != nil {
		r.logger.Warn("reasoning output is not a decision", "error", err)
		return fmt.Sprintf(
			"Warning: the reasoning stage did not produce a readable decision (%v). Raw output follows for manual review:\n%s",
			err, reasoning), nil
	}

	if !doc.Decision.Irrigate {
		r.clearPending()
		if r.auditLog != nil {
			r.auditLog.Decision(audit.EventDecisionRejected, map[string]any{
				"irrigate": false,
				"reason":   doc.DecisionReasoning.WaterStressAssessment,
			})
		}
		return fmt.Sprintf("No irrigation needed.\n\nAssessment: %s\nWeather: %s\nStrategy: %s",
			doc.DecisionReasoning.WaterStressAssessment,
			doc.DecisionReasoning.WeatherImpactAnalysis,
			doc.DecisionReasoning.WaterSavingStrategy), nil
	}

	r.setPending(&PendingDecision{Doc: *doc, Raw: reasoning, CreatedAt: time.Now()})
	if r.auditLog != nil {
		r.auditLog.Decision(audit.EventDecisionPending, map[string]any{
			"zone":         doc.Decision.Zone,
			"amount_mm":    doc.Decision.IrrigationAmountMM,
			"duration_min": doc.Decision.IrrigationDurationMin,
			"confidence":   doc.ConfidenceScore,
		})
	}

	return fmt.Sprintf(
		"Irrigation proposed for %s: %.1f mm over %.0f minutes (%s), confidence %.2f.\n\nAssessment: %s\n\nConfirm to proceed.",
		doc.Decision.Zone,
		doc.Decision.IrrigationAmountMM,
		doc.Decision.IrrigationDurationMin,
		doc.Decision.IrrigationTimeWindow,
		doc.ConfidenceScore,
		doc.DecisionReasoning.WaterStressAssessment), nil
}

// Confirm resolves the pending decision with the operator's answer. An
// affirmative answer runs the action phase with the stored decision;
// anything else cancels it. Either way the slot is cleared.
func (r *PhaseRunner) Confirm(ctx context.Context, answer string) (string, error) {
	r.pendingMu.Lock()
	pending := r.pending
	r.pending = nil
	r.pendingMu.Unlock()

	if pending == nil {
		return "There is no irrigation decision waiting for confirmation.", nil
	}

	if !IsAffirmative(answer) {
		r.logger.Info("operator rejected irrigation decision", "zone", pending.Doc.Decision.Zone)
		if r.auditLog != nil {
			r.auditLog.Decision(audit.EventDecisionRejected, map[string]any{
				"zone":   pending.Doc.Decision.Zone,
				"answer": answer,
			})
		}
		return "Understood, irrigation cancelled. No action was taken.", nil
	}

	if r.auditLog != nil {
		r.auditLog.Decision(audit.EventDecisionConfirmed, map[string]any{
			"zone":         pending.Doc.Decision.Zone,
			"amount_mm":    pending.Doc.Decision.IrrigationAmountMM,
			"duration_min": pending.Doc.Decision.IrrigationDurationMin,
		})
	}

	decisionJSON, _ := json.Marshal(pending.Doc)
	actionInput := fmt.Sprintf(
		"The operator confirmed the following irrigation decision. Execute it now.\n%s", decisionJSON)

	output, err := r.runPhase(ctx, ActionPrompt, ActionTools, []models.Message{
		models.NewUserMessage(actionInput),
	})
	if err != nil {
		return "", fmt.Errorf("action phase: %w", err)
	}
	return output, nil
}

// runPhase is a bounded loop over one sub-conversation with a restricted
// tool set.
func (r *PhaseRunner) runPhase(ctx context.Context, system string, allow []string, seed []models.Message) (string, error) {
	tools := r.catalog.OpenAITools(r.catalog.Filtered(allow))
	history := append([]models.Message{}, seed...)

	for cycle := 0; cycle < r.cfg.MaxCycles; cycle++ {
		assistant, err := r.complete(ctx, history, tools, system)
		if err != nil {
			return "", err
		}

		calls := assistant.ToolCalls
		if len(calls) == 0 {
			for _, call := range ExtractToolCalls(assistant.Content) {
				r.logger.Info("recovered tool intent from phase text", "tool", call.Name)
				if r.metrics != nil {
					r.metrics.RecordInterceptedCall(call.Name)
				}
				calls = append(calls, call)
			}
		}
		assistant.ToolCalls = calls
		history = append(history, assistant)

		if len(calls) == 0 {
			return assistant.Content, nil
		}

		results := r.dispatcher.DispatchAll(ctx, calls)
		history = append(history, models.NewToolResultMessage(results))

		if allErrors(results) {
			return AllErrorsDiagnostic, nil
		}
	}
	return MaxCyclesDiagnostic, nil
}

func (r *PhaseRunner) complete(ctx context.Context, history []models.Message, tools []openai.Tool, system string) (models.Message, error) {
	start := time.Now()

	fragments, err := r.provider.Stream(ctx, &llm.Request{
		System:      system,
		Messages:    history,
		Tools:       tools,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		r.recordLLM("error", start)
		return models.Message{}, fmt.Errorf("model stream: %w", err)
	}

	agg := NewAggregator()
	for frag := range fragments {
		if frag.Err != nil {
			r.recordLLM("error", start)
			return models.Message{}, fmt.Errorf("model stream: %w", frag.Err)
		}
		agg.Add(frag)
	}

	r.recordLLM("success", start)
	return agg.Message(), nil
}

func (r *PhaseRunner) recordLLM(status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordLLMRequest(r.provider.Name(), r.provider.Model(), status, time.Since(start).Seconds())
	}
}

func (r *PhaseRunner) setPending(p *PendingDecision) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if r.pending != nil {
		r.logger.Warn("replacing unconfirmed irrigation decision",
			"old_zone", r.pending.Doc.Decision.Zone,
			"new_zone", p.Doc.Decision.Zone)
	}
	r.pending = p
}

func (r *PhaseRunner) clearPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = nil
}

// parseDecision extracts the decision JSON from phase output, tolerating
// fences and surrounding prose.
func parseDecision(text string) (*DecisionDoc, error) {
	candidate := strings.TrimSpace(stripFences(text))
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reasoning output")
	}
	candidate = candidate[start : end+1]

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return nil, fmt.Errorf("decision JSON: %w", err)
	}
	if _, ok := probe["decision"]; !ok {
		return nil, fmt.Errorf("reasoning output has no decision field")
	}

	var doc DecisionDoc
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, fmt.Errorf("decision JSON: %w", err)
	}
	return &doc, nil
}
