package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/farmmind/farmmind/internal/catalog"
	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/internal/mcp"
	"github.com/farmmind/farmmind/pkg/models"
)

// scriptedProvider replays canned fragment streams, one per Stream call.
// When the script runs out the last turn repeats.
type scriptedProvider struct {
	turns    [][]llm.StreamFragment
	calls    int
	requests []*llm.Request
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamFragment, error) {
	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.calls++

	frags := p.turns[idx]
	ch := make(chan llm.StreamFragment, len(frags)+1)
	for _, f := range frags {
		ch <- f
	}
	ch <- llm.StreamFragment{Done: true}
	close(ch)
	return ch, nil
}

func textTurn(text string) []llm.StreamFragment {
	return []llm.StreamFragment{{Text: text}}
}

func callTurn(name, args string) []llm.StreamFragment {
	return []llm.StreamFragment{{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, ID: "call_" + name, Name: name, Arguments: args},
	}}}
}

func newTestCatalog(t *testing.T, configs ...*mcp.ServerConfig) *catalog.Catalog {
	t.Helper()

	mgr := mcp.NewManager(configs, nil)
	t.Cleanup(mgr.CloseAll)
	mgr.LoadAll(context.Background())

	cat := catalog.New(mgr, nil)
	cat.Refresh(context.Background())
	return cat
}

func newTestLoop(t *testing.T, p llm.Provider, maxCycles int, configs ...*mcp.ServerConfig) *Loop {
	t.Helper()
	cat := newTestCatalog(t, configs...)
	return NewLoop(p, cat, NewDispatcher(cat, nil), LoopConfig{MaxCycles: maxCycles}, nil)
}

func TestLoopPlainTextCompletes(t *testing.T) {
	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		textTurn("The field does not need water today."),
	}}
	loop := newTestLoop(t, p, 0)

	out, err := loop.Run(context.Background(), "does the wheat need water?")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != "The field does not need water today." {
		t.Errorf("output = %q", out)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
	if loop.Conversation().Len() != 2 {
		t.Errorf("conversation has %d messages, want user + assistant", loop.Conversation().Len())
	}
}

func TestLoopDispatchesToolCalls(t *testing.T) {
	srv := newToolServer(t, `{"tools":[{"name":"get_irrigation_status"}]}`,
		map[string]toolBehavior{
			"get_irrigation_status": func(args map[string]any) (string, bool) {
				return "zone 3 idle, soil moisture 18%", false
			},
		})
	defer srv.Close()

	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		callTurn("get_irrigation_status", "{}"),
		textTurn("Moisture is low, irrigation is advisable."),
	}}
	loop := newTestLoop(t, p, 0, &mcp.ServerConfig{ID: "farm", Transport: mcp.TransportSSE, URL: srv.URL})

	out, err := loop.Run(context.Background(), "check the field")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != "Moisture is low, irrigation is advisable." {
		t.Errorf("output = %q", out)
	}

	// The second completion must see the tool result.
	if len(p.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.requests))
	}
	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != models.RoleTool {
		t.Fatalf("last message role = %q, want tool", last.Role)
	}
	if len(last.ToolResults) != 1 || !strings.Contains(last.ToolResults[0].Content, "soil moisture 18%") {
		t.Errorf("tool results = %+v", last.ToolResults)
	}
}

func TestLoopMaxCycles(t *testing.T) {
	srv := newToolServer(t, `{"tools":[{"name":"get_irrigation_status"}]}`,
		map[string]toolBehavior{
			"get_irrigation_status": func(args map[string]any) (string, bool) {
				return "idle", false
			},
		})
	defer srv.Close()

	// The model never stops asking for tools.
	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		callTurn("get_irrigation_status", "{}"),
	}}
	loop := newTestLoop(t, p, 3, &mcp.ServerConfig{ID: "farm", Transport: mcp.TransportSSE, URL: srv.URL})

	out, err := loop.Run(context.Background(), "check the field")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != MaxCyclesDiagnostic {
		t.Errorf("output = %q, want max-cycles diagnostic", out)
	}
	if p.calls != 3 {
		t.Errorf("provider called %d times, want 3", p.calls)
	}
}

func TestLoopAllToolCallsFailed(t *testing.T) {
	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		callTurn("nonexistent", "{}"),
		textTurn("should never get here"),
	}}
	loop := newTestLoop(t, p, 0)

	out, err := loop.Run(context.Background(), "do something")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != AllErrorsDiagnostic {
		t.Errorf("output = %q, want all-errors diagnostic", out)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
}

func TestLoopInterceptsTextIntent(t *testing.T) {
	var served atomic.Bool
	srv := newToolServer(t, `{"tools":[{"name":"get_irrigation_status"}]}`,
		map[string]toolBehavior{
			"get_irrigation_status": func(args map[string]any) (string, bool) {
				served.Store(true)
				return "idle", false
			},
		})
	defer srv.Close()

	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		textTurn("I'll check:\n```json\n{\"name\": \"get_irrigation_status\", \"arguments\": {}}\n```"),
		textTurn("All zones idle."),
	}}
	loop := newTestLoop(t, p, 0, &mcp.ServerConfig{ID: "farm", Transport: mcp.TransportSSE, URL: srv.URL})

	out, err := loop.Run(context.Background(), "status?")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != "All zones idle." {
		t.Errorf("output = %q", out)
	}
	if !served.Load() {
		t.Error("intercepted call never reached the provider")
	}

	assistant := loop.Conversation().History()[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Provenance != models.ProvenanceInterceptedText {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
}

func TestLoopForcesSearchOnRefusal(t *testing.T) {
	var query atomic.Value
	srv := newToolServer(t, `{"tools":[{"name":"search"}]}`,
		map[string]toolBehavior{
			"search": func(args map[string]any) (string, bool) {
				q, _ := args["query"].(string)
				query.Store(q)
				return "winter wheat at jointing needs 60-80mm per event", false
			},
		})
	defer srv.Close()

	p := &scriptedProvider{turns: [][]llm.StreamFragment{
		textTurn("I'm sorry, I cannot search the internet for current agronomy guidance."),
		textTurn("Based on the search results, plan 70mm."),
	}}
	loop := newTestLoop(t, p, 0, &mcp.ServerConfig{ID: "docs", Transport: mcp.TransportSSE, URL: srv.URL})

	input := "how much water does jointing wheat need?"
	out, err := loop.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out != "Based on the search results, plan 70mm." {
		t.Errorf("output = %q", out)
	}
	if got, _ := query.Load().(string); got != input {
		t.Errorf("forced query = %q, want the operator input", got)
	}

	assistant := loop.Conversation().History()[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Provenance != models.ProvenanceForced {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
}

func TestLoopStreamErrorSurfaces(t *testing.T) {
	p := &errProvider{}
	loop := newTestLoop(t, p, 0)

	if _, err := loop.Run(context.Background(), "status?"); err == nil {
		t.Fatal("stream error must surface")
	}
}

type errProvider struct{}

func (errProvider) Name() string  { return "err" }
func (errProvider) Model() string { return "err" }

func (errProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamFragment, error) {
	ch := make(chan llm.StreamFragment, 1)
	ch <- llm.StreamFragment{Err: fmt.Errorf("connection reset")}
	close(ch)
	return ch, nil
}
