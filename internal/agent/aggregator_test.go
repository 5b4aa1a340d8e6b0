package agent

import (
	"strings"
	"testing"

	"github.com/farmmind/farmmind/internal/llm"
)

func TestAggregatorText(t *testing.T) {
	agg := NewAggregator()
	agg.Add(llm.StreamFragment{Text: "Hello, "})
	agg.Add(llm.StreamFragment{Reasoning: "thinking about it"})
	agg.Add(llm.StreamFragment{Text: "world."})

	if got := agg.Text(); got != "Hello, world." {
		t.Errorf("Text() = %q", got)
	}
	if got := agg.Reasoning(); got != "thinking about it" {
		t.Errorf("Reasoning() = %q", got)
	}

	msg := agg.Message()
	if msg.Content != "Hello, world." {
		t.Errorf("Message().Content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 0 {
		t.Errorf("Message().ToolCalls = %d, want 0", len(msg.ToolCalls))
	}
}

func TestAggregatorInterleavedCalls(t *testing.T) {
	agg := NewAggregator()

	// Two calls whose fragments arrive interleaved. The ID lands once,
	// the name and arguments arrive in pieces.
	agg.Add(llm.StreamFragment{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, ID: "call_a", Name: "start_"},
		{Index: 1, ID: "call_b", Name: "get_irrigation_status"},
	}})
	agg.Add(llm.StreamFragment{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, Name: "irrigation", Arguments: `{"zone`},
		{Index: 1, Arguments: `{}`},
	}})
	agg.Add(llm.StreamFragment{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, Arguments: `":3}`},
	}})

	msg := agg.Message()
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("got %d calls, want 2", len(msg.ToolCalls))
	}

	first := msg.ToolCalls[0]
	if first.ID != "call_a" || first.Name != "start_irrigation" {
		t.Errorf("first call = %+v", first)
	}
	if first.Arguments != `{"zone":3}` {
		t.Errorf("first arguments = %q", first.Arguments)
	}

	second := msg.ToolCalls[1]
	if second.Name != "get_irrigation_status" || second.Arguments != "{}" {
		t.Errorf("second call = %+v", second)
	}
}

func TestAggregatorDropsNamelessCall(t *testing.T) {
	agg := NewAggregator()
	agg.Add(llm.StreamFragment{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, ID: "call_x", Arguments: `{"zone":1}`},
		{Index: 1, ID: "call_y", Name: "search", Arguments: `{"query":"rain"}`},
	}})

	msg := agg.Message()
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("got %d calls, want 1", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Name != "search" {
		t.Errorf("kept call = %q", msg.ToolCalls[0].Name)
	}
}

func TestAggregatorGeneratesMissingID(t *testing.T) {
	agg := NewAggregator()
	agg.Add(llm.StreamFragment{ToolDeltas: []llm.ToolCallDelta{
		{Index: 0, Name: "search", Arguments: `{}`},
	}})

	msg := agg.Message()
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("got %d calls, want 1", len(msg.ToolCalls))
	}
	if !strings.HasPrefix(msg.ToolCalls[0].ID, "call_") {
		t.Errorf("generated ID = %q, want call_ prefix", msg.ToolCalls[0].ID)
	}
}
