// Package agent turns streamed model output into tool invocations and
// runs the bounded loops that drive them.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/pkg/models"
)

// Aggregator folds stream fragments into one assistant message. Tool
// call fragments arrive interleaved across calls; the index pins each
// fragment to its call, and argument chunks concatenate in arrival
// order. Not safe for concurrent use.
type Aggregator struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     map[int]*models.ToolCall
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		calls: make(map[int]*models.ToolCall),
	}
}

// Add folds one fragment in.
func (a *Aggregator) Add(frag llm.StreamFragment) {
	a.text.WriteString(frag.Text)
	a.reasoning.WriteString(frag.Reasoning)

	for _, delta := range frag.ToolDeltas {
		call, ok := a.calls[delta.Index]
		if !ok {
			call = &models.ToolCall{Provenance: models.ProvenanceStructured}
			a.calls[delta.Index] = call
		}
		if delta.ID != "" {
			call.ID = delta.ID
		}
		if delta.Name != "" {
			call.Name += delta.Name
		}
		// Argument chunks always extend, never replace.
		call.Arguments += delta.Arguments
	}
}

// Text returns the text accumulated so far.
func (a *Aggregator) Text() string {
	return a.text.String()
}

// Reasoning returns the reasoning deltas accumulated so far.
func (a *Aggregator) Reasoning() string {
	return a.reasoning.String()
}

// Message renders the final assistant message. Calls come out in index
// order; a call that never received a name is dropped, and a call the
// service never gave an ID gets a generated one so results can be paired
// with it.
func (a *Aggregator) Message() models.Message {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var calls []models.ToolCall
	for _, i := range indexes {
		call := a.calls[i]
		if call.Name == "" {
			continue
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%s", uuid.New().String())
		}
		calls = append(calls, *call)
	}

	return models.NewAssistantMessage(a.text.String(), calls)
}
