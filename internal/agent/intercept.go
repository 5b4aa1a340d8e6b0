package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/farmmind/farmmind/pkg/models"
)

// ExtractToolCalls recovers tool intents that a model wrote as plain text
// instead of emitting through the function-calling channel. Strategies run
// in order and the first that yields anything wins: fenced code blocks,
// then a line scan, then the whole text with fences stripped. An empty
// result just means the text carried no intent.
func ExtractToolCalls(text string) []models.ToolCall {
	// Cheap gate: every intent payload names its "arguments" key.
	if !strings.Contains(text, "arguments") {
		return nil
	}

	var calls []models.ToolCall
	for _, block := range fencedBlocks(text) {
		calls = append(calls, ExtractToolCalls(block)...)
	}
	if len(calls) > 0 {
		return calls
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if call, ok := parseIntent(line); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) > 0 {
		return calls
	}

	if call, ok := parseIntent(strings.TrimSpace(stripFences(text))); ok {
		calls = append(calls, call)
	}
	return calls
}

// parseIntent accepts a JSON object with a non-empty "name" and an
// "arguments" key. Structured arguments re-serialize to their compact
// JSON; string-encoded arguments unwrap to the inner payload.
func parseIntent(s string) (models.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return models.ToolCall{}, false
	}

	nameRaw, hasName := obj["name"]
	argsRaw, hasArgs := obj["arguments"]
	if !hasName || !hasArgs {
		return models.ToolCall{}, false
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return models.ToolCall{}, false
	}

	arguments := string(argsRaw)
	var inner string
	if err := json.Unmarshal(argsRaw, &inner); err == nil {
		arguments = inner
	}

	return models.ToolCall{
		ID:         fmt.Sprintf("call_%s", uuid.New().String()),
		Name:       name,
		Arguments:  arguments,
		Provenance: models.ProvenanceInterceptedText,
	}, true
}

// fencedBlocks returns the bodies of ``` blocks, language tags dropped.
func fencedBlocks(text string) []string {
	var blocks []string
	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return blocks
		}
		rest := text[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}

		body := rest[:end]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			// The first line is the language tag, when present.
			if tag := strings.TrimSpace(body[:nl]); tag == "" || !strings.ContainsAny(tag, "{}") {
				body = body[nl+1:]
			}
		}
		blocks = append(blocks, body)
		text = rest[end+3:]
	}
}

// stripFences removes fence markers and language tags, keeping the text
// between them.
func stripFences(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
