// Package catalog aggregates tool inventories from every connected
// provider into one flat, name-addressed registry for the model service
// and the dispatcher.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sashabaranov/go-openai"

	"github.com/farmmind/farmmind/internal/mcp"
)

// RefreshTimeout bounds one provider's tools/list during a refresh.
const RefreshTimeout = 5 * time.Second

// Entry is one tool in the registry, pinned to the provider that owns it.
type Entry struct {
	Tool     *mcp.Tool
	ServerID string

	schema *jsonschema.Schema
}

// ValidateArgs checks decoded arguments against the tool's input schema.
// Tools whose schema was absent or uncompilable accept anything.
func (e *Entry) ValidateArgs(args map[string]any) error {
	if e.schema == nil {
		return nil
	}
	// The validator wants plain decoded JSON values.
	var value any = map[string]any(args)
	if args == nil {
		value = map[string]any{}
	}
	if err := e.schema.Validate(value); err != nil {
		return fmt.Errorf("arguments for %s: %w", e.Tool.Name, err)
	}
	return nil
}

// Catalog is the flat tool registry. Tool names are global: when two
// providers expose the same name, the one refreshed later wins.
type Catalog struct {
	manager *mcp.Manager
	logger  *slog.Logger

	entries map[string]*Entry
	mu      sync.RWMutex
}

// New creates an empty catalog over the manager's sessions.
func New(manager *mcp.Manager, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		manager: manager,
		logger:  logger.With("component", "catalog"),
		entries: make(map[string]*Entry),
	}
}

// Refresh rebuilds the registry from every live session. A provider that
// fails to answer within RefreshTimeout is skipped and keeps no entries;
// the refresh itself never fails.
func (c *Catalog) Refresh(ctx context.Context) {
	sessions := c.manager.Sessions()

	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make(map[string]*Entry)
	for _, id := range ids {
		session := sessions[id]

		listCtx, cancel := context.WithTimeout(ctx, RefreshTimeout)
		tools, err := session.ListTools(listCtx)
		cancel()
		if err != nil {
			c.logger.Warn("provider did not answer tools/list, skipping",
				"server", id, "error", err)
			continue
		}

		for _, tool := range tools {
			if prev, ok := entries[tool.Name]; ok {
				c.logger.Warn("tool name collision, later provider wins",
					"tool", tool.Name,
					"loser", prev.ServerID,
					"winner", id)
			}
			entries[tool.Name] = &Entry{
				Tool:     tool,
				ServerID: id,
				schema:   c.compileSchema(id, tool),
			}
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Info("catalog refreshed", "providers", len(ids), "tools", len(entries))
}

// compileSchema compiles the tool's input schema for argument validation.
// An uncompilable schema downgrades to no validation rather than losing
// the tool.
func (c *Catalog) compileSchema(serverID string, tool *mcp.Tool) *jsonschema.Schema {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	url := fmt.Sprintf("catalog:///%s/%s.json", serverID, tool.Name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(tool.InputSchema)); err != nil {
		c.logger.Warn("tool schema rejected", "tool", tool.Name, "error", err)
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		c.logger.Warn("tool schema failed to compile", "tool", tool.Name, "error", err)
		return nil
	}
	return schema
}

// Resolve looks one tool up by name.
func (c *Catalog) Resolve(name string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// List returns every entry, sorted by tool name.
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// Filtered returns the entries whose names appear in allow, in catalog
// order. Names with no entry are ignored.
func (c *Catalog) Filtered(allow []string) []*Entry {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}

	// Never nil: an empty filter result must stay empty, not widen to
	// the whole catalog in OpenAITools.
	out := make([]*Entry, 0, len(allow))
	for _, e := range c.List() {
		if allowed[e.Tool.Name] {
			out = append(out, e)
		}
	}
	return out
}

// OpenAITools renders entries as chat-completion tool definitions.
// A nil entries slice means the whole catalog.
func (c *Catalog) OpenAITools(entries []*Entry) []openai.Tool {
	if entries == nil {
		entries = c.List()
	}

	out := make([]openai.Tool, 0, len(entries))
	for _, e := range entries {
		var params any
		if len(e.Tool.InputSchema) > 0 {
			params = json.RawMessage(e.Tool.InputSchema)
		} else {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        e.Tool.Name,
				Description: e.Tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Call resolves the tool and invokes it on the owning provider.
func (c *Catalog) Call(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	entry, ok := c.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	session, ok := c.manager.Session(entry.ServerID)
	if !ok {
		return nil, fmt.Errorf("tool %q: provider %s not connected", name, entry.ServerID)
	}
	return session.CallTool(ctx, name, args)
}

// Owner returns the configured descriptor of the provider that owns the
// tool, used for per-server knobs like the task-status tool name.
func (c *Catalog) Owner(name string) (*mcp.ServerConfig, bool) {
	entry, ok := c.Resolve(name)
	if !ok {
		return nil, false
	}
	session, ok := c.manager.Session(entry.ServerID)
	if !ok {
		return nil, false
	}
	return session.Config(), true
}
