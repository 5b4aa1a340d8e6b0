package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/farmmind/farmmind/internal/mcp"
)

// serversFile is the provider inventory on disk. JSON5 so operators can
// keep comments and trailing commas in it.
type serversFile struct {
	MCPServers map[string]serverEntry `json:"mcpServers"`
}

type serverEntry struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	WorkDir   string            `json:"cwd"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`

	TimeoutSeconds int      `json:"timeout_seconds"`
	MaxRetries     int      `json:"max_retries"`
	TaskStatusTool string   `json:"task_status_tool"`
	HighRiskTools  []string `json:"high_risk_tools"`

	Disabled bool `json:"disabled"`
}

// LoadServers reads the provider inventory. Entries come out sorted by
// ID so connection order is stable; disabled entries are dropped.
func LoadServers(path string) ([]*mcp.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var file serversFile
	if err := json5.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers file %s: %w", path, err)
	}
	if len(file.MCPServers) == 0 {
		return nil, fmt.Errorf("servers file %s has no mcpServers entries", path)
	}

	configs := make([]*mcp.ServerConfig, 0, len(file.MCPServers))
	for id, entry := range file.MCPServers {
		if entry.Disabled {
			continue
		}
		cfg := &mcp.ServerConfig{
			ID:             id,
			Transport:      mcp.TransportType(entry.Transport),
			Command:        entry.Command,
			Args:           entry.Args,
			Env:            entry.Env,
			WorkDir:        entry.WorkDir,
			URL:            entry.URL,
			Headers:        entry.Headers,
			MaxRetries:     entry.MaxRetries,
			TaskStatusTool: entry.TaskStatusTool,
			HighRiskTools:  entry.HighRiskTools,
		}
		if entry.TimeoutSeconds > 0 {
			cfg.Timeout = time.Duration(entry.TimeoutSeconds) * time.Second
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", id, err)
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}
