// Package config loads the application configuration and the tool
// provider inventory.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/farmmind/farmmind/internal/audit"
	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/internal/observability"
)

// Config is the main configuration structure for FarmMind.
type Config struct {
	Web     WebConfig               `yaml:"web"`
	LLM     llm.OpenAIConfig        `yaml:"llm"`
	Agent   AgentConfig             `yaml:"agent"`
	Audit   audit.Config            `yaml:"audit"`
	Logging observability.LogConfig `yaml:"logging"`

	// ServersFile points at the provider inventory, mcp_servers.json by
	// default.
	ServersFile string `yaml:"servers_file"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AgentConfig struct {
	// Mode is "single" for the one-loop orchestrator or "phased" for
	// the perception/reasoning/action flow.
	Mode string `yaml:"mode"`

	MaxCycles   int     `yaml:"max_cycles"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	// HighRiskTools always require operator confirmation, on top of any
	// per-server lists.
	HighRiskTools []string `yaml:"high_risk_tools"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given. The
// model credentials come from the environment.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.LLM.BaseURL = base
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = "single"
	}
	if cfg.Agent.MaxCycles == 0 {
		cfg.Agent.MaxCycles = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.ServersFile == "" {
		cfg.ServersFile = "mcp_servers.json"
	}
}
