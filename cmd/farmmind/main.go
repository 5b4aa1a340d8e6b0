// Package main provides the CLI entry point for the FarmMind irrigation
// orchestrator.
//
// FarmMind drives an LLM-backed agent over a fleet of MCP tool providers
// (weather, field sensors, irrigation actuators, document search) to
// answer operator questions and carry out confirmed irrigation decisions.
//
// # Basic Usage
//
// Chat with the agent on a terminal:
//
//	farmmind chat
//
// Run the HTTP front end:
//
//	farmmind serve --config farmmind.yaml
//
// Check provider health:
//
//	farmmind status
//
// # Environment Variables
//
//   - OPENAI_API_KEY: API key for the model service
//   - OPENAI_BASE_URL: override for OpenAI-compatible endpoints
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "farmmind",
		Short: "FarmMind - LLM agent orchestrator for smart irrigation",
		Long: `FarmMind connects an LLM to field tool providers over MCP and runs
bounded agent loops on top of them: sensor perception, irrigation
reasoning, and operator-confirmed actuation.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildServeCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}
