package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farmmind/farmmind/internal/agent"
	"github.com/farmmind/farmmind/internal/audit"
	"github.com/farmmind/farmmind/internal/catalog"
	"github.com/farmmind/farmmind/internal/config"
	"github.com/farmmind/farmmind/internal/llm"
	"github.com/farmmind/farmmind/internal/mcp"
	"github.com/farmmind/farmmind/internal/observability"
	"github.com/farmmind/farmmind/internal/web"
)

// app is the assembled engine: providers connected, catalog refreshed,
// model client ready.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	auditLog *audit.Logger
	manager  *mcp.Manager
	catalog  *catalog.Catalog
	provider *llm.OpenAIProvider
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat("farmmind.yaml"); err == nil {
			path = "farmmind.yaml"
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// setup brings the engine up. Providers that cannot be reached are
// reported and skipped; the rest of the fleet still comes up.
func setup(ctx context.Context, configPath string, debug bool) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	observability.SetDefault(logger)

	metrics := observability.NewMetrics()

	auditLog, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	servers, err := config.LoadServers(cfg.ServersFile)
	if err != nil {
		return nil, err
	}

	manager := mcp.NewManager(servers, logger)
	manager.SetMetrics(metrics)
	report := manager.LoadAll(ctx)
	for _, id := range report.Connected {
		auditLog.ServerConnected(id)
	}
	for _, failure := range report.Failed {
		logger.Warn("provider skipped", "server", failure.ServerID, "reason", failure.Reason)
	}

	cat := catalog.New(manager, logger)
	cat.Refresh(ctx)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		auditLog: auditLog,
		manager:  manager,
		catalog:  cat,
		provider: llm.NewOpenAIProvider(cfg.LLM, logger),
	}, nil
}

func (a *app) close() {
	for _, status := range a.manager.Status() {
		if status.Connected {
			a.auditLog.ServerDisconnected(status.ID)
		}
	}
	a.manager.CloseAll()
	if err := a.auditLog.Close(); err != nil {
		a.logger.Warn("audit log close failed", "error", err)
	}
}

func (a *app) loopConfig() agent.LoopConfig {
	return agent.LoopConfig{
		MaxCycles:   a.cfg.Agent.MaxCycles,
		MaxTokens:   a.cfg.Agent.MaxTokens,
		Temperature: a.cfg.Agent.Temperature,
	}
}

func (a *app) newDispatcher(confirmer agent.Confirmer) *agent.Dispatcher {
	opts := []agent.DispatcherOption{
		agent.WithHighRiskTools(a.cfg.Agent.HighRiskTools),
		agent.WithAudit(a.auditLog),
		agent.WithMetrics(a.metrics),
	}
	if confirmer != nil {
		opts = append(opts, agent.WithConfirmer(confirmer))
	}
	return agent.NewDispatcher(a.catalog, a.logger, opts...)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildServeCmd creates the "serve" command that starts the HTTP front
// end.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FarmMind HTTP front end",
		Long: `Start the HTTP front end: the operator query API, device telemetry
endpoints, the live event socket, and Prometheus metrics.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  farmmind serve

  # Start with custom config
  farmmind serve --config /etc/farmmind/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(configPath string, debug bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, configPath, debug)
	if err != nil {
		return err
	}
	defer a.close()

	// The front end confirms through the API, never on a terminal.
	dispatcher := a.newDispatcher(nil)

	var webAgent web.Agent
	if a.cfg.Agent.Mode == "phased" {
		runner := agent.NewPhaseRunner(a.provider, a.catalog, dispatcher, a.loopConfig(), a.logger)
		runner.SetAudit(a.auditLog)
		runner.SetMetrics(a.metrics)
		webAgent = runner
	} else {
		loop := agent.NewLoop(a.provider, a.catalog, dispatcher, a.loopConfig(), a.logger)
		loop.SetAudit(a.auditLog)
		loop.SetMetrics(a.metrics)
		webAgent = &singleAgent{loop: loop}
	}

	server := web.NewServer(&web.Config{
		Host:    a.cfg.Web.Host,
		Port:    a.cfg.Web.Port,
		Agent:   webAgent,
		Manager: a.manager,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	return server.Start(ctx)
}

// singleAgent adapts the one-loop orchestrator to the front end's
// interface: a confirmation answer is just the next operator message.
type singleAgent struct {
	loop *agent.Loop
}

func (s *singleAgent) Run(ctx context.Context, input string) (string, error) {
	return s.loop.Run(ctx, input)
}

func (s *singleAgent) Confirm(ctx context.Context, answer string) (string, error) {
	return s.loop.Run(ctx, answer)
}

// buildStatusCmd creates the "status" command.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect to the provider fleet and report its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runStatus(configPath string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, status := range a.manager.Status() {
		state := red("unreachable")
		if status.Connected {
			state = green("connected")
		}
		fmt.Printf("%-20s %-6s %s", status.ID, status.Transport, state)
		if status.Connected {
			fmt.Printf("  %s %s, %d tools", status.Server.Name, status.Server.Version, status.Tools)
		}
		fmt.Println()
	}

	tools := a.catalog.List()
	fmt.Printf("\n%d tools available\n", len(tools))
	for _, entry := range tools {
		fmt.Printf("  %-30s (%s) %s\n", entry.Tool.Name, entry.ServerID, entry.Tool.Description)
	}
	return nil
}
