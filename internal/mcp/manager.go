package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/farmmind/farmmind/internal/backoff"
	"github.com/farmmind/farmmind/internal/observability"
)

// Manager supervises sessions to every configured tool provider.
//
// Connection establishment is deliberately sequential and best-effort: a
// provider that cannot be reached is recorded and skipped, never fatal to
// the rest of the fleet.
type Manager struct {
	configs []*ServerConfig
	logger  *slog.Logger
	policy  backoff.Policy
	metrics *observability.Metrics

	sessions map[string]*Session
	spawned  map[string]*exec.Cmd
	mu       sync.RWMutex
}

// ConnectionFailure records why one provider could not be brought up.
type ConnectionFailure struct {
	ServerID string `json:"server_id"`
	Reason   string `json:"reason"`
}

// Report summarizes a LoadAll pass.
type Report struct {
	Connected []string            `json:"connected"`
	Failed    []ConnectionFailure `json:"failed"`
}

// NewManager creates a manager for the descriptors.
func NewManager(configs []*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:  configs,
		logger:   logger.With("component", "mcp"),
		policy:   backoff.ConnectPolicy(),
		sessions: make(map[string]*Session, len(configs)),
		spawned:  make(map[string]*exec.Cmd),
	}
}

// SetMetrics wires connection metrics. Call before LoadAll.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// LoadAll connects to every configured provider in order. Descriptors that
// fail validation are skipped without retry; reachable-looking ones get the
// full retry ladder.
func (m *Manager) LoadAll(ctx context.Context) *Report {
	report := &Report{}

	for _, cfg := range m.configs {
		if err := cfg.Validate(); err != nil {
			m.logger.Error("invalid server descriptor", "server", cfg.ID, "error", err)
			report.Failed = append(report.Failed, ConnectionFailure{
				ServerID: cfg.ID,
				Reason:   fmt.Sprintf("invalid descriptor: %v", err),
			})
			continue
		}

		if err := m.connect(ctx, cfg); err != nil {
			m.logger.Error("provider unavailable", "server", cfg.ID, "error", err)
			if m.metrics != nil {
				m.metrics.RecordConnectionAttempt(cfg.ID, "failed")
			}
			report.Failed = append(report.Failed, ConnectionFailure{
				ServerID: cfg.ID,
				Reason:   err.Error(),
			})
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordConnectionAttempt(cfg.ID, "connected")
		}
		report.Connected = append(report.Connected, cfg.ID)
	}

	if m.metrics != nil {
		m.metrics.ConnectedServers.Set(float64(len(report.Connected)))
	}
	m.logger.Info("provider fleet loaded",
		"connected", len(report.Connected),
		"failed", len(report.Failed))
	return report
}

// connect brings up one provider, retrying with strictly increasing delays.
func (m *Manager) connect(ctx context.Context, cfg *ServerConfig) error {
	m.mu.RLock()
	_, exists := m.sessions[cfg.ID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	if cfg.EffectiveTransport() == TransportSSE {
		if err := m.ensureReachable(ctx, cfg); err != nil {
			return err
		}
	}

	var session *Session
	err := backoff.Retry(ctx, m.policy, cfg.EffectiveMaxRetries(), func(attempt int) error {
		if attempt > 1 {
			m.logger.Info("retrying connection", "server", cfg.ID, "attempt", attempt)
		}

		s := NewSession(cfg, m.logger)
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.EffectiveTimeout())
		defer cancel()

		if err := s.Connect(attemptCtx); err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[cfg.ID] = session
	m.mu.Unlock()
	return nil
}

// ensureReachable probes a network provider and, when the descriptor also
// carries a command, spawns it and waits through the startup window for the
// endpoint to come alive.
func (m *Manager) ensureReachable(ctx context.Context, cfg *ServerConfig) error {
	if probeEndpoint(ctx, cfg.URL) {
		return nil
	}
	if cfg.Command == "" {
		return fmt.Errorf("server %s: endpoint %s unreachable and no command to start it", cfg.ID, cfg.URL)
	}

	m.logger.Info("endpoint unreachable, starting provider process",
		"server", cfg.ID, "command", cfg.Command)

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("server %s: start command: %w", cfg.ID, err)
	}

	if err := m.waitAlive(ctx, cfg.URL); err != nil {
		terminateProcess(cmd, m.logger.With("server", cfg.ID))
		return fmt.Errorf("server %s: %w", cfg.ID, err)
	}

	m.mu.Lock()
	m.spawned[cfg.ID] = cmd
	m.mu.Unlock()
	return nil
}

// waitAlive polls the endpoint until it answers or the startup window ends.
func (m *Manager) waitAlive(ctx context.Context, url string) error {
	deadline := time.Now().Add(StartupWindow)
	for time.Now().Before(deadline) {
		if probeEndpoint(ctx, url) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("endpoint %s did not come up within %v", url, StartupWindow)
}

// probeEndpoint reports whether the endpoint answers HTTP at all. Any
// response, including an error status, counts as alive.
func probeEndpoint(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// CloseAll tears down every session and every process the manager spawned.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		if err := session.Close(); err != nil {
			m.logger.Error("close session failed", "server", id, "error", err)
		}
		delete(m.sessions, id)
	}
	for id, cmd := range m.spawned {
		terminateProcess(cmd, m.logger.With("server", id))
		delete(m.spawned, id)
	}
	if m.metrics != nil {
		m.metrics.ConnectedServers.Set(0)
	}
}

// Session returns the session for one provider.
func (m *Manager) Session(serverID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[serverID]
	return s, ok
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() map[string]*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		result[id] = s
	}
	return result
}

// ServerStatus describes one configured provider for status surfaces.
type ServerStatus struct {
	ID        string     `json:"id"`
	Transport string     `json:"transport"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// Status reports every configured provider, connected or not.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.configs))
	for _, cfg := range m.configs {
		status := ServerStatus{
			ID:        cfg.ID,
			Transport: string(cfg.EffectiveTransport()),
		}
		if s, ok := m.sessions[cfg.ID]; ok {
			status.Connected = s.Connected()
			status.Server = s.ServerInfo()
			status.Tools = len(s.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}
