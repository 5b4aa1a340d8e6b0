// Package web provides the HTTP front end: operator queries and
// confirmations, device telemetry endpoints, the live event socket, and
// metrics.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farmmind/farmmind/internal/mcp"
	"github.com/farmmind/farmmind/internal/observability"
)

// QueryTimeout bounds one operator query end to end, tool calls included.
const QueryTimeout = 120 * time.Second

// Agent is the piece of the orchestrator the front end drives.
type Agent interface {
	// Run processes one operator request to completion.
	Run(ctx context.Context, input string) (string, error)
	// Confirm resolves a pending irrigation decision.
	Confirm(ctx context.Context, answer string) (string, error)
}

// Config holds front-end configuration.
type Config struct {
	Host string
	Port int

	// Agent handles operator queries.
	Agent Agent
	// Manager supplies provider status for health reporting.
	Manager *mcp.Manager
	// Metrics instruments requests (optional).
	Metrics *observability.Metrics
	// Logger for request logging.
	Logger *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	config *Config
	logger *slog.Logger
	mux    *http.ServeMux
	hub    *Hub
	http   *http.Server
	start  time.Time

	mu      sync.RWMutex
	reading *SensorReading
	command string
	hasCmd  bool
}

// NewServer builds the front end and its routes.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "web"),
		mux:    http.NewServeMux(),
		hub:    NewHub(cfg.Logger),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Operator API.
	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/api/confirm", s.handleConfirm)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Device API: field hardware posts telemetry and polls for commands.
	s.mux.HandleFunc("/api/sensor/current", s.handleSensorCurrent)
	s.mux.HandleFunc("/upload_data", s.handleUploadData)
	s.mux.HandleFunc("/get_command", s.handleGetCommand)
	s.mux.HandleFunc("/api/command/update", s.handleCommandUpdate)

	// Live events and metrics.
	s.mux.HandleFunc("/ws", s.hub.HandleUpgrade)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.config.Metrics != nil {
		h = MetricsMiddleware(s.config.Metrics)(h)
	}
	return LoggingMiddleware(s.logger)(h)
}

// Hub exposes the event socket hub, e.g. for broadcasting agent output.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("front end listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
