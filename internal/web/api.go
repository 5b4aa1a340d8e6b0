package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/farmmind/farmmind/internal/mcp"
)

// QueryRequest is the operator's question or instruction.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse carries the agent's answer.
type QueryResponse struct {
	Response string `json:"response"`
	Elapsed  string `json:"elapsed"`
}

// ConfirmRequest is the operator's answer to a pending decision.
type ConfirmRequest struct {
	Answer string `json:"answer"`
}

// HealthResponse reports process and provider health.
type HealthResponse struct {
	Status        string             `json:"status"`
	Uptime        string             `json:"uptime"`
	GoVersion     string             `json:"go_version"`
	NumGoroutines int                `json:"num_goroutines"`
	Servers       []mcp.ServerStatus `json:"servers"`
}

// SensorReading is one telemetry report from field hardware. Fields
// beyond the common set ride along in Extra.
type SensorReading struct {
	DeviceID     string         `json:"device_id"`
	Timestamp    time.Time      `json:"timestamp"`
	SoilMoisture float64        `json:"soil_moisture"`
	Temperature  float64        `json:"temperature"`
	Humidity     float64        `json:"humidity"`
	Extra        map[string]any `json:"extra,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.config.Agent == nil {
		s.jsonError(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.jsonError(w, "body must be {\"query\": \"...\"}", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), QueryTimeout)
	defer cancel()

	start := time.Now()
	answer, err := s.config.Agent.Run(ctx, req.Query)
	if err != nil {
		s.logger.Error("query failed", "error", err)
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.hub.Broadcast(Event{Type: "agent.response", Payload: answer})
	s.writeJSON(w, http.StatusOK, QueryResponse{
		Response: answer,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.config.Agent == nil {
		s.jsonError(w, "agent not configured", http.StatusServiceUnavailable)
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "body must be {\"answer\": \"...\"}", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), QueryTimeout)
	defer cancel()

	answer, err := s.config.Agent.Confirm(ctx, req.Answer)
	if err != nil {
		s.logger.Error("confirm failed", "error", err)
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.hub.Broadcast(Event{Type: "agent.response", Payload: answer})
	s.writeJSON(w, http.StatusOK, QueryResponse{Response: answer})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:        "ok",
		Uptime:        time.Since(s.start).Round(time.Second).String(),
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
	}
	if s.config.Manager != nil {
		resp.Servers = s.config.Manager.Status()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensorCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	reading := s.reading
	s.mu.RUnlock()

	if reading == nil {
		s.jsonError(w, "no sensor data yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reading SensorReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		s.jsonError(w, "invalid sensor payload", http.StatusBadRequest)
		return
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.reading = &reading
	s.mu.Unlock()

	s.logger.Debug("sensor reading stored",
		"device", reading.DeviceID, "soil_moisture", reading.SoilMoisture)
	s.hub.Broadcast(Event{Type: "sensor.update", Payload: reading})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetCommand hands the pending actuator command to the polling
// device. A command is delivered once.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	command, has := s.command, s.hasCmd
	s.command, s.hasCmd = "", false
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"command":     command,
		"has_command": has,
	})
}

func (s *Server) handleCommandUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		s.jsonError(w, "body must be {\"command\": \"...\"}", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.command, s.hasCmd = req.Command, true
	s.mu.Unlock()

	s.logger.Info("actuator command queued", "command", req.Command)
	s.hub.Broadcast(Event{Type: "command.update", Payload: req.Command})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
