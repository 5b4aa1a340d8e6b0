package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config controls the audit trail.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr", or "file:<path>".
	Output string `yaml:"output"`

	// BufferSize is the async queue depth. Zero means 1000.
	BufferSize int `yaml:"buffer_size"`

	// MaxFieldSize truncates tool payloads in events. Zero means 1024.
	MaxFieldSize int `yaml:"max_field_size"`
}

// Logger writes audit events as JSON lines through an async buffer. A
// disabled logger accepts events and drops them, so call sites never
// need a nil check.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
	writeMu sync.Mutex
}

// NewLogger creates an audit logger for the config.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	l := &Logger{
		config:  config,
		output:  output,
		slogger: slog.New(slog.NewJSONHandler(output, nil)).With("component", "audit"),
		buffer:  make(chan *Event, config.BufferSize),
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Close flushes buffered events and releases the output.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log queues one event. When the buffer is full the event is written
// inline rather than dropped.
func (l *Logger) Log(event *Event) {
	if !l.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// ToolInvoked records a tool call entering the dispatcher.
func (l *Logger) ToolInvoked(toolName, toolCallID string, arguments string) {
	l.Log(&Event{
		Type:       EventToolInvocation,
		Level:      LevelInfo,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_invoked",
		Details:    map[string]any{"arguments": l.truncate(arguments)},
	})
}

// ToolCompleted records a finished tool call, success or not.
func (l *Logger) ToolCompleted(toolName, toolCallID string, success bool, output string, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	l.Log(&Event{
		Type:       EventToolCompletion,
		Level:      level,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_completed",
		Duration:   duration,
		Details: map[string]any{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
			"output":      l.truncate(output),
		},
	})
}

// ToolDenied records a call the operator declined at the high-risk gate.
func (l *Logger) ToolDenied(toolName, toolCallID, reason string) {
	l.Log(&Event{
		Type:       EventToolDenied,
		Level:      LevelWarn,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Action:     "tool_denied",
		Details:    map[string]any{"reason": reason},
	})
}

// Decision records an irrigation decision lifecycle event.
func (l *Logger) Decision(eventType EventType, details map[string]any) {
	l.Log(&Event{
		Type:    eventType,
		Level:   LevelInfo,
		Action:  "decision",
		Details: details,
	})
}

// ServerConnected records a provider coming up.
func (l *Logger) ServerConnected(serverID string) {
	l.Log(&Event{
		Type:     EventServerConnected,
		Level:    LevelInfo,
		ServerID: serverID,
		Action:   "server_connected",
	})
}

// ServerDisconnected records a provider going away.
func (l *Logger) ServerDisconnected(serverID string) {
	l.Log(&Event{
		Type:     EventServerDisconnected,
		Level:    LevelInfo,
		ServerID: serverID,
		Action:   "server_disconnected",
	})
}

// LoopTerminated records why an agent loop ended.
func (l *Logger) LoopTerminated(reason string, cycles int) {
	l.Log(&Event{
		Type:    EventLoopTerminated,
		Level:   LevelInfo,
		Action:  "loop_terminated",
		Details: map[string]any{"reason": reason, "cycles": cycles},
	})
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		l.slogger.Error("marshal audit event failed", "error", err)
		return
	}
	if _, err := l.output.Write(append(data, '\n')); err != nil {
		l.slogger.Error("write audit event failed", "error", err)
	}
}
