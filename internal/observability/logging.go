package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" or "text". JSON for production, text for a
	// terminal.
	Format string `yaml:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line in records.
	AddSource bool `yaml:"add_source"`
}

// NewLogger builds the slog logger the whole engine hangs off of.
// Components receive it and tag themselves with With("component", ...).
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(handler)
}

// SetDefault installs the logger process-wide so packages that were not
// handed one still log consistently.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
