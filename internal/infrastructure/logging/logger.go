package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
)

// Logger wraps slog.Logger; every record carries the service and
// version default fields.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging config section: level filter,
// output destination, and handler format. Format "human"/"text" gives
// a text handler, "both" fans a record out to JSON and text
// simultaneously (JSON for the log shipper, text for the operator
// watching the console), anything else JSON.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "human", "text":
		handler = slog.NewTextHandler(output, opts)
	case "both":
		handler = newFanoutHandler(
			slog.NewJSONHandler(output, opts),
			slog.NewTextHandler(output, opts),
		)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "cync-bridge"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a config string to a slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger with extra default attributes:
//
//	transportLog := logger.With("component", "transport")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the pre-configuration logger used during early startup
// and in tests: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
