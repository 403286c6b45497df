package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/config"
)

// ServiceName is the "service" attribute on every record.
const ServiceName = "devmgr"

// Logger is a *slog.Logger carrying the service and version attributes.
// It satisfies the Debug/Info/Warn/Error Logger interfaces that the
// lifecycle packages declare.
type Logger struct {
	*slog.Logger
}

// New creates a Logger on stdout, or stderr when cfg.Output says so.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter creates a Logger on w. cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog.New(h).With("service", ServiceName, "version", version)}
}

// parseLevel accepts the slog level names plus "warning". Anything else,
// including "", is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags a child logger with component=name.
//
//	hostLog := logger.Component("devhost").With("host", "sample_host")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
