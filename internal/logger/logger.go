// Package logger adapts charmbracelet/log to the service logging contract.
package logger

import (
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Level names accepted by Config.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config selects level, output and format.
type Config struct {
	Level      string    `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON       bool      `koanf:"json"`
	AddSource  bool      `koanf:"source"`
	TimeFormat string    `koanf:"time_format"`
	Output     io.Writer `koanf:"-"`
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, TimeFormat: "15:04:05"}
}

// Logger writes structured key/value records.
type Logger struct {
	charm *charmlog.Logger
}

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	charm := charmlog.NewWithOptions(out, charmlog.Options{
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           ParseLevel(cfg.Level),
		Prefix:          "farmcore",
	})
	if cfg.JSON {
		charm.SetFormatter(charmlog.JSONFormatter)
	} else {
		charm.SetFormatter(charmlog.TextFormatter)
	}
	return &Logger{charm: charm}
}

// ParseLevel maps a level name to the charm level.
func ParseLevel(name string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.charm.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.charm.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.charm.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.charm.Error(msg, keyvals...) }

// With returns a child logger carrying keyvals on every record.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{charm: l.charm.With(keyvals...)}
}
