package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatConsole LogFormat = iota
	FormatJSON
)

// ParseLogFormat maps a config string to a LogFormat. Unknown values fall back to JSON.
func ParseLogFormat(format string) LogFormat {
	switch format {
	case "console", "text":
		return FormatConsole
	default:
		return FormatJSON
	}
}

// StructuredLogger provides structured logging with levels and fields, backed by zerolog.
type StructuredLogger struct {
	zl zerolog.Logger
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stderr,
		Format:        FormatJSON,
		IncludeCaller: false,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) *StructuredLogger {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if config.IncludeCaller {
		// two extra frames: the level method and log()
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	return &StructuredLogger{zl: ctx.Logger().Level(toZerologLevel(config.Level))}
}

func toZerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) Logger {
	return &StructuredLogger{zl: sl.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &StructuredLogger{zl: sl.zl.With().Fields(fields).Logger()}
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) Logger {
	return &StructuredLogger{zl: sl.zl.With().Str("component", component).Logger()}
}

// Zerolog exposes the underlying logger for callers that need zerolog directly.
func (sl *StructuredLogger) Zerolog() zerolog.Logger {
	return sl.zl
}

func (sl *StructuredLogger) log(ev *zerolog.Event, message string, fieldMaps []map[string]interface{}) {
	if len(fieldMaps) > 0 && fieldMaps[0] != nil {
		ev = ev.Fields(fieldMaps[0])
	}
	ev.Msg(message)
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(sl.zl.Debug(), message, fields)
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(sl.zl.Info(), message, fields)
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(sl.zl.Warn(), message, fields)
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(sl.zl.Error(), message, fields)
}
