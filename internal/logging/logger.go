// Package logging is the agent's structured logger: zerolog underneath,
// key/value pairs on top so call sites read like
// logger.Info("Order placed", "symbol", sym, "qty", qty).
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, sink and format
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // stdout, stderr or a file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"`
	JSONFormat  bool   `json:"json_format"`
}

// Logger wraps a zerolog logger. The zero value is not usable; use New or Nop.
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// ParseLevel maps a config level onto zerolog. Unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to cfg.Output. A file that cannot be opened
// falls back to stdout.
func New(cfg *Config) *Logger {
	return NewWithWriter(sink(cfg.Output), cfg)
}

func sink(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// NewWithWriter builds a logger on w
func NewWithWriter(w io.Writer, cfg *Config) *Logger {
	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	b := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		b = b.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		b = b.CallerWithSkipFrameCount(3)
	}
	return &Logger{zl: b.Logger()}
}

// Nop discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Default is the process logger installed by SetDefault, or a JSON info
// logger on stdout if none was installed
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(&Config{Level: "info", Component: "app", JSONFormat: true})
	}
	return defaultLogger
}

// SetDefault installs l as the process logger
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Zerolog returns the underlying logger for packages that build events directly
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zl: fn(l.zl.With()).Logger()}
}

// WithComponent tags every line with the component name
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithField adds one fixed field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields adds several fixed fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithDuration records an elapsed time as a human-readable string
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("duration", d.String()) })
}

// emit appends alternating key/value pairs to e. A key that is not a string,
// or a trailing key without value, is logged under "extra".
func emit(e *zerolog.Event, msg string, kv []interface{}) {
	if e == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || i+1 == len(kv) {
			e.Interface("extra", kv[i])
			continue
		}
		field(e, key, kv[i+1])
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, key string, v interface{}) {
	switch x := v.(type) {
	case nil:
		e.Interface(key, nil)
	case error:
		e.Str(key, x.Error())
	case string:
		e.Str(key, x)
	case bool:
		e.Bool(key, x)
	case int:
		e.Int(key, x)
	case int64:
		e.Int64(key, x)
	case float64:
		e.Float64(key, x)
	case time.Duration:
		e.Str(key, x.String())
	case time.Time:
		e.Time(key, x)
	default:
		e.Interface(key, x)
	}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { emit(l.zl.Debug(), msg, kv) }

func (l *Logger) Info(msg string, kv ...interface{}) { emit(l.zl.Info(), msg, kv) }

func (l *Logger) Warn(msg string, kv ...interface{}) { emit(l.zl.Warn(), msg, kv) }

func (l *Logger) Error(msg string, kv ...interface{}) { emit(l.zl.Error(), msg, kv) }

// Fatal logs and exits with status 1
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	emit(l.zl.WithLevel(zerolog.FatalLevel), msg, kv)
	os.Exit(1)
}
