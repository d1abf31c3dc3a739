package dualdb

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Categories attached through WithCategory.
const (
	CategoryDatabase = "database"
	CategorySchema   = "schema"
	CategoryCatalog  = "catalog"
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LogLevelDebug || l > LogLevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel maps "debug", "info", "warn"/"warning" and "error" to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the structured logger every adapter and the dispatcher write to.
// NewWriterLogger is the plain implementation; NewLogrusLogger adapts logrus.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every line.
	With(fields ...Field) Logger
	SetLevel(level LogLevel)
}

// WithCategory returns a logger whose lines carry category=cat.
// A nil logger becomes a NoopLogger.
func WithCategory(logger Logger, cat string) Logger {
	if logger == nil {
		return NewNoopLogger()
	}
	return logger.With(String("category", cat))
}

// Field is one key=value pair of a log line.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field             { return Field{key, value} }
func Int(key string, value int) Field            { return Field{key, value} }
func Int64(key string, value int64) Field        { return Field{key, value} }
func Float64(key string, value float64) Field    { return Field{key, value} }
func Bool(key string, value bool) Field          { return Field{key, value} }
func Error(err error) Field                      { return Field{"error", err} }
func Duration(key string, d time.Duration) Field { return Field{key, d} }
func Any(key string, value interface{}) Field    { return Field{key, value} }

// DefaultLogger writes "[LEVEL] msg | k=v ..." lines through the standard log package.
type DefaultLogger struct {
	logger   *log.Logger
	mu       *sync.RWMutex
	minLevel *LogLevel
	fields   []Field
}

// NewDefaultLogger writes to stdout.
func NewDefaultLogger(minLevel LogLevel) *DefaultLogger {
	return NewWriterLogger(os.Stdout, minLevel)
}

func NewWriterLogger(w io.Writer, minLevel LogLevel) *DefaultLogger {
	lvl := minLevel
	return &DefaultLogger{
		logger:   log.New(w, "", log.LstdFlags),
		mu:       &sync.RWMutex{},
		minLevel: &lvl,
	}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.emit(LogLevelDebug, msg, fields) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.emit(LogLevelInfo, msg, fields) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.emit(LogLevelWarn, msg, fields) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.emit(LogLevelError, msg, fields) }

// With shares the level with its parent, so SetLevel on either affects both.
func (l *DefaultLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append([]Field(nil), l.fields...), fields...)
	return &child
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	*l.minLevel = level
	l.mu.Unlock()
}

func (l *DefaultLogger) emit(level LogLevel, msg string, fields []Field) {
	l.mu.RLock()
	floor := *l.minLevel
	l.mu.RUnlock()
	if level < floor {
		return
	}

	var b strings.Builder
	b.WriteString("[" + level.String() + "] " + msg)
	if len(l.fields)+len(fields) > 0 {
		b.WriteString(" |")
	}
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
		}
	}
	l.logger.Println(b.String())
}

// NoopLogger discards everything.
type NoopLogger struct{}

func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
func (n *NoopLogger) With(fields ...Field) Logger       { return n }
func (n *NoopLogger) SetLevel(level LogLevel)           {}
