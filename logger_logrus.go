package dualdb

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus entry to Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l. A nil l uses logrus.StandardLogger().
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[f.Key] = f.Value
	}
	return out
}

func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Error(msg)
}

func (l *LogrusLogger) With(fields ...Field) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

// SetLevel changes the level of the underlying logrus.Logger, so it affects every
// logger derived from it.
func (l *LogrusLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	case LogLevelInfo:
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	case LogLevelWarn:
		l.entry.Logger.SetLevel(logrus.WarnLevel)
	default:
		l.entry.Logger.SetLevel(logrus.ErrorLevel)
	}
}
