package logging

import (
	"fmt"
	"log"
	"strings"
)

// Logger is the structured logging surface used by library packages.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F creates a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger writes through the standard log package.
type StdLogger struct {
	min    Level
	logger *log.Logger
}

// New returns a StdLogger that drops lines below min. A nil logger means log.Default().
func New(min Level, l *log.Logger) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{min: min, logger: l}
}

func (l *StdLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, "DEBUG", msg, fields) }
func (l *StdLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, "INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, "WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.log(LevelError, "ERROR", msg, fields) }

func (l *StdLogger) log(level Level, tag, msg string, fields []Field) {
	if level < l.min {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", tag, msg)
	if len(fields) > 0 {
		b.WriteString(" {")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", f.Key, f.Value)
		}
		b.WriteString("}")
	}
	l.logger.Println(b.String())
}

// NoOp discards everything. Useful for tests.
type NoOp struct{}

func (NoOp) Debug(string, ...Field) {}
func (NoOp) Info(string, ...Field)  {}
func (NoOp) Warn(string, ...Field)  {}
func (NoOp) Error(string, ...Field) {}
