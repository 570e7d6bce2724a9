package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger - структурированный логгер с парами ключ/значение.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	Fatal(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type charmLogger struct {
	l *log.Logger
}

// New создает логгер, пишущий в stderr с указанным уровнем.
func New(level string) Logger {
	return NewWithWriter(os.Stderr, level)
}

func NewWithWriter(w io.Writer, level string) Logger {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	return &charmLogger{l: l}
}

// NewNop возвращает логгер, который ничего не пишет (для тестов).
func NewNop() Logger {
	return NewWithWriter(io.Discard, "error")
}

func (c *charmLogger) Debug(msg string, keyvals ...interface{}) {
	c.l.Debug(msg, keyvals...)
}

func (c *charmLogger) Info(msg string, keyvals ...interface{}) {
	c.l.Info(msg, keyvals...)
}

func (c *charmLogger) Warn(msg string, keyvals ...interface{}) {
	c.l.Warn(msg, keyvals...)
}

func (c *charmLogger) Error(msg string, keyvals ...interface{}) {
	c.l.Error(msg, keyvals...)
}

func (c *charmLogger) Fatal(msg string, keyvals ...interface{}) {
	c.l.Fatal(msg, keyvals...)
}

func (c *charmLogger) With(keyvals ...interface{}) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}
