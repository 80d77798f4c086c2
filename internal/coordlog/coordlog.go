// Package coordlog provides the coordinator's structured logging facade.
package coordlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Fields is the structured key-value payload attached to a log line,
// mirroring the teacher's LogEvent.Metadata shape.
type Fields map[string]any

// Logger is the small logging interface every package depends on. A
// single zerolog-backed implementation satisfies it; packages never
// import zerolog directly.
type Logger interface {
	Debug(message string, fields Fields)
	Info(message string, fields Fields)
	Warn(message string, fields Fields)
	Error(message string, fields Fields)
	With(fields Fields) Logger
}

type zeroLogger struct {
	logger zerolog.Logger
}

// New builds a Logger that writes pretty-printed console output to w,
// tagged with the coordinator's masterID.
func New(w io.Writer, masterID string) Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	zl := zerolog.New(console).With().Timestamp().Str("master", masterID).Logger()
	return &zeroLogger{logger: zl}
}

func (l *zeroLogger) event(ev *zerolog.Event, message string, fields Fields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

func (l *zeroLogger) Debug(message string, fields Fields) { l.event(l.logger.Debug(), message, fields) }
func (l *zeroLogger) Info(message string, fields Fields)  { l.event(l.logger.Info(), message, fields) }
func (l *zeroLogger) Warn(message string, fields Fields)  { l.event(l.logger.Warn(), message, fields) }
func (l *zeroLogger) Error(message string, fields Fields) { l.event(l.logger.Error(), message, fields) }

func (l *zeroLogger) With(fields Fields) Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zeroLogger{logger: ctx.Logger()}
}
