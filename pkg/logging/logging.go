// Package logging provides the structured logger shared by every layer of
// the protocol core. It is a thin wrapper over logrus, following the same
// "one small package per ambient concern" shape as pkg/errors and pkg/buffer.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used throughout the core.
type Logger struct {
	entry *logrus.Entry
}

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the package-wide minimum log level.
func SetLevel(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lv)
}

// New returns a Logger scoped to component, e.g. "http1", "http2", "ws".
func New(component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

// With returns a derived Logger carrying an additional field (connection
// id, stream id, etc).
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// ProtocolError logs a protocol-level error at warn level when enabled is
// true (spec.md §4.2 `log_protocol_errors`, §7 taxonomy).
func (l *Logger) ProtocolError(enabled bool, op string, err error) {
	if !enabled || err == nil {
		return
	}
	l.entry.WithField("op", op).WithError(err).Warn("protocol error")
}
