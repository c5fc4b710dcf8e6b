// Package logging wraps logrus into the Report/Debugf split the
// original controller has: Report is always-on audit trail (online,
// sync results, grants, denials, persistent-toggle changes); Debugf
// only emits when the SIGWINCH debug toggle is active.
package logging

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled logger with a runtime-togglable debug flag.
type Logger struct {
	base  *logrus.Logger
	debug atomic.Bool
}

// New builds a Logger writing structured fields, defaulting to
// info-level reporting with debug output disabled.
func New() *Logger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	return &Logger{base: base}
}

// SetDebug enables or disables Debugf output. It is safe to call
// concurrently with logging calls (the SIGWINCH handler calls this).
func (l *Logger) SetDebug(enabled bool) {
	l.debug.Store(enabled)
	if enabled {
		l.base.SetLevel(logrus.DebugLevel)
	} else {
		l.base.SetLevel(logrus.InfoLevel)
	}
}

// DebugEnabled reports the current debug-toggle state.
func (l *Logger) DebugEnabled() bool { return l.debug.Load() }

// Report logs an always-on audit-trail line, with optional structured
// fields, at Info level. This is the syslog-equivalent of the
// original's report().
func (l *Logger) Report(msg string, fields logrus.Fields) {
	if fields != nil {
		l.base.WithFields(fields).Info(msg)
	} else {
		l.base.Info(msg)
	}
}

// Debugf logs a formatted message at Debug level; it is a no-op
// (cost of formatting aside) unless SetDebug(true) has been called.
func (l *Logger) Debugf(format string, args ...any) {
	l.base.Debugf(format, args...)
}

// Warnf logs a non-fatal error condition (corrupt cache/log files,
// config reload failures, custom-format load failures).
func (l *Logger) Warnf(format string, args ...any) {
	l.base.Warnf(format, args...)
}

// Errorf logs a serious but non-fatal condition.
func (l *Logger) Errorf(format string, args ...any) {
	l.base.Errorf(format, args...)
}

// Fatalf logs and exits the process — reserved for startup
// configuration/GPIO errors, per spec.md §7.
func (l *Logger) Fatalf(format string, args ...any) {
	l.base.Fatalf(format, args...)
}
