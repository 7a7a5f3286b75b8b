package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal loggers into the pterm logger.
// pion's debug output is demoted to trace and its info to debug so that a
// normal run only shows warnings and errors from the WebRTC stack.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{prefix: fmt.Sprintf("[pion:%s] ", scope)}
}

type pionLogger struct {
	prefix string
}

// Below warning, pion output is only formatted while debug output is on.

func (l *pionLogger) Trace(msg string) { l.Tracef("%s", msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	if DebugEnabled() {
		LogTrace("%s%s", l.prefix, fmt.Sprintf(format, args...))
	}
}

func (l *pionLogger) Debug(msg string) { l.Debugf("%s", msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	if DebugEnabled() {
		LogTrace("%s%s", l.prefix, fmt.Sprintf(format, args...))
	}
}

func (l *pionLogger) Info(msg string) { l.Infof("%s", msg) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	if DebugEnabled() {
		LogDebug("%s%s", l.prefix, fmt.Sprintf(format, args...))
	}
}

func (l *pionLogger) Warn(msg string) { LogWarning("%s%s", l.prefix, msg) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	LogWarning("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) { LogError("%s%s", l.prefix, msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	LogError("%s%s", l.prefix, fmt.Sprintf(format, args...))
}
