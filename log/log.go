/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var exitHandler = func() { os.Exit(-1) }

var (
	instMu sync.RWMutex
	inst   Logger = &disabledLogger{}
)

// Logger represents a leveled logger.
type Logger interface {
	io.Closer

	// Level returns the minimum level this logger will write.
	Level() Level

	// Log writes an already formatted message.
	Log(level Level, msg string)
}

// Set sets the package logger instance.
func Set(l Logger) {
	instMu.Lock()
	inst = l
	instMu.Unlock()
}

// Unset closes the current logger and disables logging.
func Unset() {
	instMu.Lock()
	l := inst
	inst = &disabledLogger{}
	instMu.Unlock()

	_ = l.Close()
}

// Debugf logs a 'debug' message.
func Debugf(format string, args ...interface{}) {
	logf(DebugLevel, format, args...)
}

// Infof logs an 'info' message.
func Infof(format string, args ...interface{}) {
	logf(InfoLevel, format, args...)
}

// Warnf logs a 'warning' message.
func Warnf(format string, args ...interface{}) {
	logf(WarningLevel, format, args...)
}

// Errorf logs an 'error' message.
func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, format, args...)
}

// Error logs an 'error' value.
func Error(err error) {
	logf(ErrorLevel, "%v", err)
}

// Fatalf logs a 'fatal' message.
// Application will terminate after logging.
func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, format, args...)
	exitHandler()
}

func logf(level Level, format string, args ...interface{}) {
	instMu.RLock()
	l := inst
	instMu.RUnlock()

	if level < l.Level() {
		return
	}
	l.Log(level, fmt.Sprintf(format, args...))
}

type disabledLogger struct{}

func (*disabledLogger) Level() Level          { return OffLevel }
func (*disabledLogger) Log(_ Level, _ string) {}
func (*disabledLogger) Close() error           { return nil }
