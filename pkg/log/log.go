// Copyright 2026 The nvkm Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a minimal leveled logging package for the driver.
//
// The design is emitter-based: a Logger pairs a verbosity level with an
// Emitter that renders the line. The default target writes glog-style lines
// to stderr. Components that can log in a hot path (e.g. the PBDMA error
// handler) should wrap their logger with RateLimitedLogger.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Level is a log verbosity level.
type Level uint32

// Available levels, from least to most verbose.
const (
	// Warning indicates a problem that the driver can survive.
	Warning Level = iota

	// Info is informational output of general interest.
	Info

	// Debug is verbose output useful only when chasing a bug.
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("invalid(%d)", l)
	}
}

// Emitter renders a single log line.
type Emitter interface {
	// Emit emits the given message. The timestamp is the time the message
	// was logged, not the time Emit runs.
	Emit(level Level, timestamp time.Time, format string, v ...any)
}

// Writer is an Emitter that writes prefixed lines to an io.Writer.
//
// Lines have the form:
//
//	Lmmdd hh:mm:ss.uuuuuu] msg...
//
// where L is a single character for the level, matching the glog format the
// rest of our tooling already parses.
type Writer struct {
	Next io.Writer
}

// Emit implements Emitter.Emit.
func (w *Writer) Emit(level Level, timestamp time.Time, format string, v ...any) {
	var c byte
	switch level {
	case Warning:
		c = 'W'
	case Info:
		c = 'I'
	case Debug:
		c = 'D'
	}
	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	micros := timestamp.Nanosecond() / 1000
	fmt.Fprintf(w.Next, "%c%02d%02d %02d:%02d:%02d.%06d] %s\n",
		c, int(month), day, hour, minute, second, micros,
		fmt.Sprintf(format, v...))
}

// Logger is the log interface used by the driver.
type Logger interface {
	// Debugf logs a debug message.
	Debugf(format string, v ...any)

	// Infof logs an informational message.
	Infof(format string, v ...any)

	// Warningf logs a warning.
	Warningf(format string, v ...any)

	// IsLogging returns true iff messages at the given level are emitted.
	IsLogging(level Level) bool
}

// BasicLogger is the standard implementation of Logger.
type BasicLogger struct {
	Level Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.DebugfAtDepth(1, format, v...)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.InfofAtDepth(1, format, v...)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.WarningfAtDepth(1, format, v...)
}

// DebugfAtDepth logs at a specific depth.
func (l *BasicLogger) DebugfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Debug) {
		l.Emit(Debug, time.Now(), format, v...)
	}
}

// InfofAtDepth logs at a specific depth.
func (l *BasicLogger) InfofAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Info) {
		l.Emit(Info, time.Now(), format, v...)
	}
}

// WarningfAtDepth logs at a specific depth.
func (l *BasicLogger) WarningfAtDepth(depth int, format string, v ...any) {
	if l.IsLogging(Warning) {
		l.Emit(Warning, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return level <= Level(atomic.LoadUint32((*uint32)(&l.Level)))
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.Level), uint32(level))
}

// log is the global logger.
var logger atomic.Pointer[BasicLogger]

func init() {
	logger.Store(&BasicLogger{Level: Info, Emitter: &Writer{Next: os.Stderr}})
}

// Log retrieves the global logger.
func Log() *BasicLogger {
	return logger.Load()
}

// SetTarget sets the log target for the global logger.
func SetTarget(target Emitter) {
	old := logger.Load()
	logger.Store(&BasicLogger{Level: old.Level, Emitter: target})
}

// SetLevel sets the log level for the global logger.
func SetLevel(newLevel Level) {
	logger.Load().SetLevel(newLevel)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().DebugfAtDepth(1, format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().InfofAtDepth(1, format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().WarningfAtDepth(1, format, v...)
}
