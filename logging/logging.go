// Package logging provides the logger used across the orchestrator. The
// interface is gostage.Logger so the same logger drives both the engine and
// the maintenance workflows.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/davidroman0O/gostage"
)

// Logger is the printf-style leveled logger threaded through the engine
type Logger = gostage.Logger

// StderrLogger logs to standard error with a level tag
type StderrLogger struct {
	debug bool
	l     *log.Logger
}

// NewLogger creates a logger writing to stderr. Debug messages are dropped
// unless debug is set.
func NewLogger(debug bool) *StderrLogger {
	return &StderrLogger{
		debug: debug,
		l:     log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Debug implements Logger.Debug
func (s *StderrLogger) Debug(format string, args ...interface{}) {
	if s.debug {
		s.l.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
	}
}

// Info implements Logger.Info
func (s *StderrLogger) Info(format string, args ...interface{}) {
	s.l.Printf("[INFO]  %s", fmt.Sprintf(format, args...))
}

// Warn implements Logger.Warn
func (s *StderrLogger) Warn(format string, args ...interface{}) {
	s.l.Printf("[WARN]  %s", fmt.Sprintf(format, args...))
}

// Error implements Logger.Error
func (s *StderrLogger) Error(format string, args ...interface{}) {
	s.l.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(format string, args ...interface{}) {}
func (nopLogger) Info(format string, args ...interface{})  {}
func (nopLogger) Warn(format string, args ...interface{})  {}
func (nopLogger) Error(format string, args ...interface{}) {}
