// Package telemetry wraps the standard log package with a component
// tag, matching the plain-log idiom used throughout the teacher's
// cmd/hf-cli and internal/cli packages rather than introducing a
// structured logging library the corpus never imports.
package telemetry

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag, e.g. "[executor]".
type Logger struct {
	tag string
	l   *log.Logger
}

// New returns a Logger writing to stderr, tagged with component.
func New(component string) *Logger {
	return &Logger{
		tag: component,
		l:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (lg *Logger) Info(format string, args ...any) {
	lg.l.Printf("INFO  ["+lg.tag+"] "+format, args...)
}

func (lg *Logger) Warn(format string, args ...any) {
	lg.l.Printf("WARN  ["+lg.tag+"] "+format, args...)
}

func (lg *Logger) Error(format string, args ...any) {
	lg.l.Printf("ERROR ["+lg.tag+"] "+format, args...)
}
