// Package statuslog produces the user-visible, timestamped status lines kept
// in the story state's status log.
package statuslog

import (
	"fmt"
	"time"
)

// TimeLayout has millisecond resolution.
const TimeLayout = "2006-01-02 15:04:05.000"

type Logger struct {
	now func() time.Time
}

type Option func(*Logger)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

func New(opts ...Option) *Logger {
	l := &Logger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Line formats msg with a timestamp prefix.
func (l *Logger) Line(msg string) string {
	return fmt.Sprintf("[%s] %s", l.now().Format(TimeLayout), msg)
}

// Linef is Line with fmt.Sprintf formatting.
func (l *Logger) Linef(format string, args ...any) string {
	return l.Line(fmt.Sprintf(format, args...))
}

// Append adds a timestamped line to log and returns the new slice and the
// line that was added.
func (l *Logger) Append(log []string, msg string) ([]string, string) {
	line := l.Line(msg)
	return append(log, line), line
}

// Merge folds a streamed log into a base log. Lines already present in base
// are dropped; order is preserved, base first.
func Merge(base, streamed []string) []string {
	seen := make(map[string]struct{}, len(base)+len(streamed))
	out := make([]string, 0, len(base)+len(streamed))
	for _, group := range [][]string{base, streamed} {
		for _, line := range group {
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			out = append(out, line)
		}
	}
	return out
}
