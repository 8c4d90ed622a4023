// Package stop holds the process-wide cooperative cancellation flag.
package stop

import "sync"

// Signal is checked by runners at their suspension points. It never
// interrupts an in-flight LLM call.
type Signal struct {
	mu  sync.Mutex
	set bool
}

func New() *Signal {
	return &Signal{}
}

// Request asks every running pipeline to pause at its next suspension point.
func (s *Signal) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = true
}

func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = false
}

func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}
