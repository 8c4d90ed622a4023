package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Call is one recorded ScriptedBackend invocation.
type Call struct {
	Task     Task
	Messages []Message
}

// Prompt joins every message content of the call.
func (c Call) Prompt() string {
	var out string
	for i, m := range c.Messages {
		if i > 0 {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

type reply struct {
	text string
	err  error
}

// ScriptedBackend returns queued replies per task and records every call.
// When a task's queue is empty it falls back to the task's default reply, if
// any, and otherwise fails the call.
type ScriptedBackend struct {
	mu       sync.Mutex
	queues   map[Task][]reply
	defaults map[Task]string
	handlers map[Task]func([]Message) (string, error)
	calls    []Call
}

func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		queues:   make(map[Task][]reply),
		defaults: make(map[Task]string),
		handlers: make(map[Task]func([]Message) (string, error)),
	}
}

// Push queues replies for task, consumed in order.
func (s *ScriptedBackend) Push(task Task, texts ...string) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.queues[task] = append(s.queues[task], reply{text: t})
	}
	return s
}

// Fail queues a failing reply for task.
func (s *ScriptedBackend) Fail(task Task, err error) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[task] = append(s.queues[task], reply{err: err})
	return s
}

// Default sets the reply used once task's queue is drained.
func (s *ScriptedBackend) Default(task Task, text string) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[task] = text
	return s
}

// Handle computes replies for task from the request messages. Queued replies
// still take precedence.
func (s *ScriptedBackend) Handle(task Task, fn func([]Message) (string, error)) *ScriptedBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[task] = fn
	return s
}

func (s *ScriptedBackend) Complete(ctx context.Context, task Task, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", story.ErrCancelled, err)
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Task: task, Messages: append([]Message(nil), messages...)})
	if q := s.queues[task]; len(q) > 0 {
		r := q[0]
		s.queues[task] = q[1:]
		s.mu.Unlock()
		if r.err != nil {
			return "", &story.BackendError{Task: string(task), Attempts: 1, Err: r.err}
		}
		return r.text, nil
	}
	handler := s.handlers[task]
	text, ok := s.defaults[task]
	s.mu.Unlock()

	if handler != nil {
		out, err := handler(messages)
		if err != nil {
			return "", &story.BackendError{Task: string(task), Attempts: 1, Err: err}
		}
		return out, nil
	}
	if ok {
		return text, nil
	}
	return "", &story.BackendError{Task: string(task), Attempts: 1, Err: fmt.Errorf("no scripted reply")}
}

// Calls returns a copy of the call log.
func (s *ScriptedBackend) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor returns the recorded calls of one task.
func (s *ScriptedBackend) CallsFor(task Task) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}

// Tasks returns the task sequence of the call log.
func (s *ScriptedBackend) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Task
	}
	return out
}
