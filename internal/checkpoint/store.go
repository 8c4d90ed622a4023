// Package checkpoint holds the committed story state behind a single lock.
package checkpoint

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Persister receives a detached copy of the state after every mutation.
type Persister interface {
	Persist(state story.State) error
}

// Store serializes mutators with writeMu, held from the state swap until
// every persister has returned, so persisters see states in commit order.
// Readers only take mu and never wait on a slow persister.
type Store struct {
	writeMu    sync.Mutex
	mu         sync.Mutex
	state      *story.State
	persisters []Persister
	logger     *slog.Logger
}

type Option func(*Store)

// WithPersister adds a durable sink. Persist errors are logged, never
// returned to the caller that mutated the state.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		if p != nil {
			s.persisters = append(s.persisters, p)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "checkpoint")
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		logger: slog.Default().With("component", "checkpoint"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save replaces the stored state with a deep copy of state.
func (s *Store) Save(state story.State) {
	c := state.Clone()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.state = &c
	s.mu.Unlock()
	s.persist(c)
}

// Load returns a detached copy of the stored state.
func (s *Store) Load() (story.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return story.State{}, false
	}
	return s.state.Clone(), true
}

func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

func (s *Store) Has() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil
}

// Update applies fn to a working copy and stores the result atomically. If fn
// returns an error nothing is stored.
func (s *Store) Update(fn func(*story.State) error) (story.State, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return story.State{}, story.ErrNoState
	}
	working := s.state.Clone()
	if err := fn(&working); err != nil {
		s.mu.Unlock()
		return story.State{}, err
	}
	s.state = &working
	out := working.Clone()
	s.mu.Unlock()

	s.persist(out)
	return out, nil
}

// SaveSection edits one section of the committed view. Only the expanded
// plot, the overview and existing chapters can be written.
func (s *Store) SaveSection(sec story.Section, content string) error {
	_, err := s.Update(func(st *story.State) error {
		switch sec.Kind {
		case story.KindExpandedPlot:
			st.ExpandedPlot = content
		case story.KindOverview:
			st.ChaptersOverview = content
		case story.KindChapter:
			if sec.Index < 1 || sec.Index > len(st.ChaptersFull) {
				return fmt.Errorf("%w: %s does not exist (have %d chapters)", story.ErrInvariantBreach, sec, len(st.ChaptersFull))
			}
			st.ChaptersFull[sec.Index-1] = content
		default:
			return fmt.Errorf("%w: %s is not a committed section", story.ErrUnknownSection, sec)
		}
		return nil
	})
	return err
}

// GetSection reads one section of the committed view.
func (s *Store) GetSection(sec story.Section) (string, error) {
	st, ok := s.Load()
	if !ok {
		return "", story.ErrNoState
	}
	switch sec.Kind {
	case story.KindExpandedPlot:
		return st.ExpandedPlot, nil
	case story.KindOverview:
		return st.ChaptersOverview, nil
	case story.KindChapter:
		if sec.Index < 1 || sec.Index > len(st.ChaptersFull) {
			return "", fmt.Errorf("%w: %s does not exist", story.ErrInvariantBreach, sec)
		}
		return st.ChaptersFull[sec.Index-1], nil
	}
	return "", fmt.Errorf("%w: %s is not a committed section", story.ErrUnknownSection, sec)
}

// InsertChapter inserts content as chapter index (1-based), shifting the
// suffix. The index is clamped to [1, len+1]; the clamped value is returned.
func (s *Store) InsertChapter(index int, content string) (int, error) {
	var at int
	_, err := s.Update(func(st *story.State) error {
		n := len(st.ChaptersFull)
		at = min(max(index, 1), n+1)
		chapters := make([]string, 0, n+1)
		chapters = append(chapters, st.ChaptersFull[:at-1]...)
		chapters = append(chapters, content)
		chapters = append(chapters, st.ChaptersFull[at-1:]...)
		st.ChaptersFull = chapters
		return nil
	})
	if err != nil {
		return 0, err
	}
	return at, nil
}

// ListSections returns the dense list of committed sections.
func (s *Store) ListSections() []story.Section {
	st, ok := s.Load()
	if !ok {
		return nil
	}
	var out []story.Section
	if st.HasExpandedPlot() {
		out = append(out, story.ExpandedPlot)
	}
	if st.HasOverview() {
		out = append(out, story.ChaptersOverview)
	}
	for i := range st.ChaptersFull {
		out = append(out, story.Chapter(i+1))
	}
	return out
}

func (s *Store) persist(state story.State) {
	for _, p := range s.persisters {
		if err := p.Persist(state); err != nil {
			s.logger.Warn("failed to persist checkpoint",
				"persister", fmt.Sprintf("%T", p),
				"error", err)
		}
	}
}
