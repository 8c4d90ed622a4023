package story

// RunMode selects how far the creation pipeline goes.
type RunMode string

const (
	RunFull       RunMode = "FULL"
	RunOverview   RunMode = "OVERVIEW"
	RunStartEmpty RunMode = "START_EMPTY"
)

// Valid reports whether m is one of the known run modes.
func (m RunMode) Valid() bool {
	switch m {
	case RunFull, RunOverview, RunStartEmpty:
		return true
	}
	return false
}

// State is the committed view of a story. Exactly one exists at a time and it
// is the single source of truth for what would be exported.
//
// ExpandedPlot and ChaptersOverview are optional: the empty string means the
// step that produces them has not run yet.
type State struct {
	Plot                   string   `json:"plot"`
	Genre                  string   `json:"genre"`
	ExpandedPlot           string   `json:"expanded_plot,omitempty"`
	ChaptersOverview       string   `json:"chapters_overview,omitempty"`
	ChaptersFull           []string `json:"chapters_full"`
	NumChapters            int      `json:"num_chapters"`
	ANPC                   int      `json:"anpc"`
	RunMode                RunMode  `json:"run_mode"`
	StatusLog              []string `json:"status_log"`
	ValidationText         string   `json:"validation_text"`
	OverviewValidated      bool     `json:"overview_validated"`
	NextChapterIndex       *int     `json:"next_chapter_index"`
	PendingValidationIndex *int     `json:"pending_validation_index"`
}

// Clone returns a deep copy so callers can never alias the slices or resume
// pointers of a stored state.
func (s State) Clone() State {
	out := s
	if s.ChaptersFull != nil {
		out.ChaptersFull = append([]string(nil), s.ChaptersFull...)
	}
	if s.StatusLog != nil {
		out.StatusLog = append([]string(nil), s.StatusLog...)
	}
	out.NextChapterIndex = cloneInt(s.NextChapterIndex)
	out.PendingValidationIndex = cloneInt(s.PendingValidationIndex)
	return out
}

// HasExpandedPlot reports whether the plot expansion step has produced output.
func (s State) HasExpandedPlot() bool { return s.ExpandedPlot != "" }

// HasOverview reports whether the overview step has produced output.
func (s State) HasOverview() bool { return s.ChaptersOverview != "" }

// ChapterCount is the number of committed chapters.
func (s State) ChapterCount() int { return len(s.ChaptersFull) }

// PrependValidation adds an entry to ValidationText, newest first.
func (s *State) PrependValidation(entry string) {
	if s.ValidationText == "" {
		s.ValidationText = entry
		return
	}
	s.ValidationText = entry + "\n\n" + s.ValidationText
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
