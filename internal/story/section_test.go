package story

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Section
		wantErr bool
	}{
		{"expanded plot", "Expanded Plot", ExpandedPlot, false},
		{"overview", "Chapters Overview", ChaptersOverview, false},
		{"chapter", "Chapter 12", Chapter(12), false},
		{"fill", "Fill 3 (#2)", Fill(3, 2), false},
		{"padded", "  Chapter 1 ", Chapter(1), false},
		{"chapter zero", "Chapter 0", Section{}, true},
		{"fill zero seq", "Fill 2 (#0)", Section{}, true},
		{"garbage", "Prologue", Section{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSection(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownSection))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, name string) Section {
	t.Helper()
	s, err := ParseSection(name)
	require.NoError(t, err)
	return s
}

func TestSortSections(t *testing.T) {
	sections := []Section{Fill(2, 1), Chapter(3), ChaptersOverview, Chapter(1), ExpandedPlot, Fill(1, 2), Fill(1, 1)}
	SortSections(sections)
	assert.Equal(t, []Section{ExpandedPlot, ChaptersOverview, Chapter(1), Chapter(3), Fill(1, 1), Fill(1, 2), Fill(2, 1)}, sections)
}

func TestStateCloneIsDeep(t *testing.T) {
	s := State{
		ChaptersFull:     []string{"one"},
		StatusLog:        []string{"line"},
		NextChapterIndex: IntPtr(2),
	}
	c := s.Clone()
	c.ChaptersFull[0] = "changed"
	c.StatusLog = append(c.StatusLog, "more")
	*c.NextChapterIndex = 9

	assert.Equal(t, "one", s.ChaptersFull[0])
	assert.Len(t, s.StatusLog, 1)
	assert.Equal(t, 2, *s.NextChapterIndex)
	assert.Nil(t, c.PendingValidationIndex)
}

func TestPrependValidationNewestFirst(t *testing.T) {
	var s State
	s.PrependValidation("first")
	s.PrependValidation("second")
	assert.Equal(t, "second\n\nfirst", s.ValidationText)
}

func TestBackendErrorIs(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&BackendError{Task: "expand_plot", Attempts: 3, Err: cause})
	assert.True(t, errors.Is(err, ErrBackendFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "expand_plot")
}
