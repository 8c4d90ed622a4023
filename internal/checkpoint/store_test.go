package checkpoint

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/story"
)

type recordingPersister struct {
	mu     sync.Mutex
	states []story.State
	err    error
}

func (r *recordingPersister) Persist(state story.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return r.err
}

// gatedPersister blocks the first persist of a state whose first chapter is
// hold until release is closed.
type gatedPersister struct {
	recordingPersister
	hold    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedPersister) Persist(state story.State) error {
	if len(state.ChaptersFull) > 0 && state.ChaptersFull[0] == g.hold {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.recordingPersister.Persist(state)
}

func seeded(chapters ...string) *Store {
	s := New()
	s.Save(story.State{
		Plot:             "A child finds a door to another world.",
		Genre:            "fantasy",
		ExpandedPlot:     "expanded",
		ChaptersOverview: "overview",
		ChaptersFull:     chapters,
		NumChapters:      len(chapters),
	})
	return s
}

func TestSaveAndLoadAreDetached(t *testing.T) {
	s := New()
	assert.False(t, s.Has())

	_, ok := s.Load()
	assert.False(t, ok)

	orig := story.State{ChaptersFull: []string{"one"}}
	s.Save(orig)
	orig.ChaptersFull[0] = "mutated after save"

	loaded, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, "one", loaded.ChaptersFull[0])

	loaded.ChaptersFull[0] = "mutated after load"
	again, _ := s.Load()
	assert.Equal(t, "one", again.ChaptersFull[0])

	s.Clear()
	assert.False(t, s.Has())
}

func TestSaveSectionRoundTrip(t *testing.T) {
	s := seeded("c1", "c2")

	for _, sec := range []story.Section{story.ExpandedPlot, story.ChaptersOverview, story.Chapter(1), story.Chapter(2)} {
		require.NoError(t, s.SaveSection(sec, "new "+sec.String()))
		got, err := s.GetSection(sec)
		require.NoError(t, err)
		assert.Equal(t, "new "+sec.String(), got)
	}
}

func TestSaveSectionRejectsMissingChapter(t *testing.T) {
	s := seeded("c1")

	err := s.SaveSection(story.Chapter(2), "nope")
	assert.True(t, errors.Is(err, story.ErrInvariantBreach))

	err = s.SaveSection(story.Fill(1, 1), "nope")
	assert.True(t, errors.Is(err, story.ErrUnknownSection))

	_, err = s.GetSection(story.Chapter(5))
	assert.True(t, errors.Is(err, story.ErrInvariantBreach))

	err = New().SaveSection(story.ExpandedPlot, "x")
	assert.True(t, errors.Is(err, story.ErrNoState))
}

func TestInsertChapter(t *testing.T) {
	tests := []struct {
		name   string
		index  int
		wantAt int
		want   []string
	}{
		{"front", 1, 1, []string{"new", "c1", "c2", "c3"}},
		{"middle", 2, 2, []string{"c1", "new", "c2", "c3"}},
		{"append", 4, 4, []string{"c1", "c2", "c3", "new"}},
		{"clamp low", 0, 1, []string{"new", "c1", "c2", "c3"}},
		{"clamp high", 5, 4, []string{"c1", "c2", "c3", "new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seeded("c1", "c2", "c3")
			at, err := s.InsertChapter(tt.index, "new")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAt, at)

			st, _ := s.Load()
			assert.Equal(t, tt.want, st.ChaptersFull)
			got, err := s.GetSection(story.Chapter(at))
			require.NoError(t, err)
			assert.Equal(t, "new", got)
		})
	}
}

func TestListSectionsIsDense(t *testing.T) {
	s := seeded("c1", "c2")
	assert.Equal(t, []story.Section{story.ExpandedPlot, story.ChaptersOverview, story.Chapter(1), story.Chapter(2)}, s.ListSections())

	empty := New()
	empty.Save(story.State{RunMode: story.RunStartEmpty})
	assert.Empty(t, empty.ListSections())
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	s := seeded("c1")
	_, err := s.Update(func(st *story.State) error {
		st.ChaptersFull = nil
		return errors.New("abort")
	})
	require.Error(t, err)

	st, _ := s.Load()
	assert.Equal(t, []string{"c1"}, st.ChaptersFull)
}

func TestPersisterReceivesEveryMutation(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	s := New(WithPersister(p))

	s.Save(story.State{ChaptersFull: []string{"c1"}})
	require.NoError(t, s.SaveSection(story.Chapter(1), "edited"))
	_, err := s.InsertChapter(1, "first")
	require.NoError(t, err)

	require.Len(t, p.states, 3)
	assert.Equal(t, []string{"first", "edited"}, p.states[2].ChaptersFull)
}

func TestConcurrentWritersNeverTearChapters(t *testing.T) {
	s := seeded()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.InsertChapter(1, "x")
		}()
		go func() {
			defer wg.Done()
			st, ok := s.Load()
			if ok {
				for _, c := range st.ChaptersFull {
					assert.Equal(t, "x", c)
				}
			}
		}()
	}
	wg.Wait()
	st, _ := s.Load()
	assert.Len(t, st.ChaptersFull, 20)
}

func TestPersistOrderFollowsCommitOrder(t *testing.T) {
	p := &gatedPersister{hold: "A", entered: make(chan struct{}), release: make(chan struct{})}
	s := New(WithPersister(p))
	s.Save(story.State{ChaptersFull: []string{"c1"}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.SaveSection(story.Chapter(1), "A"))
	}()
	<-p.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.SaveSection(story.Chapter(1), "B"))
	}()

	// Readers stay unblocked, and B cannot commit while A is still persisting.
	assert.Never(t, func() bool {
		st, ok := s.Load()
		return !ok || st.ChaptersFull[0] != "A"
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(p.release)
	wg.Wait()

	st, _ := s.Load()
	require.Equal(t, "B", st.ChaptersFull[0])
	require.Len(t, p.states, 3)
	assert.Equal(t, "A", p.states[1].ChaptersFull[0])
	assert.Equal(t, st.ChaptersFull, p.states[2].ChaptersFull)
}
