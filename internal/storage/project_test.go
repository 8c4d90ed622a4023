package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/story"
)

func sampleState() story.State {
	return story.State{
		Plot:             "A child finds a door to another world.",
		Genre:            "fantasy",
		ExpandedPlot:     "blueprint",
		ChaptersOverview: "#### Chapter 1: *Door*\nfound",
		ChaptersFull:     []string{"#### Chapter 1: *Door*\nShe found it.", "untitled second"},
		NumChapters:      3,
		ANPC:             2,
		RunMode:          story.RunFull,
		StatusLog:        []string{"[2025-01-01 10:00:00.000] Plot expanded"},
		NextChapterIndex: story.IntPtr(3),
	}
}

func TestProjectRoundTripThroughCheckpoint(t *testing.T) {
	base := t.TempDir()
	store := NewProjectStore(NewFileSystem(base))
	bound, err := store.Bind("door")
	require.NoError(t, err)

	cp := checkpoint.New(checkpoint.WithPersister(bound))
	cp.Save(sampleState())
	require.NoError(t, cp.SaveSection(story.Chapter(2), "second, revised"))

	loaded, err := store.Load(context.Background(), "door")
	require.NoError(t, err)
	want := sampleState()
	want.ChaptersFull[1] = "second, revised"
	assert.Equal(t, want, loaded)

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"door"}, names)
}

func TestProjectLoadErrors(t *testing.T) {
	store := NewProjectStore(NewFileSystem(t.TempDir()))

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoProject)

	_, err = store.Load(context.Background(), "../escape")
	assert.Error(t, err)

	_, err = store.Bind("")
	assert.Error(t, err)

	assert.Error(t, store.Persist(sampleState()))
}

func TestProjectExists(t *testing.T) {
	store := NewProjectStore(NewFileSystem(t.TempDir()))
	ctx := context.Background()

	assert.False(t, store.Exists(ctx, "book"))
	require.NoError(t, store.Save(ctx, "book", sampleState()))
	assert.True(t, store.Exists(ctx, "book"))
	assert.False(t, store.Exists(ctx, "book.json"))
	assert.False(t, store.Exists(ctx, "../book"))
}

func TestProjectLoadFillsEmptyCollections(t *testing.T) {
	fsys := NewFileSystem(t.TempDir())
	require.NoError(t, fsys.Save(context.Background(), "bare.json", []byte(`{"plot":"p","genre":"g","num_chapters":2}`)))

	st, err := NewProjectStore(fsys).Load(context.Background(), "bare")
	require.NoError(t, err)
	assert.NotNil(t, st.ChaptersFull)
	assert.NotNil(t, st.StatusLog)
	assert.Nil(t, st.NextChapterIndex)
}

func TestExport(t *testing.T) {
	fsys := NewFileSystem(t.TempDir())
	now := time.Date(2025, 7, 16, 15, 30, 0, 0, time.UTC)
	store := NewProjectStore(fsys, WithClock(func() time.Time { return now }))

	path, err := store.Export(context.Background(), "door", sampleState())
	require.NoError(t, err)
	assert.Equal(t, "exports/door.md", path)

	data, err := fsys.Load(context.Background(), path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "# door\n"))
	assert.Contains(t, text, "**Chapters**: 2 of 3")
	assert.Contains(t, text, "**Exported**: 2025-07-16 15:30:00")
	assert.Contains(t, text, "## Story Blueprint\n\nblueprint")
	assert.Contains(t, text, "#### Chapter 1: *Door*\nShe found it.")
	assert.Contains(t, text, "## Chapter 2\n\nuntitled second")
	assert.NotContains(t, text, "## Chapter 1\n")
}

func TestProjectName(t *testing.T) {
	now := time.Date(2025, 7, 16, 15, 30, 0, 0, time.UTC)
	id := "82f06b15-1111-2222-3333-444455556666"

	assert.Equal(t, id, ProjectName(id, "x", NamingID, now))
	assert.Equal(t, "2025-07-16_1530_82f06b15", ProjectName(id, "x", NamingTimestamp, now))
	assert.Equal(t, "2025-07-16_1530_a-child-finds-a-door-to-anothe_82f06b15",
		ProjectName(id, "A child finds a door to another world.", NamingDescriptive, now))
	assert.Equal(t, "2025-07-16_1530_story_82f06b15", ProjectName(id, "?!", NamingDescriptive, now))

	n, err := ParseNaming("Descriptive")
	require.NoError(t, err)
	assert.Equal(t, NamingDescriptive, n)
	_, err = ParseNaming("random")
	assert.Error(t, err)
}
