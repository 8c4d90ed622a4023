package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/story"
)

func openHistory(t *testing.T, keep int) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history", "snapshots.db"), keep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return h
}

func TestHistoryRecordsCheckpointMutations(t *testing.T) {
	h := openHistory(t, 0)
	cp := checkpoint.New(checkpoint.WithPersister(h.Bind("door")))

	cp.Save(sampleState())
	_, err := cp.InsertChapter(3, "third")
	require.NoError(t, err)

	snaps, err := h.List("door", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].Chapters)
	assert.Equal(t, 2, snaps[1].Chapters)
	assert.Empty(t, snaps[0].State)

	restored, err := h.Restore(snaps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, sampleState(), restored)

	other, err := h.List("elsewhere", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistoryPrunesToKeep(t *testing.T) {
	h := openHistory(t, 2).Bind("door")
	for i := 1; i <= 4; i++ {
		st := sampleState()
		st.ChaptersFull = make([]string, i)
		require.NoError(t, h.Persist(st))
	}

	snaps, err := h.List("door", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4, snaps[0].Chapters)
	assert.Equal(t, 3, snaps[1].Chapters)
}

func TestHistoryErrors(t *testing.T) {
	h := openHistory(t, 0)
	assert.Error(t, h.Persist(story.State{}))

	_, err := h.Restore("no-such-id")
	assert.ErrorIs(t, err, ErrNoProject)
}
