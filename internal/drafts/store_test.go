package drafts

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/novelforge/internal/story"
)

func TestPriorityRead(t *testing.T) {
	s := New()
	sec := story.Chapter(2)

	_, ok := s.Content(sec)
	assert.False(t, ok)
	_, ok = s.Type(sec)
	assert.False(t, ok)

	steps := []struct {
		slot story.Slot
		text string
	}{
		{story.SlotOriginal, "original"},
		{story.SlotFill, "fill"},
		{story.SlotUser, "user"},
		{story.SlotChat, "chat"},
		{story.SlotGenerated, "generated"},
	}
	for _, step := range steps {
		s.Put(sec, step.slot, step.text)
		typ, ok := s.Type(sec)
		require.True(t, ok)
		assert.Equal(t, step.slot, typ)
		text, _ := s.Content(sec)
		assert.Equal(t, step.text, text)
	}

	s.RemoveSlot(sec, story.SlotGenerated)
	typ, _ := s.Type(sec)
	assert.Equal(t, story.SlotChat, typ)

	user, ok := s.ContentOf(sec, story.SlotUser)
	require.True(t, ok)
	assert.Equal(t, "user", user)
}

func TestRemoveEntireEntryClearsHistory(t *testing.T) {
	s := New()
	sec := story.ChaptersOverview
	s.AddGenerated(sec, "v1")
	s.AddGenerated(sec, "v2")
	require.True(t, s.History().HasUndo(sec, story.SlotGenerated))

	s.Remove(sec)
	assert.False(t, s.Has(sec))
	assert.False(t, s.History().HasUndo(sec, story.SlotGenerated))
}

func TestKeepOnlySlots(t *testing.T) {
	s := New()
	s.AddGenerated(story.ExpandedPlot, "gen")
	s.AddUser(story.ExpandedPlot, "user")
	s.AddOriginal(story.Chapter(1), "orig")
	s.AddFill(story.Fill(2, 1), "fill")

	s.KeepOnlySlots(s.Keys(), story.PreservedSlots)

	assert.False(t, s.HasType(story.ExpandedPlot, story.SlotGenerated))
	assert.True(t, s.HasType(story.ExpandedPlot, story.SlotUser))
	assert.False(t, s.Has(story.Chapter(1)))
	assert.True(t, s.HasType(story.Fill(2, 1), story.SlotFill))
}

func TestBySlotAndKeysAreSorted(t *testing.T) {
	s := New()
	s.AddGenerated(story.Chapter(3), "c3")
	s.AddGenerated(story.ExpandedPlot, "p")
	s.AddUser(story.Chapter(1), "c1")
	s.AddGenerated(story.Chapter(1), "c1g")

	assert.Equal(t, []story.Section{story.ExpandedPlot, story.Chapter(1), story.Chapter(3)}, s.BySlot(story.SlotGenerated))
	assert.Equal(t, []story.Section{story.Chapter(1)}, s.BySlot(story.SlotUser))
	assert.Equal(t, []story.Section{story.ExpandedPlot, story.Chapter(1), story.Chapter(3)}, s.Keys())
}

func TestShiftChaptersAfterInsert(t *testing.T) {
	s := New()
	for m := 1; m <= 4; m++ {
		s.AddGenerated(story.Chapter(m), fmt.Sprintf("gen %d", m))
	}
	s.AddUser(story.Chapter(3), "user 3")
	s.AddGenerated(story.Chapter(3), "gen 3 v2")

	s.ShiftChaptersAfterInsert(2)

	for m, want := range map[int]string{1: "gen 1", 3: "gen 2", 4: "gen 3 v2", 5: "gen 4"} {
		got, ok := s.ContentOf(story.Chapter(m), story.SlotGenerated)
		require.True(t, ok, "chapter %d", m)
		assert.Equal(t, want, got, "chapter %d", m)
	}
	assert.False(t, s.Has(story.Chapter(2)))

	user, ok := s.ContentOf(story.Chapter(4), story.SlotUser)
	require.True(t, ok)
	assert.Equal(t, "user 3", user)

	// history travels with the drafts
	require.True(t, s.History().Undo(story.Chapter(4), story.SlotGenerated))
	got, _ := s.ContentOf(story.Chapter(4), story.SlotGenerated)
	assert.Equal(t, "gen 3", got)
}

func TestMoveAllOverwritesTarget(t *testing.T) {
	s := New()
	s.AddFill(story.Fill(3, 1), "moving")
	s.AddUser(story.Fill(4, 1), "kept")
	s.AddFill(story.Fill(4, 1), "overwritten")

	s.MoveAll(story.Fill(3, 1), story.Fill(4, 1))

	assert.False(t, s.Has(story.Fill(3, 1)))
	fill, _ := s.ContentOf(story.Fill(4, 1), story.SlotFill)
	assert.Equal(t, "moving", fill)
	user, _ := s.ContentOf(story.Fill(4, 1), story.SlotUser)
	assert.Equal(t, "kept", user)
}

func TestSnapshotIsDetached(t *testing.T) {
	s := New()
	s.AddUser(story.Chapter(1), "a")
	view := s.Snapshot()
	view[story.Chapter(1)][story.SlotUser] = "changed"

	got, _ := s.ContentOf(story.Chapter(1), story.SlotUser)
	assert.Equal(t, "a", got)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			s.AddGenerated(story.Chapter(i%5+1), fmt.Sprint(i))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			_, _ = s.Content(story.Chapter(1))
		}()
		go func() {
			defer wg.Done()
			s.History().Undo(story.Chapter(1), story.SlotGenerated)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(s.Keys()), 5)
}
