// Package drafts keeps the per-section candidate versions that live outside
// the committed story state, together with their undo history.
package drafts

import (
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// View is a detached copy of the store's contents.
type View map[story.Section]map[story.Slot]string

// Store is safe for concurrent use by the streaming runners and by UI
// handlers. Calls into the history are made while holding the store lock,
// and the history lock is always taken second, so the undo stack of a slot
// follows the order its writes were applied in.
type Store struct {
	mu      sync.RWMutex
	entries map[story.Section]map[story.Slot]string
	history *History
	logger  *slog.Logger
}

func New() *Store {
	s := &Store{
		entries: make(map[story.Section]map[story.Slot]string),
		logger:  slog.Default().With("component", "drafts"),
	}
	s.history = newHistory(s)
	return s
}

// History returns the undo/redo stacks bound to this store.
func (s *Store) History() *History {
	return s.history
}

func (s *Store) AddOriginal(sec story.Section, text string)  { s.Put(sec, story.SlotOriginal, text) }
func (s *Store) AddGenerated(sec story.Section, text string) { s.Put(sec, story.SlotGenerated, text) }
func (s *Store) AddChat(sec story.Section, text string)      { s.Put(sec, story.SlotChat, text) }
func (s *Store) AddUser(sec story.Section, text string)      { s.Put(sec, story.SlotUser, text) }
func (s *Store) AddFill(sec story.Section, text string)      { s.Put(sec, story.SlotFill, text) }

// Put writes a slot and records the value it replaced in the history.
func (s *Store) Put(sec story.Section, slot story.Slot, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[sec][slot]
	s.setLocked(sec, slot, text)
	if had && prev == text {
		return
	}
	s.history.register(sec, slot, prev, had)
}

// SetContentNoHistory writes a slot without touching the history.
func (s *Store) SetContentNoHistory(sec story.Section, slot story.Slot, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(sec, slot, text)
}

// Content returns the highest-priority occupied slot's text.
func (s *Store) Content(sec story.Section) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range story.PriorityOrder {
		if text, ok := s.entries[sec][slot]; ok {
			return text, true
		}
	}
	return "", false
}

// ContentOf returns one specific slot.
func (s *Store) ContentOf(sec story.Section, slot story.Slot) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.entries[sec][slot]
	return text, ok
}

// Type returns the highest-priority occupied slot.
func (s *Store) Type(sec story.Section) (story.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range story.PriorityOrder {
		if _, ok := s.entries[sec][slot]; ok {
			return slot, true
		}
	}
	return 0, false
}

func (s *Store) Has(sec story.Section) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[sec]) > 0
}

func (s *Store) HasType(sec story.Section, slot story.Slot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[sec][slot]
	return ok
}

// Remove drops the whole entry for sec, including every slot's history.
func (s *Store) Remove(sec story.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sec)
	s.history.clearSection(sec)
}

// RemoveSlot drops a single slot; history for the slot is kept so the
// removal can be undone.
func (s *Store) RemoveSlot(sec story.Section, slot story.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeSlotLocked(sec, slot)
}

// BySlot lists the sections whose given slot is occupied, in section order.
func (s *Store) BySlot(slot story.Slot) []story.Section {
	s.mu.RLock()
	var out []story.Section
	for sec, slots := range s.entries {
		if _, ok := slots[slot]; ok {
			out = append(out, sec)
		}
	}
	s.mu.RUnlock()
	story.SortSections(out)
	return out
}

// Keys lists every section with at least one occupied slot.
func (s *Store) Keys() []story.Section {
	s.mu.RLock()
	out := make([]story.Section, 0, len(s.entries))
	for sec := range s.entries {
		out = append(out, sec)
	}
	s.mu.RUnlock()
	story.SortSections(out)
	return out
}

// KeepOnlySlots removes, for each listed section, every slot not in keep.
// Sections left with no slots disappear along with their history.
func (s *Store) KeepOnlySlots(sections []story.Section, keep []story.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range sections {
		slots, ok := s.entries[sec]
		if !ok {
			continue
		}
		for slot := range slots {
			if !slices.Contains(keep, slot) {
				delete(slots, slot)
			}
		}
		if len(slots) == 0 {
			delete(s.entries, sec)
			s.history.clearSection(sec)
		}
	}
}

// MoveAll re-keys every slot of from onto to. Slots already present under to
// are overwritten by from's values.
func (s *Store) MoveAll(from, to story.Section) {
	if from == to {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slots, ok := s.entries[from]
	if !ok {
		return
	}
	delete(s.entries, from)
	if s.entries[to] == nil {
		s.entries[to] = make(map[story.Slot]string, len(slots))
	}
	for slot, text := range slots {
		s.entries[to][slot] = text
	}
	s.history.moveSection(from, to)
	s.logger.Debug("moved drafts", "from", from.String(), "to", to.String())
}

// ShiftChaptersAfterInsert moves every "Chapter m" entry with m >= k to
// "Chapter m+1", highest first so no entry is overwritten.
func (s *Store) ShiftChaptersAfterInsert(k int) {
	s.mu.RLock()
	var affected []int
	for sec := range s.entries {
		if sec.Kind == story.KindChapter && sec.Index >= k {
			affected = append(affected, sec.Index)
		}
	}
	s.mu.RUnlock()

	sort.Sort(sort.Reverse(sort.IntSlice(affected)))
	for _, m := range affected {
		s.MoveAll(story.Chapter(m), story.Chapter(m+1))
	}
}

// Snapshot returns a detached copy of every entry.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(View, len(s.entries))
	for sec, slots := range s.entries {
		c := make(map[story.Slot]string, len(slots))
		for slot, text := range slots {
			c[slot] = text
		}
		out[sec] = c
	}
	return out
}

func (s *Store) setLocked(sec story.Section, slot story.Slot, text string) {
	if s.entries[sec] == nil {
		s.entries[sec] = make(map[story.Slot]string)
	}
	s.entries[sec][slot] = text
}

func (s *Store) removeSlotLocked(sec story.Section, slot story.Slot) {
	slots, ok := s.entries[sec]
	if !ok {
		return
	}
	delete(slots, slot)
	if len(slots) == 0 {
		delete(s.entries, sec)
	}
}
