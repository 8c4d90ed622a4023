package drafts

import (
	"sync"

	"github.com/vampirenirmal/novelforge/internal/story"
)

type historyKey struct {
	section story.Section
	slot    story.Slot
}

// version is one remembered slot value. present is false when the slot was
// empty, so undoing past the first write clears the slot again.
type version struct {
	text    string
	present bool
}

type stacks struct {
	undo []version
	redo []version
}

// History holds undo/redo stacks per (section, slot). Its lock is always
// taken after the owning Store's lock.
type History struct {
	mu     sync.Mutex
	stacks map[historyKey]*stacks
	store  *Store
}

func newHistory(store *Store) *History {
	return &History{
		stacks: make(map[historyKey]*stacks),
		store:  store,
	}
}

// register pushes the replaced value and invalidates the redo stack.
func (h *History) register(sec story.Section, slot story.Slot, prev string, had bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stacksLocked(historyKey{sec, slot})
	st.undo = append(st.undo, version{text: prev, present: had})
	st.redo = nil
}

// Undo restores the previous value of the slot. It is a no-op on an empty
// stack and reports whether anything changed.
func (h *History) Undo(sec story.Section, slot story.Slot) bool {
	return h.step(sec, slot, true)
}

// Redo re-applies the value most recently undone.
func (h *History) Redo(sec story.Section, slot story.Slot) bool {
	return h.step(sec, slot, false)
}

func (h *History) step(sec story.Section, slot story.Slot, undo bool) bool {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	text, present := s.entries[sec][slot]
	current := version{text: text, present: present}

	h.mu.Lock()
	st, ok := h.stacks[historyKey{sec, slot}]
	if !ok {
		h.mu.Unlock()
		return false
	}
	from, to := &st.undo, &st.redo
	if !undo {
		from, to = &st.redo, &st.undo
	}
	if len(*from) == 0 {
		h.mu.Unlock()
		return false
	}
	target := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	*to = append(*to, current)
	h.mu.Unlock()

	if target.present {
		s.setLocked(sec, slot, target.text)
	} else {
		s.removeSlotLocked(sec, slot)
	}
	return true
}

func (h *History) HasUndo(sec story.Section, slot story.Slot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.stacks[historyKey{sec, slot}]
	return ok && len(st.undo) > 0
}

func (h *History) HasRedo(sec story.Section, slot story.Slot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.stacks[historyKey{sec, slot}]
	return ok && len(st.redo) > 0
}

// Position drives the "draft n/m" counter: current = undo+1,
// total = undo+1+redo.
func (h *History) Position(sec story.Section, slot story.Slot) (current, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.stacks[historyKey{sec, slot}]
	if !ok {
		return 1, 1
	}
	return len(st.undo) + 1, len(st.undo) + 1 + len(st.redo)
}

// Clear forgets the history of one slot.
func (h *History) Clear(sec story.Section, slot story.Slot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.stacks, historyKey{sec, slot})
}

func (h *History) clearSection(sec story.Section) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.stacks {
		if key.section == sec {
			delete(h.stacks, key)
		}
	}
}

func (h *History) moveSection(from, to story.Section) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, st := range h.stacks {
		if key.section != from {
			continue
		}
		delete(h.stacks, key)
		h.stacks[historyKey{to, key.slot}] = st
	}
}

func (h *History) stacksLocked(key historyKey) *stacks {
	st, ok := h.stacks[key]
	if !ok {
		st = &stacks{}
		h.stacks[key] = st
	}
	return st
}
