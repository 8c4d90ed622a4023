// Package infill names, orders and commits pending chapter insertions.
// Fills never reach the checkpoint until committed; until then they live in
// the draft store under the FILL slot.
package infill

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/drafts"
	"github.com/vampirenirmal/novelforge/internal/story"
)

type Registry struct {
	drafts     *drafts.Store
	checkpoint *checkpoint.Store
	logger     *slog.Logger
}

func New(d *drafts.Store, cp *checkpoint.Store) *Registry {
	return &Registry{
		drafts:     d,
		checkpoint: cp,
		logger:     slog.Default().With("component", "infill"),
	}
}

// IsFill recognizes the "Fill <x> (#<y>)" shape.
func IsFill(name string) bool {
	sec, err := story.ParseSection(name)
	return err == nil && sec.IsFill()
}

// ParseFillTarget extracts the target chapter position of a fill name.
func ParseFillTarget(name string) (int, bool) {
	sec, err := story.ParseSection(name)
	if err != nil || !sec.IsFill() {
		return 0, false
	}
	return sec.Index, true
}

// NextName picks the name of a new fill from the current selection. A nil
// selection behaves like selecting the plot or overview.
func (r *Registry) NextName(selected *story.Section) story.Section {
	if selected == nil {
		return story.Fill(1, r.smallestUnusedSeq(1, 1))
	}
	switch selected.Kind {
	case story.KindChapter:
		pos := selected.Index + 1
		return story.Fill(pos, r.smallestUnusedSeq(pos, 1))
	case story.KindFill:
		return story.Fill(selected.Index, r.smallestUnusedSeq(selected.Index, selected.Seq+1))
	default:
		return story.Fill(1, r.smallestUnusedSeq(1, 1))
	}
}

// Create registers an empty-or-seeded fill under the FILL slot.
func (r *Registry) Create(selected *story.Section, content string) story.Section {
	name := r.NextName(selected)
	r.drafts.AddFill(name, content)
	r.logger.Debug("fill created", "fill", name.String())
	return name
}

// Pending returns every fill, ordered by position then sequence.
func (r *Registry) Pending() []story.Section {
	return r.drafts.BySlot(story.SlotFill)
}

// Dropdown interleaves committed sections with pending fills. A fill at
// position x appears just before committed chapter x, or after the last
// chapter when x is past the end.
func (r *Registry) Dropdown() []story.Section {
	committed := r.checkpoint.ListSections()
	fills := r.Pending()

	out := make([]story.Section, 0, len(committed)+len(fills))
	fi := 0
	for _, sec := range committed {
		if sec.IsChapter() {
			for fi < len(fills) && fills[fi].Index <= sec.Index {
				out = append(out, fills[fi])
				fi++
			}
		}
		out = append(out, sec)
	}
	return append(out, fills[fi:]...)
}

// Commit inserts the fill's content as a committed chapter, shifts chapter
// drafts, drops the fill entry and renumbers the remaining fills that target
// later positions. It returns the committed chapter number.
func (r *Registry) Commit(fill story.Section, content string) (int, error) {
	if !fill.IsFill() {
		return 0, fmt.Errorf("%w: %s is not a fill", story.ErrInvariantBreach, fill)
	}
	at, err := r.checkpoint.InsertChapter(fill.Index, content)
	if err != nil {
		return 0, fmt.Errorf("inserting %s: %w", fill, err)
	}

	r.drafts.ShiftChaptersAfterInsert(at)
	r.drafts.Remove(fill)
	r.renumberAfter(fill.Index)

	r.logger.Info("fill committed",
		"fill", fill.String(),
		"chapter", at)
	return at, nil
}

// Insert commits content as chapter k without going through a fill. Chapter
// drafts and fills targeting later positions follow the shifted chapters.
func (r *Registry) Insert(k int, content string) (int, error) {
	at, err := r.checkpoint.InsertChapter(k, content)
	if err != nil {
		return 0, err
	}
	r.drafts.ShiftChaptersAfterInsert(at)
	r.renumberAfter(at)
	return at, nil
}

// renumberAfter moves every fill targeting a position > x up by one,
// highest position first.
func (r *Registry) renumberAfter(x int) {
	var later []story.Section
	for _, f := range r.Pending() {
		if f.Index > x {
			later = append(later, f)
		}
	}
	sort.SliceStable(later, func(i, j int) bool { return later[i].Index > later[j].Index })
	for _, f := range later {
		r.drafts.MoveAll(f, story.Fill(f.Index+1, f.Seq))
	}
}

func (r *Registry) smallestUnusedSeq(pos, from int) int {
	used := make(map[int]bool)
	for _, key := range r.drafts.Keys() {
		if key.IsFill() && key.Index == pos {
			used[key.Seq] = true
		}
	}
	seq := max(from, 1)
	for used[seq] {
		seq++
	}
	return seq
}
