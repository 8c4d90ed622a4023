package revision

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Plan is the ephemeral outcome of an edit analysis: which sections to
// rewrite, why, and in which order.
type Plan struct {
	ID            string
	Edited        story.Section
	EditedContent string
	Original      string
	DiffSummary   string
	Entries       []Entry
}

// NewPlan orders impact entries as plot, overview, then chapters ascending.
func NewPlan(edited story.Section, editedContent, original string, diff Diff, impact Impact) Plan {
	entries := append([]Entry(nil), impact.Entries...)
	sortEntries(entries)
	return Plan{
		ID:            uuid.NewString(),
		Edited:        edited,
		EditedContent: editedContent,
		Original:      original,
		DiffSummary:   diff.Summary(),
		Entries:       entries,
	}
}

// SeedPlan builds the plan for the first chapter of an empty project: plot
// and overview are written from the fill content.
func SeedPlan(fill story.Section, content string) Plan {
	return Plan{
		ID:            uuid.NewString(),
		Edited:        fill,
		EditedContent: content,
		DiffSummary:   "A first chapter was written for an empty project.",
		Entries: []Entry{
			{Section: story.ExpandedPlot, Reason: "Write the story blueprint implied by the first chapter."},
			{Section: story.ChaptersOverview, Reason: "Write the chapter overview starting from the first chapter."},
		},
	}
}

// Fill returns the fill being inserted, if the edit is one.
func (p Plan) Fill() (story.Section, bool) {
	return p.Edited, p.Edited.IsFill()
}

// Impacted lists the planned sections in revision order.
func (p Plan) Impacted() []story.Section {
	out := make([]story.Section, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Section
	}
	return out
}

func (p Plan) String() string {
	return fmt.Sprintf("plan %s: %s -> %v", p.ID, p.Edited, p.Impacted())
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return story.Less(entries[i].Section, entries[j].Section)
	})
}
