package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vampirenirmal/novelforge/internal/overview"
	"github.com/vampirenirmal/novelforge/internal/revision"
	"github.com/vampirenirmal/novelforge/internal/story"
)

// EditOutcome reports what ApplyEdit did with an edit.
type EditOutcome struct {
	Section story.Section
	// Committed is set when the edit went straight to the committed state.
	Committed bool
	// Chapter is the committed chapter number of a fill committed directly.
	Chapter int
	Diff    revision.Diff
	Impact  revision.Impact
	Report  *overview.Report
	// Plan is set when other sections must be revised; run it with
	// RunRevision.
	Plan    *revision.Plan
	Message string
}

// ApplyEdit routes an edited section through post-validation, the diff
// engine and the impact analyzer. Edits that change nothing downstream are
// committed; edits that do are kept as USER (or FILL) drafts and come back
// with a revision plan.
func (e *Engine) ApplyEdit(ctx context.Context, sec story.Section, content string) (EditOutcome, error) {
	st, ok := e.checkpoint.Load()
	if !ok {
		return EditOutcome{}, story.ErrNoState
	}
	if sec.IsFill() {
		return e.applyFill(ctx, st, sec, content)
	}

	out := EditOutcome{Section: sec}
	original, err := e.checkpoint.GetSection(sec)
	if err != nil {
		return out, err
	}

	if sec == story.ChaptersOverview {
		report := overview.PostValidate(original, content)
		out.Report = &report
		if report.Rejected() {
			e.drafts.AddUser(sec, content)
			out.Message = report.Summary()
			e.logger.Info("overview edit rejected", "reason", out.Message)
			return out, fmt.Errorf("%w: %s", story.ErrValidationRejected, out.Message)
		}
	}

	out.Diff = e.diff.Compare(ctx, revision.SectionType(sec), original, content, st.Genre)
	switch out.Diff.Kind {
	case revision.NoChanges:
		return e.commitEdit(out, content)
	case revision.ChangesDetected:
	default:
		e.drafts.AddUser(sec, content)
		out.Message = fmt.Sprintf("Could not classify the edit (%s): %s. The edit is kept as a draft.", out.Diff.Kind, out.Diff.Message)
		return out, nil
	}

	out.Impact = e.impact.Analyze(ctx, revision.ImpactRequest{
		Edited:        sec,
		EditedContent: content,
		DiffSummary:   out.Diff.Summary(),
		Candidates:    revision.Candidates(sec, st),
		TotalChapters: len(st.ChaptersFull),
		Genre:         st.Genre,
	})
	switch out.Impact.Kind {
	case revision.NoImpact:
		out.Message = out.Impact.Message
		return e.commitEdit(out, content)
	case revision.ImpactDetected:
		e.drafts.AddUser(sec, content)
		e.drafts.AddOriginal(sec, original)
		plan := revision.NewPlan(sec, content, original, out.Diff, out.Impact)
		out.Plan = &plan
		out.Message = fmt.Sprintf("%d section(s) need revision", len(plan.Entries))
		e.logger.Info("edit needs revision", "section", sec.String(), "plan", plan.String())
		return out, nil
	default:
		e.drafts.AddUser(sec, content)
		out.Message = fmt.Sprintf("Could not analyze the impact (%s): %s. The edit is kept as a draft.", out.Impact.Kind, out.Impact.Message)
		return out, nil
	}
}

func (e *Engine) commitEdit(out EditOutcome, content string) (EditOutcome, error) {
	if err := e.checkpoint.SaveSection(out.Section, content); err != nil {
		return out, err
	}
	e.drafts.Remove(out.Section)
	out.Committed = true
	if out.Message == "" {
		out.Message = "Edit committed"
	}
	e.logger.Info("edit committed", "section", out.Section.String(), "diff", out.Diff.Kind)
	return out, nil
}

// applyFill handles new chapter content. There is no prior version to diff
// against, so the insertion itself is the change.
func (e *Engine) applyFill(ctx context.Context, st story.State, fill story.Section, content string) (EditOutcome, error) {
	out := EditOutcome{Section: fill}
	e.drafts.AddFill(fill, content)

	if len(st.ChaptersFull) == 0 {
		plan := revision.SeedPlan(fill, content)
		out.Plan = &plan
		out.Message = "First chapter of an empty project; plot and overview will be written from it"
		return out, nil
	}

	out.Diff = revision.Diff{
		Kind:    revision.ChangesDetected,
		Changes: []string{insertionChange(fill.Index, len(st.ChaptersFull))},
	}
	out.Impact = e.impact.Analyze(ctx, revision.ImpactRequest{
		Edited:        fill,
		EditedContent: content,
		DiffSummary:   out.Diff.Summary(),
		Candidates:    revision.Candidates(fill, st),
		TotalChapters: len(st.ChaptersFull),
		Genre:         st.Genre,
	})
	switch out.Impact.Kind {
	case revision.NoImpact:
		at, err := e.infill.Commit(fill, content)
		if err != nil {
			return out, err
		}
		out.Committed = true
		out.Chapter = at
		out.Message = fmt.Sprintf("Fill committed as Chapter %d", at)
		return out, nil
	case revision.ImpactDetected:
		plan := revision.NewPlan(fill, content, "", out.Diff, out.Impact)
		out.Plan = &plan
		out.Message = fmt.Sprintf("%d section(s) need revision", len(plan.Entries))
		return out, nil
	default:
		out.Message = fmt.Sprintf("Could not analyze the impact (%s): %s. The fill is kept as a draft.", out.Impact.Kind, out.Impact.Message)
		return out, nil
	}
}

func insertionChange(pos, total int) string {
	if pos > total {
		return fmt.Sprintf("A new chapter is added after Chapter %d.", total)
	}
	return fmt.Sprintf("A new chapter is inserted at position %d; Chapters %d to %d move up by one.", pos, pos, total)
}

// Accept commits drafts. Without a slot each section's highest-priority
// draft is committed and the whole entry is cleared; with a slot only that
// slot is committed and removed, leaving the others in place.
//
// Sections are applied as plot, overview, chapters ascending, then fills from
// the highest position down, so chapter numbers are resolved before any fill
// shifts them. Every section is checked before anything is written. The
// returned names are the final positions, after every fill has shifted them.
func (e *Engine) Accept(sections []story.Section, slot ...story.Slot) ([]story.Section, error) {
	if len(slot) > 1 {
		return nil, fmt.Errorf("%w: accept takes at most one slot", story.ErrInvariantBreach)
	}
	st, ok := e.checkpoint.Load()
	if !ok {
		return nil, story.ErrNoState
	}

	ordered := acceptOrder(sections)
	texts := make(map[story.Section]string, len(ordered))
	for _, sec := range ordered {
		text, err := e.acceptable(st, sec, slot)
		if err != nil {
			return nil, err
		}
		texts[sec] = text
	}

	committed := make([]story.Section, 0, len(ordered))
	for _, sec := range ordered {
		target := sec
		if sec.IsFill() {
			at, err := e.infill.Commit(sec, texts[sec])
			if err != nil {
				return committed, err
			}
			shiftFrom(committed, at)
			target = story.Chapter(at)
		} else {
			if err := e.checkpoint.SaveSection(sec, texts[sec]); err != nil {
				return committed, err
			}
			if len(slot) == 1 {
				e.drafts.RemoveSlot(sec, slot[0])
			} else {
				e.drafts.Remove(sec)
			}
		}
		committed = append(committed, target)
		e.logger.Info("draft accepted", "section", sec.String(), "committed_as", target.String())
	}
	return committed, nil
}

// shiftFrom renumbers chapters at or after position at, which a fill
// committed there has pushed down by one.
func shiftFrom(sections []story.Section, at int) {
	for i, sec := range sections {
		if sec.Kind == story.KindChapter && sec.Index >= at {
			sections[i] = story.Chapter(sec.Index + 1)
		}
	}
}

func (e *Engine) acceptable(st story.State, sec story.Section, slot []story.Slot) (string, error) {
	switch sec.Kind {
	case story.KindExpandedPlot, story.KindOverview, story.KindFill:
	case story.KindChapter:
		if sec.Index < 1 || sec.Index > len(st.ChaptersFull) {
			return "", fmt.Errorf("%w: %s no longer exists", story.ErrInvariantBreach, sec)
		}
	default:
		return "", fmt.Errorf("%w: %s", story.ErrUnknownSection, sec)
	}

	var (
		text string
		ok   bool
	)
	if len(slot) == 1 {
		text, ok = e.drafts.ContentOf(sec, slot[0])
	} else {
		text, ok = e.drafts.Content(sec)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s has no draft to accept", story.ErrInvariantBreach, sec)
	}
	return text, nil
}

func acceptOrder(sections []story.Section) []story.Section {
	seen := make(map[story.Section]bool, len(sections))
	var committed, fills []story.Section
	for _, sec := range sections {
		if seen[sec] {
			continue
		}
		seen[sec] = true
		if sec.IsFill() {
			fills = append(fills, sec)
		} else {
			committed = append(committed, sec)
		}
	}
	story.SortSections(committed)
	sort.SliceStable(fills, func(i, j int) bool {
		if fills[i].Index != fills[j].Index {
			return fills[i].Index > fills[j].Index
		}
		return fills[i].Seq > fills[j].Seq
	})
	return append(committed, fills...)
}

// Reject discards drafts without touching the committed state. Without a
// slot, the slot currently shown for each section is removed.
func (e *Engine) Reject(sections []story.Section, slot ...story.Slot) error {
	var errs []error
	for _, sec := range sections {
		if len(slot) == 0 {
			shown, ok := e.drafts.Type(sec)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s has no draft", story.ErrInvariantBreach, sec))
				continue
			}
			e.drafts.RemoveSlot(sec, shown)
			continue
		}
		for _, s := range slot {
			e.drafts.RemoveSlot(sec, s)
		}
	}
	return errors.Join(errs...)
}

// RevertSession drops every draft produced by a revision session, keeping
// the user's own edits and pending fills.
func (e *Engine) RevertSession() {
	e.drafts.KeepOnlySlots(e.drafts.Keys(), story.PreservedSlots)
}
