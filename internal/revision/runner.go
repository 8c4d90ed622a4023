package revision

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/drafts"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/statuslog"
	"github.com/vampirenirmal/novelforge/internal/stop"
	"github.com/vampirenirmal/novelforge/internal/story"
)

// Event is one streamed revision snapshot.
type Event struct {
	PlanID string
	State  story.State
	Log    string
	Drafts drafts.View
	Paused bool
	Done   bool
}

// Runner rewrites the sections of a plan into GENERATED drafts. It never
// touches committed content.
type Runner struct {
	backend    llm.Backend
	prompts    *prompts.Library
	checkpoint *checkpoint.Store
	drafts     *drafts.Store
	stop       *stop.Signal
	status     *statuslog.Logger
	logger     *slog.Logger
}

func NewRunner(backend llm.Backend, lib *prompts.Library, cp *checkpoint.Store, d *drafts.Store, sig *stop.Signal) *Runner {
	return &Runner{
		backend:    backend,
		prompts:    lib,
		checkpoint: cp,
		drafts:     d,
		stop:       sig,
		status:     statuslog.New(),
		logger:     slog.Default().With("component", "revision"),
	}
}

// Run streams the revision of every planned section, plot first, then the
// overview, then chapters in ascending order.
func (r *Runner) Run(ctx context.Context, plan Plan) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		x := &session{Runner: r, ctx: ctx, plan: plan, yield: yield}
		x.logger = r.logger.With("plan_id", plan.ID)
		x.execute()
	}
}

type session struct {
	*Runner
	ctx      context.Context
	plan     Plan
	yield    func(Event) bool
	streamed []string
	gone     bool
	logger   *slog.Logger
}

func (x *session) execute() {
	x.stop.Clear()
	x.begin()

	if !x.emit(fmt.Sprintf("Revising %d section(s) after edit of %s", len(x.plan.Entries), x.plan.Edited), Event{}) {
		return
	}

	entries := append([]Entry(nil), x.plan.Entries...)
	sortEntries(entries)
	for _, e := range entries {
		if x.stop.IsSet() || x.ctx.Err() != nil {
			x.finish("Revision stopped; drafts so far are kept", Event{Paused: true})
			return
		}
		if !x.revise(e) {
			return
		}
	}
	x.finish("Revision complete; review the generated drafts", Event{Done: true})
}

// begin resets pipeline-scoped drafts and snapshots the edited section.
func (x *session) begin() {
	all := x.drafts.Keys()
	x.drafts.KeepOnlySlots(all, story.PreservedSlots)
	if x.plan.Original != "" {
		x.drafts.AddOriginal(x.plan.Edited, x.plan.Original)
	}
}

func (x *session) revise(e Entry) bool {
	st, _ := x.checkpoint.Load()
	seeding := x.seeding(st)

	vars := prompts.Vars{
		Genre:         st.Genre,
		SectionName:   e.Section.String(),
		Reason:        e.Reason,
		DiffSummary:   x.plan.DiffSummary,
		ExpandedPlot:  x.latest(story.ExpandedPlot, st.ExpandedPlot),
		Overview:      x.latest(story.ChaptersOverview, st.ChaptersOverview),
		EditedContent: x.plan.EditedContent,
	}

	var task llm.Task
	switch e.Section.Kind {
	case story.KindExpandedPlot:
		task = llm.TaskEditPlot
	case story.KindOverview:
		task = llm.TaskEditOverview
	case story.KindChapter:
		task = llm.TaskEditChapter
	default:
		return x.emit(fmt.Sprintf("Skipping %s: not revisable", e.Section), Event{})
	}

	if !seeding {
		source, ok := x.source(e.Section)
		if !ok {
			x.logger.Warn("impacted section missing", "section", e.Section.String())
			return x.emit(fmt.Sprintf("Skipping %s: section does not exist", e.Section), Event{})
		}
		vars.Draft = source
	}

	if !x.emit(fmt.Sprintf("Revising %s", e.Section), Event{}) {
		return false
	}
	msgs, err := x.prompts.Render(task, vars)
	if err != nil {
		return x.emit(fmt.Sprintf("Revising %s failed: %v", e.Section, err), Event{})
	}
	text, err := x.backend.Complete(x.ctx, task, msgs)
	if err != nil {
		if errors.Is(err, story.ErrCancelled) {
			x.finish("Revision stopped; drafts so far are kept", Event{Paused: true})
			return false
		}
		x.logger.Warn("revision call failed", "section", e.Section.String(), "error", err)
		return x.emit(fmt.Sprintf("Revising %s failed: %v", e.Section, err), Event{})
	}

	x.drafts.AddGenerated(e.Section, text)
	return x.emit(fmt.Sprintf("Generated draft for %s", e.Section), Event{})
}

// seeding reports the empty-project case: a fill edit with no committed
// chapters, where plot and overview are written from the fill content.
func (x *session) seeding(st story.State) bool {
	return x.plan.Edited.IsFill() && len(st.ChaptersFull) == 0
}

// source returns the best base text: a USER draft, else committed content.
func (x *session) source(sec story.Section) (string, bool) {
	if text, ok := x.drafts.ContentOf(sec, story.SlotUser); ok {
		return text, true
	}
	text, err := x.checkpoint.GetSection(sec)
	if err != nil {
		return "", false
	}
	return text, true
}

// latest prefers a draft generated earlier in this session so that later
// sections see the revised plot and overview.
func (x *session) latest(sec story.Section, committed string) string {
	if text, ok := x.drafts.ContentOf(sec, story.SlotGenerated); ok {
		return text
	}
	if text, ok := x.drafts.ContentOf(sec, story.SlotUser); ok {
		return text
	}
	return committed
}

func (x *session) finish(msg string, ev Event) {
	x.emit(msg, ev)
	if len(x.streamed) == 0 {
		return
	}
	if _, err := x.checkpoint.Update(func(s *story.State) error {
		s.StatusLog = statuslog.Merge(s.StatusLog, x.streamed)
		return nil
	}); err != nil {
		x.logger.Debug("status log not merged", "error", err)
	}
}

func (x *session) emit(msg string, ev Event) bool {
	if x.gone {
		return false
	}
	line := x.status.Line(msg)
	x.streamed = append(x.streamed, line)

	st, _ := x.checkpoint.Load()
	st.StatusLog = statuslog.Merge(st.StatusLog, x.streamed)

	ev.PlanID = x.plan.ID
	ev.State = st
	ev.Log = line
	ev.Drafts = x.drafts.Snapshot()
	if !x.yield(ev) {
		x.gone = true
		x.logger.Debug("consumer left revision stream")
	}
	return !x.gone
}
