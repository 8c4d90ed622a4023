// Package pipeline drives the creation pipeline: expand the plot, outline the
// chapters, validate the outline and write, validate and revise each chapter.
// Runs stream snapshots, can be paused at every step boundary and resume from
// the checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/overview"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/statuslog"
	"github.com/vampirenirmal/novelforge/internal/stop"
	"github.com/vampirenirmal/novelforge/internal/story"
	"github.com/vampirenirmal/novelforge/internal/transitions"
)

// DefaultMaxValidationAttempts bounds every validation loop.
const DefaultMaxValidationAttempts = 3

// Event is one streamed snapshot.
type Event struct {
	RunID  string
	State  story.State
	Log    string
	Paused bool
	Failed bool
	Done   bool
}

type Runner struct {
	backend     llm.Backend
	prompts     *prompts.Library
	checkpoint  *checkpoint.Store
	stop        *stop.Signal
	planner     *transitions.Planner
	tokenizer   *overview.Tokenizer
	status      *statuslog.Logger
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Runner)

// WithPlanner enables transition contracts. Without a planner chapters are
// written without contract clauses.
func WithPlanner(p *transitions.Planner) Option {
	return func(r *Runner) {
		r.planner = p
	}
}

// WithTokenizer hands every chapter its own overview entry. When the
// overview cannot be split, chapters are written from the whole overview.
func WithTokenizer(t *overview.Tokenizer) Option {
	return func(r *Runner) {
		r.tokenizer = t
	}
}

func WithMaxValidationAttempts(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithStatusLogger(l *statuslog.Logger) Option {
	return func(r *Runner) {
		r.status = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func New(backend llm.Backend, lib *prompts.Library, cp *checkpoint.Store, sig *stop.Signal, opts ...Option) *Runner {
	r := &Runner{
		backend:     backend,
		prompts:     lib,
		checkpoint:  cp,
		stop:        sig,
		status:      statuslog.New(),
		maxAttempts: DefaultMaxValidationAttempts,
		logger:      slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run streams a creation run. With resume set and a checkpoint present, the
// run continues from the stored state and ignores in; otherwise it starts
// from in.
func (r *Runner) Run(ctx context.Context, in Inputs, resume bool) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		x := &run{
			Runner: r,
			ctx:    ctx,
			yield:  yield,
			id:     uuid.NewString(),
		}
		x.logger = r.logger.With("run_id", x.id)
		x.execute(in, resume)
	}
}

// RefreshFrom discards everything produced from anchor onward so that the
// next resumed run regenerates it.
func (r *Runner) RefreshFrom(anchor Anchor) (story.State, error) {
	return r.checkpoint.Update(func(s *story.State) error {
		switch anchor.Step {
		case AnchorExpanded.Step:
			s.ExpandedPlot = ""
			fallthrough
		case AnchorOverview.Step:
			s.ChaptersOverview = ""
			s.OverviewValidated = false
			s.ChaptersFull = []string{}
			s.NextChapterIndex = nil
		case "chapter":
			if anchor.Chapter < 1 {
				return fmt.Errorf("%w: refresh from chapter %d", story.ErrInvariantBreach, anchor.Chapter)
			}
			if anchor.Chapter-1 < len(s.ChaptersFull) {
				s.ChaptersFull = s.ChaptersFull[:anchor.Chapter-1]
			}
			s.NextChapterIndex = story.IntPtr(min(anchor.Chapter, len(s.ChaptersFull)+1))
		default:
			return fmt.Errorf("unknown refresh anchor %q", anchor.Step)
		}
		s.PendingValidationIndex = nil
		s.StatusLog, _ = r.status.Append(s.StatusLog, "Refresh requested from "+anchor.String())
		return nil
	})
}

// run carries the state of one streamed execution.
type run struct {
	*Runner
	ctx    context.Context
	yield  func(Event) bool
	id     string
	state  story.State
	gone   bool
	logger *slog.Logger

	briefsFor string
	briefs    []string
}

// errStop ends a run early. Its cause has already been reported.
var errStop = errors.New("run stopped")

func (x *run) execute(in Inputs, resume bool) {
	st, ok := x.checkpoint.Load()
	if !resume || !ok {
		if err := in.Validate(); err != nil {
			// Report without touching the checkpoint of an existing project.
			x.logger.Error("invalid inputs", "error", err)
			state := in.State()
			var line string
			state.StatusLog, line = x.status.Append(state.StatusLog, fmt.Sprintf("Invalid inputs: %v", err))
			x.yield(Event{RunID: x.id, State: state, Log: line, Failed: true, Done: true})
			return
		}
		st = in.State()
	}
	x.state = st
	x.stop.Clear()

	if resume && ok {
		x.logger.Info("resuming run", "chapters", len(st.ChaptersFull), "mode", st.RunMode)
		if !x.emit("Resuming pipeline") {
			return
		}
	} else {
		x.logger.Info("starting run", "chapters", st.NumChapters, "mode", st.RunMode)
		if !x.emit(fmt.Sprintf("Starting pipeline (%s, %d chapters)", st.RunMode, st.NumChapters)) {
			return
		}
	}

	if x.state.RunMode == story.RunStartEmpty {
		x.finish("Empty project ready; add chapters with fills")
		return
	}

	steps := []func() error{
		x.expandPlot,
		x.generateOverview,
		x.validateOverview,
	}
	for _, step := range steps {
		if err := x.checkpointStop(); err != nil {
			return
		}
		if err := step(); err != nil {
			return
		}
	}
	if err := x.checkpointStop(); err != nil {
		return
	}

	if x.state.RunMode == story.RunOverview {
		x.finish("Overview complete")
		return
	}
	if err := x.chapters(); err != nil {
		return
	}
	x.finish("Pipeline complete")
}

func (x *run) expandPlot() error {
	if x.state.HasExpandedPlot() {
		return nil
	}
	if !x.emit("Expanding plot") {
		return errStop
	}
	text, err := x.call(llm.TaskExpandPlot, prompts.Vars{Plot: x.state.Plot, Genre: x.state.Genre})
	if err != nil {
		return x.stepFailed("Expanding plot", err)
	}
	x.state.ExpandedPlot = text
	if !x.emit("Expanded plot ready") {
		return errStop
	}
	return nil
}

func (x *run) generateOverview() error {
	if x.state.HasOverview() {
		return nil
	}
	if !x.emit("Generating chapter overview") {
		return errStop
	}
	text, err := x.call(llm.TaskGenerateOverview, x.overviewVars(""))
	if err != nil {
		return x.stepFailed("Generating overview", err)
	}
	x.state.ChaptersOverview = text
	x.state.OverviewValidated = false
	if !x.emit("Chapter overview ready") {
		return errStop
	}
	return nil
}

func (x *run) overviewVars(feedback string) prompts.Vars {
	return prompts.Vars{
		Plot:         x.state.Plot,
		Genre:        x.state.Genre,
		ExpandedPlot: x.state.ExpandedPlot,
		Overview:     x.state.ChaptersOverview,
		NumChapters:  x.state.NumChapters,
		Feedback:     feedback,
	}
}

func (x *run) validateOverview() error {
	if x.state.OverviewValidated {
		return nil
	}
	for attempt := 1; attempt <= x.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := x.checkpointStop(); err != nil {
				return err
			}
		}
		if !x.emit(fmt.Sprintf("Validating overview (attempt %d/%d)", attempt, x.maxAttempts)) {
			return errStop
		}
		verdict, feedback, err := x.judge(llm.TaskValidateOverview, x.overviewVars(""))
		if err != nil {
			return err
		}
		x.record("Overview", attempt, verdict, feedback)

		switch verdict {
		case VerdictOK:
			x.state.OverviewValidated = true
			if !x.emit("Overview validated") {
				return errStop
			}
			return nil
		case VerdictNotOK:
			if attempt == x.maxAttempts {
				break
			}
			if !x.emit("Overview rejected; regenerating with feedback") {
				return errStop
			}
			text, err := x.call(llm.TaskGenerateOverview, x.overviewVars(feedback))
			if err != nil {
				if errors.Is(err, story.ErrCancelled) {
					return x.pause()
				}
				if !x.emit(fmt.Sprintf("Regenerating overview failed: %v", err)) {
					return errStop
				}
				continue
			}
			x.state.ChaptersOverview = text
		default:
			if !x.emit("Overview validation inconclusive") {
				return errStop
			}
		}
	}

	x.state.OverviewValidated = true
	if !x.emit(fmt.Sprintf("Overview accepted after %d validation attempts without approval", x.maxAttempts)) {
		return errStop
	}
	return nil
}

func (x *run) chapters() error {
	st := x.state
	start := len(st.ChaptersFull) + 1
	if st.NextChapterIndex != nil {
		start = min(*st.NextChapterIndex, start)
	}
	resumeValidation := 0
	if p := st.PendingValidationIndex; p != nil && *p >= 1 && *p <= len(st.ChaptersFull) {
		start = *p
		resumeValidation = *p
	}

	for k := start; k <= x.state.NumChapters; k++ {
		if err := x.checkpointStop(); err != nil {
			return err
		}

		clause := x.contract(k)
		if k != resumeValidation {
			if err := x.writeChapter(k, clause); err != nil {
				return err
			}
			if err := x.checkpointStop(); err != nil {
				return err
			}
		} else if !x.emit(fmt.Sprintf("Resuming validation of chapter %d", k)) {
			return errStop
		}

		if err := x.validateChapter(k, clause); err != nil {
			return err
		}
		x.state.NextChapterIndex = story.IntPtr(k + 1)
		x.state.PendingValidationIndex = nil
		if !x.emit(fmt.Sprintf("Chapter %d complete", k)) {
			return errStop
		}
	}
	return nil
}

func (x *run) contract(k int) string {
	if x.planner == nil {
		return ""
	}
	plan := x.planner.Plan(x.ctx, x.state.ExpandedPlot, x.state.ChaptersOverview, x.state.NumChapters)
	return transitions.ClauseFor(plan, k)
}

// brief returns chapter k's overview entry, splitting the overview once per
// distinct overview text.
func (x *run) brief(k int) string {
	if x.tokenizer == nil {
		return ""
	}
	if x.briefsFor != x.state.ChaptersOverview || x.briefs == nil {
		pieces, method := x.tokenizer.Split(x.ctx, x.state.ChaptersOverview, x.state.NumChapters)
		x.logger.Debug("overview split", "method", method, "pieces", len(pieces))
		x.briefsFor = x.state.ChaptersOverview
		x.briefs = pieces
		if x.briefs == nil {
			x.briefs = []string{}
		}
	}
	if k < 1 || k > len(x.briefs) {
		return ""
	}
	return x.briefs[k-1]
}

func (x *run) chapterVars(k int, clause string) prompts.Vars {
	prev := x.state.ChaptersFull
	if k-1 < len(prev) {
		prev = prev[:k-1]
	}
	v := prompts.Vars{
		Genre:            x.state.Genre,
		ExpandedPlot:     x.state.ExpandedPlot,
		Overview:         x.state.ChaptersOverview,
		NumChapters:      x.state.NumChapters,
		ANPC:             x.state.ANPC,
		Chapter:          k,
		PreviousChapters: prev,
		Transition:       clause,
		ChapterBrief:     x.brief(k),
	}
	if k <= len(x.state.ChaptersFull) {
		v.Draft = x.state.ChaptersFull[k-1]
	}
	return v
}

func (x *run) writeChapter(k int, clause string) error {
	if k-1 > len(x.state.ChaptersFull) {
		return x.stepFailed(fmt.Sprintf("Writing chapter %d", k),
			fmt.Errorf("%w: only %d chapters exist", story.ErrInvariantBreach, len(x.state.ChaptersFull)))
	}
	if !x.emit(fmt.Sprintf("Writing chapter %d/%d", k, x.state.NumChapters)) {
		return errStop
	}
	text, err := x.call(llm.TaskWriteChapter, x.chapterVars(k, clause))
	if err != nil {
		return x.stepFailed(fmt.Sprintf("Writing chapter %d", k), err)
	}
	if k <= len(x.state.ChaptersFull) {
		x.state.ChaptersFull[k-1] = text
	} else {
		x.state.ChaptersFull = append(x.state.ChaptersFull, text)
	}
	x.state.PendingValidationIndex = story.IntPtr(k)
	if !x.emit(fmt.Sprintf("Chapter %d written", k)) {
		return errStop
	}
	return nil
}

func (x *run) validateChapter(k int, clause string) error {
	label := fmt.Sprintf("Chapter %d", k)
	for attempt := 1; attempt <= x.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := x.checkpointStop(); err != nil {
				return err
			}
		}
		if !x.emit(fmt.Sprintf("Validating chapter %d (attempt %d/%d)", k, attempt, x.maxAttempts)) {
			return errStop
		}
		verdict, feedback, err := x.judge(llm.TaskValidateChapter, x.chapterVars(k, clause))
		if err != nil {
			return err
		}
		x.record(label, attempt, verdict, feedback)

		switch verdict {
		case VerdictOK:
			return nil
		case VerdictNotOK:
			if attempt == x.maxAttempts {
				break
			}
			if !x.emit(fmt.Sprintf("Chapter %d rejected; revising", k)) {
				return errStop
			}
			vars := x.chapterVars(k, clause)
			vars.Feedback = feedback
			text, err := x.call(llm.TaskReviseChapter, vars)
			if err != nil {
				if errors.Is(err, story.ErrCancelled) {
					return x.pause()
				}
				if !x.emit(fmt.Sprintf("Revising chapter %d failed: %v", k, err)) {
					return errStop
				}
				continue
			}
			x.state.ChaptersFull[k-1] = text
			if !x.emit(fmt.Sprintf("Chapter %d revised", k)) {
				return errStop
			}
		default:
			if !x.emit(fmt.Sprintf("Chapter %d validation inconclusive", k)) {
				return errStop
			}
		}
	}
	if !x.emit(fmt.Sprintf("Chapter %d accepted after %d validation attempts without approval", k, x.maxAttempts)) {
		return errStop
	}
	return nil
}

func (x *run) call(task llm.Task, v prompts.Vars) (string, error) {
	msgs, err := x.prompts.Render(task, v)
	if err != nil {
		return "", err
	}
	return x.backend.Complete(x.ctx, task, msgs)
}

// judge runs a validator. Backend failures degrade to an unknown verdict;
// only cancellation ends the run.
func (x *run) judge(task llm.Task, v prompts.Vars) (Verdict, string, error) {
	reply, err := x.call(task, v)
	if err != nil {
		if errors.Is(err, story.ErrCancelled) {
			return VerdictUnknown, "", x.pause()
		}
		x.logger.Warn("validator failed", "task", task, "error", err)
		return VerdictUnknown, fmt.Sprintf("validator error: %v", err), nil
	}
	verdict, feedback := ParseVerdict(reply)
	return verdict, feedback, nil
}

func (x *run) record(label string, attempt int, verdict Verdict, feedback string) {
	entry := fmt.Sprintf("%s, attempt %d: %s", label, attempt, verdict)
	if feedback != "" {
		entry += "\n" + feedback
	}
	x.state.PrependValidation(entry)
}

// checkpointStop pauses the run when a stop was requested or the context
// ended.
func (x *run) checkpointStop() error {
	if x.gone {
		return errStop
	}
	if x.stop.IsSet() || x.ctx.Err() != nil {
		return x.pause()
	}
	return nil
}

func (x *run) pause() error {
	x.logger.Info("run paused",
		"chapters", len(x.state.ChaptersFull),
		"pending_validation", x.state.PendingValidationIndex)
	x.send("Stop requested; progress saved", Event{Paused: true})
	return errStop
}

func (x *run) stepFailed(what string, err error) error {
	if errors.Is(err, story.ErrCancelled) {
		return x.pause()
	}
	x.fail(fmt.Sprintf("%s failed: %v", what, err))
	return errStop
}

func (x *run) fail(msg string) {
	x.logger.Error("run failed", "reason", msg)
	x.send(msg, Event{Failed: true, Done: true})
}

func (x *run) finish(msg string) {
	x.logger.Info("run finished", "chapters", len(x.state.ChaptersFull))
	x.send(msg, Event{Done: true})
}

// emit appends a status line, saves the checkpoint and yields a snapshot. It
// reports whether the consumer still listens.
func (x *run) emit(msg string) bool {
	return x.send(msg, Event{})
}

func (x *run) send(msg string, ev Event) bool {
	if x.gone {
		return false
	}
	x.state.StatusLog, ev.Log = x.status.Append(x.state.StatusLog, msg)
	x.checkpoint.Save(x.state)
	ev.RunID = x.id
	ev.State = x.state.Clone()
	if !x.yield(ev) {
		x.gone = true
	}
	return !x.gone
}
