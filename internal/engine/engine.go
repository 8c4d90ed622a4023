// Package engine wires the stores, analyzers and runners of one process into
// a single service: the section API, creation and revision runs, the edit
// flow and the LLM-assisted editing helpers.
package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/vampirenirmal/novelforge/internal/checkpoint"
	"github.com/vampirenirmal/novelforge/internal/drafts"
	"github.com/vampirenirmal/novelforge/internal/infill"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/overview"
	"github.com/vampirenirmal/novelforge/internal/pipeline"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/revision"
	"github.com/vampirenirmal/novelforge/internal/stop"
	"github.com/vampirenirmal/novelforge/internal/story"
	"github.com/vampirenirmal/novelforge/internal/transitions"
)

type Engine struct {
	backend    llm.Backend
	prompts    *prompts.Library
	checkpoint *checkpoint.Store
	drafts     *drafts.Store
	infill     *infill.Registry
	stop       *stop.Signal
	planner    *transitions.Planner
	tokenizer  *overview.Tokenizer
	diff       *revision.DiffEngine
	impact     *revision.ImpactAnalyzer
	pipeline   *pipeline.Runner
	revision   *revision.Runner
	logger     *slog.Logger
}

type options struct {
	prompts           *prompts.Library
	persisters        []checkpoint.Persister
	maxAttempts       int
	transitionCache   int
	transitionRetries int
	logger            *slog.Logger
}

type Option func(*options)

// WithPrompts replaces the built-in prompt library.
func WithPrompts(lib *prompts.Library) Option {
	return func(o *options) {
		o.prompts = lib
	}
}

// WithPersister adds a durable sink for the committed state.
func WithPersister(p checkpoint.Persister) Option {
	return func(o *options) {
		o.persisters = append(o.persisters, p)
	}
}

func WithMaxValidationAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithTransitions sizes the transition cache and the planner's retry budget.
func WithTransitions(cacheSize, retries int) Option {
	return func(o *options) {
		o.transitionCache = cacheSize
		o.transitionRetries = retries
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds every collaborator once. The stores are shared by the runners
// and the section API; each keeps its own lock.
func New(backend llm.Backend, opts ...Option) (*Engine, error) {
	o := options{
		maxAttempts:       pipeline.DefaultMaxValidationAttempts,
		transitionRetries: 2,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	lib := o.prompts
	if lib == nil {
		lib = prompts.New()
	}

	cpOpts := []checkpoint.Option{checkpoint.WithLogger(o.logger)}
	for _, p := range o.persisters {
		cpOpts = append(cpOpts, checkpoint.WithPersister(p))
	}
	cp := checkpoint.New(cpOpts...)
	d := drafts.New()
	sig := stop.New()

	planner, err := transitions.NewPlanner(backend, lib, o.transitionCache,
		transitions.WithRetries(o.transitionRetries),
		transitions.WithLogger(o.logger.With("component", "transitions")))
	if err != nil {
		return nil, fmt.Errorf("creating transition planner: %w", err)
	}
	tokenizer := overview.NewTokenizer(backend, lib)

	e := &Engine{
		backend:    backend,
		prompts:    lib,
		checkpoint: cp,
		drafts:     d,
		infill:     infill.New(d, cp),
		stop:       sig,
		planner:    planner,
		tokenizer:  tokenizer,
		diff:       revision.NewDiffEngine(backend, lib),
		impact:     revision.NewImpactAnalyzer(backend, lib),
		pipeline: pipeline.New(backend, lib, cp, sig,
			pipeline.WithPlanner(planner),
			pipeline.WithTokenizer(tokenizer),
			pipeline.WithMaxValidationAttempts(o.maxAttempts),
			pipeline.WithLogger(o.logger.With("component", "pipeline"))),
		revision: revision.NewRunner(backend, lib, cp, d, sig),
		logger:   o.logger.With("component", "engine"),
	}
	return e, nil
}

func (e *Engine) Checkpoint() *checkpoint.Store { return e.checkpoint }
func (e *Engine) Drafts() *drafts.Store         { return e.drafts }
func (e *Engine) Planner() *transitions.Planner { return e.planner }

// Stop asks the running pipeline to pause at its next suspension point.
func (e *Engine) Stop() { e.stop.Request() }

// Open replaces the committed state, typically with a project loaded from
// disk. Drafts of the previous project are dropped.
func (e *Engine) Open(state story.State) {
	e.drafts.KeepOnlySlots(e.drafts.Keys(), nil)
	e.checkpoint.Save(state)
	e.logger.Info("project opened",
		"chapters", len(state.ChaptersFull),
		"mode", state.RunMode)
}

// State returns a detached copy of the committed state.
func (e *Engine) State() (story.State, bool) {
	return e.checkpoint.Load()
}

// RunCreation streams a creation run; see pipeline.Runner.Run.
func (e *Engine) RunCreation(ctx context.Context, in pipeline.Inputs, resume bool) iter.Seq[pipeline.Event] {
	return e.pipeline.Run(ctx, in, resume)
}

// RefreshFrom clears the committed output from anchor onward.
func (e *Engine) RefreshFrom(anchor pipeline.Anchor) (story.State, error) {
	return e.pipeline.RefreshFrom(anchor)
}

// RunRevision streams the revision of a plan produced by ApplyEdit.
func (e *Engine) RunRevision(ctx context.Context, plan revision.Plan) iter.Seq[revision.Event] {
	return e.revision.Run(ctx, plan)
}

// ListSections returns committed sections with pending fills interleaved.
func (e *Engine) ListSections() []story.Section {
	return e.infill.Dropdown()
}

// GetSection reads committed content, or the FILL slot of a pending fill.
func (e *Engine) GetSection(sec story.Section) (string, error) {
	if sec.IsFill() {
		text, ok := e.drafts.ContentOf(sec, story.SlotFill)
		if !ok {
			return "", fmt.Errorf("%w: %s", story.ErrUnknownSection, sec)
		}
		return text, nil
	}
	return e.checkpoint.GetSection(sec)
}

// SaveSection writes committed content directly, bypassing the edit flow.
// Pending fills are updated in place.
func (e *Engine) SaveSection(sec story.Section, content string) error {
	if sec.IsFill() {
		if !e.drafts.HasType(sec, story.SlotFill) {
			return fmt.Errorf("%w: %s", story.ErrUnknownSection, sec)
		}
		e.drafts.AddFill(sec, content)
		return nil
	}
	return e.checkpoint.SaveSection(sec, content)
}

// InsertChapter commits content as chapter k, clamped to [1, len+1].
func (e *Engine) InsertChapter(k int, content string) (int, error) {
	return e.infill.Insert(k, content)
}

// Draft returns the highest-priority draft of sec and its slot.
func (e *Engine) Draft(sec story.Section) (string, story.Slot, bool) {
	if slot, ok := e.drafts.Type(sec); ok {
		text, _ := e.drafts.ContentOf(sec, slot)
		return text, slot, true
	}
	return "", 0, false
}

// CreateFill registers a new pending chapter named after the selection. An
// empty project gets an empty START_EMPTY state so the fill can be committed.
func (e *Engine) CreateFill(selected *story.Section, content string) story.Section {
	if !e.checkpoint.Has() {
		e.checkpoint.Save(pipeline.Inputs{Mode: story.RunStartEmpty}.State())
	}
	return e.infill.Create(selected, content)
}

// Undo and Redo step the history of one draft slot.
func (e *Engine) Undo(sec story.Section, slot story.Slot) bool {
	return e.drafts.History().Undo(sec, slot)
}

func (e *Engine) Redo(sec story.Section, slot story.Slot) bool {
	return e.drafts.History().Redo(sec, slot)
}

// ChapterDescriptions splits the committed overview into one entry per
// planned chapter.
func (e *Engine) ChapterDescriptions(ctx context.Context) ([]string, overview.Method, error) {
	st, ok := e.checkpoint.Load()
	if !ok {
		return nil, overview.MethodFailed, story.ErrNoState
	}
	pieces, method := e.tokenizer.Split(ctx, st.ChaptersOverview, st.NumChapters)
	return pieces, method, nil
}
