package transitions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vampirenirmal/novelforge/internal/jsonx"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
)

// Planner asks the backend for contracts and caches them per overview.
type Planner struct {
	backend  llm.Backend
	prompts  *prompts.Library
	cache    *lru.Cache[string, []Contract]
	group    singleflight.Group
	retries  int
	validate *validator.Validate
	logger   *slog.Logger
}

type Option func(*Planner)

// WithRetries sets how many extra attempts follow a rejected plan.
func WithRetries(n int) Option {
	return func(p *Planner) {
		p.retries = max(n, 0)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

func NewPlanner(backend llm.Backend, lib *prompts.Library, cacheSize int, opts ...Option) (*Planner, error) {
	if cacheSize <= 0 {
		cacheSize = 16
	}
	cache, err := lru.New[string, []Contract](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating transition cache: %w", err)
	}
	p := &Planner{
		backend:  backend,
		prompts:  lib,
		cache:    cache,
		retries:  2,
		validate: validator.New(),
		logger:   slog.Default().With("component", "transitions"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Key identifies a plan by overview content and chapter count.
func Key(overview string, numChapters int) string {
	sum := sha256.Sum256([]byte(overview))
	return hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(numChapters)
}

// Plan returns numChapters contracts, or an empty slice when the backend
// never produced an acceptable plan. Both outcomes are cached until the
// overview changes.
func (p *Planner) Plan(ctx context.Context, expandedPlot, overview string, numChapters int) []Contract {
	if numChapters <= 0 || overview == "" {
		return nil
	}
	key := Key(overview, numChapters)
	if plan, ok := p.cache.Get(key); ok {
		return plan
	}

	v, _, _ := p.group.Do(key, func() (any, error) {
		if plan, ok := p.cache.Get(key); ok {
			return plan, nil
		}
		plan := p.generate(ctx, expandedPlot, overview, numChapters)
		if ctx.Err() == nil {
			p.cache.Add(key, plan)
		}
		return plan, nil
	})
	return v.([]Contract)
}

// Cached reports whether a plan for the overview is already known.
func (p *Planner) Cached(overview string, numChapters int) bool {
	return p.cache.Contains(Key(overview, numChapters))
}

// Invalidate drops every cached plan.
func (p *Planner) Invalidate() {
	p.cache.Purge()
}

func (p *Planner) generate(ctx context.Context, expandedPlot, overview string, numChapters int) []Contract {
	vars := prompts.Vars{ExpandedPlot: expandedPlot, Overview: overview, NumChapters: numChapters}

	for attempt := 1; attempt <= p.retries+1; attempt++ {
		msgs, err := p.prompts.Render(llm.TaskGenerateTransitions, vars)
		if err != nil {
			p.logger.Error("rendering transitions prompt", "error", err)
			return []Contract{}
		}
		raw, err := p.backend.Complete(ctx, llm.TaskGenerateTransitions, msgs)
		if err != nil {
			p.logger.Warn("transition planning call failed", "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return []Contract{}
			}
			continue
		}

		plan, err := p.parse(raw, numChapters)
		if err == nil {
			p.logger.Info("transition plan ready", "chapters", numChapters, "attempt", attempt)
			return plan
		}
		p.logger.Warn("transition plan rejected", "attempt", attempt, "error", err)
		vars.Feedback = err.Error()
	}

	p.logger.Warn("proceeding without transition contracts", "chapters", numChapters)
	return []Contract{}
}

var errWrongLength = errors.New("wrong number of transitions")

func (p *Planner) parse(raw string, numChapters int) ([]Contract, error) {
	payload, err := jsonx.Decode[struct {
		Transitions []Contract `json:"transitions"`
	}](raw)
	if err != nil {
		return nil, err
	}

	plan := payload.Transitions
	if len(plan) != numChapters {
		return nil, fmt.Errorf("%w: got %d, want %d", errWrongLength, len(plan), numChapters)
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Chapter < plan[j].Chapter })
	for i, c := range plan {
		if c.Chapter != i+1 {
			return nil, fmt.Errorf("transition %d has chapter %d", i+1, c.Chapter)
		}
		if err := p.validate.Struct(c); err != nil {
			return nil, fmt.Errorf("chapter %d: %w", c.Chapter, err)
		}
	}
	return plan, nil
}
