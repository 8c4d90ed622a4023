package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/engine"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/storage"
)

// session holds what every command needs once the configuration is loaded.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  llm.Backend
	prompts  *prompts.Library
	projects *storage.ProjectStore
	history  *storage.History
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	now      func() time.Time
}

func (s *session) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}

// engine builds an engine persisting into project. An empty project yields a
// read-only engine.
func (s *session) engine(project string) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithMaxValidationAttempts(s.cfg.Pipeline.MaxValidationAttempts),
		engine.WithTransitions(s.cfg.Pipeline.TransitionCacheSize, s.cfg.Pipeline.TransitionRetries),
		engine.WithLogger(s.logger),
		engine.WithPrompts(s.prompts),
	}
	if project != "" {
		bound, err := s.projects.Bind(project)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithPersister(bound), engine.WithPersister(s.history.Bind(project)))
	}
	return engine.New(s.backend, opts...)
}

// open loads project into a fresh engine. Writable engines persist every
// later commit back into the project.
func (s *session) open(ctx context.Context, project string, writable bool) (*engine.Engine, error) {
	st, err := s.projects.Load(ctx, project)
	if err != nil {
		return nil, err
	}
	name := ""
	if writable {
		name = project
	}
	e, err := s.engine(name)
	if err != nil {
		return nil, err
	}
	e.Open(st)
	return e, nil
}

// drive consumes a run. The first interrupt asks the engine to pause at its
// next step boundary; calls already in flight finish.
func drive[E any](ctx context.Context, e *engine.Engine, seq iter.Seq[E], report func(E)) error {
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		for ev := range seq {
			report(ev)
		}
		return nil
	})
	return g.Wait()
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Backend, error) {
	primary, err := newProvider(ctx, cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	overrides, err := cfg.Overrides()
	if err != nil {
		return nil, err
	}
	opts := []llm.Option{
		llm.WithCatalog(llm.NewCatalog(overrides)),
		llm.WithRateLimit(cfg.LLM.RateLimit.RequestsPerMinute, cfg.LLM.RateLimit.BurstSize),
		llm.WithRetryPause(cfg.RetryPause()),
		llm.WithLogger(logger.With("component", "llm_client")),
	}
	for name, route := range cfg.LLM.Routes {
		task, err := llm.ParseTask(name)
		if err != nil {
			return nil, err
		}
		p, err := newProvider(ctx, route.Provider, route.APIKey, route.BaseURL, route.Model)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", name, err)
		}
		opts = append(opts, llm.WithRoute(task, p))
	}
	return llm.NewClient(primary, opts...), nil
}

func newProvider(ctx context.Context, kind, apiKey, baseURL, model string) (llm.Provider, error) {
	if kind == llm.KindGemini {
		return llm.NewGeminiProvider(ctx, apiKey, model)
	}
	return llm.NewHTTPProvider(kind, apiKey, baseURL, model)
}
