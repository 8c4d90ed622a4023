package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Backend is the single capability the engine needs from a language model:
// one chat completion per named task.
type Backend interface {
	Complete(ctx context.Context, task Task, messages []Message) (string, error)
}

// Provider speaks one vendor's wire protocol.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []Message, params Params) (string, error)
}

// Client is the production Backend. It resolves task params from a Catalog,
// routes the task to a provider, rate-limits requests and retries failures
// with a constant pause.
type Client struct {
	fallback Provider
	routes   map[Task]Provider
	catalog  *Catalog
	limiter  *rate.Limiter
	pause    time.Duration
	logger   *slog.Logger
}

type Option func(*Client)

func WithCatalog(c *Catalog) Option {
	return func(cl *Client) {
		cl.catalog = c
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		if requestsPerMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), max(burst, 1))
	}
}

// WithRetryPause sets the fixed wait between attempts.
func WithRetryPause(d time.Duration) Option {
	return func(c *Client) {
		c.pause = d
	}
}

// WithRoute sends every call of task to p instead of the default provider.
func WithRoute(task Task, p Provider) Option {
	return func(c *Client) {
		c.routes[task] = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		fallback: provider,
		routes:   make(map[Task]Provider),
		catalog:  NewCatalog(nil),
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		pause:    2 * time.Second,
		logger:   slog.Default().With("component", "llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("LLM client initialized",
		"provider", provider.Name(),
		"routes", len(c.routes),
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))
	return c
}

func (c *Client) provider(task Task) Provider {
	if p, ok := c.routes[task]; ok {
		return p
	}
	return c.fallback
}

// Complete runs task with up to Retries+1 attempts. Each attempt gets its own
// Timeout. Exhaustion yields a *story.BackendError.
func (c *Client) Complete(ctx context.Context, task Task, messages []Message) (string, error) {
	params, err := c.catalog.Params(task)
	if err != nil {
		return "", err
	}
	provider := c.provider(task)
	requestID := uuid.NewString()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("rate limit wait failed",
			"request_id", requestID,
			"task", task,
			"error", err)
		return "", fmt.Errorf("%w: rate limit wait: %w", story.ErrCancelled, err)
	}

	attempts := params.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("retry pause",
				"request_id", requestID,
				"task", task,
				"attempt", attempt,
				"pause_ms", c.pause.Milliseconds())
			select {
			case <-time.After(c.pause):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", story.ErrCancelled, ctx.Err())
			}
		}

		attemptStart := time.Now()
		c.logger.Debug("sending LLM request",
			"request_id", requestID,
			"task", task,
			"provider", provider.Name(),
			"attempt", attempt,
			"messages", len(messages),
			"max_tokens", params.MaxTokens)

		text, err := c.attempt(ctx, provider, messages, params)
		if err == nil {
			c.logger.Info("LLM request successful",
				"request_id", requestID,
				"task", task,
				"attempt", attempt,
				"duration_ms", time.Since(attemptStart).Milliseconds(),
				"response_length", len(text))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", story.ErrCancelled, ctx.Err())
		}

		lastErr = err
		c.logger.Warn("LLM request failed",
			"request_id", requestID,
			"task", task,
			"attempt", attempt,
			"duration_ms", time.Since(attemptStart).Milliseconds(),
			"error", err)
	}

	c.logger.Error("LLM request failed after retries",
		"request_id", requestID,
		"task", task,
		"attempts", attempts,
		"total_duration_ms", time.Since(start).Milliseconds(),
		"last_error", lastErr)
	return "", &story.BackendError{Task: string(task), Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, p Provider, messages []Message, params Params) (string, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}
	text, err := p.Generate(ctx, messages, params)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

var errEmptyResponse = errors.New("empty response")
