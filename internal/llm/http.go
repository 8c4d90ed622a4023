package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// HTTPProvider talks to OpenAI-compatible chat completions or to the
// Anthropic messages API.
type HTTPProvider struct {
	kind       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProvider builds a provider of the given kind. An empty baseURL
// selects the vendor default.
func NewHTTPProvider(kind, apiKey, baseURL, model string) (*HTTPProvider, error) {
	if baseURL == "" {
		switch kind {
		case KindOpenAI:
			baseURL = "https://api.openai.com/v1"
		case KindAnthropic:
			baseURL = "https://api.anthropic.com/v1"
		}
	}
	if kind != KindOpenAI && kind != KindAnthropic {
		return nil, fmt.Errorf("unsupported provider kind %q", kind)
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &HTTPProvider{
		kind:       kind,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Transport: transport},
		logger:     slog.Default().With("component", "llm_http", "provider", kind),
	}, nil
}

func (p *HTTPProvider) Name() string { return p.kind + ":" + p.model }

func (p *HTTPProvider) Generate(ctx context.Context, messages []Message, params Params) (string, error) {
	if p.kind == KindOpenAI {
		return p.doOpenAIRequest(ctx, messages, params)
	}
	return p.doAnthropicRequest(ctx, messages, params)
}

func (p *HTTPProvider) doOpenAIRequest(ctx context.Context, messages []Message, params Params) (string, error) {
	requestBody := map[string]any{
		"model":    p.model,
		"messages": messages,
	}
	if params.MaxTokens > 0 {
		requestBody["max_tokens"] = params.MaxTokens
	}
	if params.ReasoningEffort != "" {
		// Reasoning models reject sampling knobs and count output via
		// max_completion_tokens.
		requestBody["reasoning_effort"] = params.ReasoningEffort
		if params.MaxTokens > 0 {
			delete(requestBody, "max_tokens")
			requestBody["max_completion_tokens"] = params.MaxTokens + params.MaxReasoningTokens
		}
	} else {
		if params.Temperature != nil {
			requestBody["temperature"] = *params.Temperature
		}
		if params.TopP != nil {
			requestBody["top_p"] = *params.TopP
		}
	}

	respBody, err := p.post(ctx, "/chat/completions", requestBody, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	})
	if err != nil {
		return "", err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	p.logger.Debug("OpenAI request completed",
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens,
		"total_tokens", response.Usage.TotalTokens)
	return response.Choices[0].Message.Content, nil
}

func (p *HTTPProvider) doAnthropicRequest(ctx context.Context, messages []Message, params Params) (string, error) {
	system, turns := splitSystem(messages)
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	requestBody := map[string]any{
		"model":      p.model,
		"messages":   turns,
		"max_tokens": maxTokens,
	}
	if system != "" {
		requestBody["system"] = system
	}
	if params.MaxReasoningTokens > 0 {
		// Extended thinking requires the budget to fit inside max_tokens and
		// forbids custom sampling.
		requestBody["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": params.MaxReasoningTokens,
		}
		requestBody["max_tokens"] = maxTokens + params.MaxReasoningTokens
	} else {
		if params.Temperature != nil {
			requestBody["temperature"] = *params.Temperature
		}
		if params.TopP != nil {
			requestBody["top_p"] = *params.TopP
		}
	}

	respBody, err := p.post(ctx, "/messages", requestBody, func(req *http.Request) {
		req.Header.Set("x-api-key", p.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return "", err
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no content in response")
	}

	p.logger.Debug("Anthropic request completed",
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"total_tokens", response.Usage.InputTokens+response.Usage.OutputTokens)
	return sb.String(), nil
}

func (p *HTTPProvider) post(ctx context.Context, endpoint string, requestBody map[string]any, auth func(*http.Request)) ([]byte, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req)

	httpStart := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	p.logger.Debug("HTTP response received",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds(),
		"body_size", len(respBody))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
