package llm

import (
	"context"
	"fmt"
	"log/slog"

	genai "google.golang.org/genai"
)

const KindGemini = "gemini"

// GeminiProvider wraps the official genai client.
type GeminiProvider struct {
	cli    *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiProvider creates a Gemini API client. An empty apiKey lets the SDK
// read GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiProvider{
		cli:    cli,
		model:  model,
		logger: slog.Default().With("component", "llm_gemini"),
	}, nil
}

func (g *GeminiProvider) Name() string { return KindGemini + ":" + g.model }

func (g *GeminiProvider) Generate(ctx context.Context, messages []Message, params Params) (string, error) {
	system, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, geminiConfig(system, params))
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no content in response")
	}
	if resp.UsageMetadata != nil {
		g.logger.Debug("Gemini request completed",
			"prompt_tokens", resp.UsageMetadata.PromptTokenCount,
			"output_tokens", resp.UsageMetadata.CandidatesTokenCount,
			"thinking_tokens", resp.UsageMetadata.ThoughtsTokenCount)
	}
	return text, nil
}

func geminiConfig(system string, params Params) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens + params.MaxReasoningTokens)
	}
	if params.Temperature != nil {
		cfg.Temperature = float32Ptr(*params.Temperature)
	}
	if params.TopP != nil {
		cfg.TopP = float32Ptr(*params.TopP)
	}
	if params.MaxReasoningTokens > 0 {
		budget := int32(params.MaxReasoningTokens)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	return cfg
}

func float32Ptr(v float64) *float32 {
	f := float32(v)
	return &f
}
