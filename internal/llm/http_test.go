package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, reply string) (*httptest.Server, *map[string]any, *http.Header) {
	t.Helper()
	var body map[string]any
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &header
}

func TestOpenAIRequestShape(t *testing.T) {
	srv, body, header := capture(t, `{"choices":[{"message":{"content":"hello"}}],"usage":{"total_tokens":3}}`)
	p, err := NewHTTPProvider(KindOpenAI, "sk-test", srv.URL, "gpt-test")
	require.NoError(t, err)

	text, err := p.Generate(context.Background(),
		[]Message{System("be brief"), User("hi")},
		Params{MaxTokens: 100, Temperature: Float(0.5)})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, "Bearer sk-test", header.Get("Authorization"))
	assert.Equal(t, "gpt-test", (*body)["model"])
	assert.EqualValues(t, 100, (*body)["max_tokens"])
	assert.EqualValues(t, 0.5, (*body)["temperature"])
	assert.Len(t, (*body)["messages"], 2)
	assert.NotContains(t, *body, "reasoning_effort")
}

func TestOpenAIReasoningParams(t *testing.T) {
	srv, body, _ := capture(t, `{"choices":[{"message":{"content":"x"}}]}`)
	p, err := NewHTTPProvider(KindOpenAI, "k", srv.URL, "o-test")
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), []Message{User("hi")},
		Params{MaxTokens: 100, MaxReasoningTokens: 50, ReasoningEffort: "low", Temperature: Float(0.3)})
	require.NoError(t, err)

	assert.Equal(t, "low", (*body)["reasoning_effort"])
	assert.EqualValues(t, 150, (*body)["max_completion_tokens"])
	assert.NotContains(t, *body, "max_tokens")
	assert.NotContains(t, *body, "temperature")
}

func TestAnthropicRequestShape(t *testing.T) {
	srv, body, header := capture(t, `{"content":[{"type":"thinking","text":""},{"type":"text","text":"hel"},{"type":"text","text":"lo"}]}`)
	p, err := NewHTTPProvider(KindAnthropic, "ak", srv.URL, "claude-test")
	require.NoError(t, err)

	text, err := p.Generate(context.Background(),
		[]Message{System("rules"), User("hi"), Assistant("yo"), User("more")},
		Params{MaxTokens: 200, MaxReasoningTokens: 1000, Temperature: Float(0.7)})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, "ak", header.Get("x-api-key"))
	assert.Equal(t, "rules", (*body)["system"])
	assert.Len(t, (*body)["messages"], 3)
	assert.EqualValues(t, 1200, (*body)["max_tokens"])
	thinking, ok := (*body)["thinking"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1000, thinking["budget_tokens"])
	assert.NotContains(t, *body, "temperature")
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(KindAnthropic, "k", srv.URL, "m")
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), []Message{User("hi")}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestUnsupportedKind(t *testing.T) {
	_, err := NewHTTPProvider("carrier-pigeon", "", "", "")
	assert.Error(t, err)
}
