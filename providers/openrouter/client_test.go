package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdf-checker/providers"
)

func testRequest() providers.SummaryRequest {
	return providers.SummaryRequest{
		DocumentID:       "doc-1",
		OriginalFilename: "report.pdf",
		Verdict: &providers.Verdict{
			FailedRules:            1,
			FailedRuleDescriptions: []string{"Figures shall have alternative text"},
		},
	}
}

func TestSummarizeSuccess(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "pdf-checker", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gen-123","model":"openai/gpt-4o-mini-2024-07-18",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Add alt text to figures.  "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "secret", BaseURL: server.URL + "/"}, zaptest.NewLogger(t))
	summary, err := c.Summarize(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "Figures shall have alternative text")

	assert.Equal(t, "Add alt text to figures.", summary.Text)
	assert.Equal(t, "openrouter", summary.Provider)
	assert.Equal(t, "openai/gpt-4o-mini-2024-07-18", summary.Model)
	assert.Equal(t, "gen-123", summary.ResponseID)
	assert.Equal(t, "stop", summary.FinishReason)
	assert.Equal(t, 150, summary.TotalTokens)
	assert.Equal(t, got.Messages[1].Content, summary.Prompt)
	assert.NotEmpty(t, summary.RawResponseJSON)
	assert.False(t, summary.RequestedAt.IsZero())
}

func TestSummarizeUnauthorizedIsAuthError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"No auth credentials found"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "wrong", BaseURL: server.URL}, zaptest.NewLogger(t))
	_, err := c.Summarize(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrAuth)
	assert.Equal(t, int32(1), calls.Load(), "auth failures are not retried")
}

func TestSummarizeMissingKeyIsAuthError(t *testing.T) {
	c := NewClient(Config{}, zaptest.NewLogger(t))
	_, err := c.Summarize(context.Background(), testRequest())
	assert.ErrorIs(t, err, providers.ErrAuth)
}

func TestSummarizeBadRequestIsExecutionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zaptest.NewLogger(t))
	_, err := c.Summarize(context.Background(), testRequest())
	var execErr *providers.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "model not found")
}

func TestSummarizeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"gen-2","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zaptest.NewLogger(t))
	summary, err := c.Summarize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", summary.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSummarizeEmptyChoicesIsExecutionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"gen-3","choices":[]}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zaptest.NewLogger(t))
	_, err := c.Summarize(context.Background(), testRequest())
	var execErr *providers.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestSummarizeDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Summarize(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, providers.IsTimeout(err))
}
