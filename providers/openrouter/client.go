package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pdf-checker/providers"
)

const (
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxAttempts = 3
)

// Config holds the OpenRouter client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// RequestsPerSecond caps outgoing calls across all workers; 0 disables the limit.
	RequestsPerSecond float64
	MaxTokens         int
	Temperature       float64
	HTTPClient        *http.Client
}

// Client is a Summarizer backed by the OpenRouter chat completions API.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	Logger     *zap.Logger
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Deadlines come from the caller's context.
		httpClient = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{config: cfg, httpClient: httpClient, limiter: limiter, Logger: logger}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openrouter"
}

// ChatCompletionRequest is the body of POST /chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the subset of the response we store.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// statusError is a non-200 answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "status " + strconv.Itoa(e.code) + ": " + e.body
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Summarize asks the configured model to explain the accessibility failures.
func (c *Client) Summarize(ctx context.Context, req providers.SummaryRequest) (*providers.Summary, error) {
	if c.config.APIKey == "" {
		return nil, errors.Wrap(providers.ErrAuth, "openrouter api key not configured")
	}
	log := c.Logger.With(zap.String("document_id", req.DocumentID), zap.String("model", c.config.Model))

	prompt := providers.BuildPrompt(req)
	body := ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []Message{
			{Role: "system", Content: providers.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	start := time.Now()
	var (
		resp *ChatCompletionResponse
		raw  []byte
		err  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = c.limiter.Wait(ctx); err != nil {
			return nil, providers.Timeout("openrouter rate limiter", providers.DeadlineOf(ctx, start))
		}
		resp, raw, err = c.createChatCompletion(ctx, body)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, providers.Timeout("openrouter", providers.DeadlineOf(ctx, start))
		}

		var execErr *providers.ExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		var se *statusError
		if errors.As(err, &se) {
			switch {
			case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
				return nil, errors.Wrap(providers.ErrAuth, se.Error())
			case !se.retryable():
				return nil, providers.Execution("openrouter", "request rejected", err)
			}
		}
		log.Warn("OpenRouter request failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, providers.Timeout("openrouter", providers.DeadlineOf(ctx, start))
			}
		}
	}
	if err != nil {
		return nil, providers.Execution("openrouter", "giving up after retries", err)
	}

	if len(resp.Choices) == 0 {
		return nil, providers.Execution("openrouter", "no choices in response", nil)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, providers.Execution("openrouter", "empty completion", nil)
	}

	model := resp.Model
	if model == "" {
		model = c.config.Model
	}
	log.Info("OpenRouter summary received",
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &providers.Summary{
		Text:             text,
		Provider:         c.Name(),
		Model:            model,
		Prompt:           prompt,
		ResponseID:       resp.ID,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		RawResponseJSON:  string(raw),
		RequestedAt:      start,
	}, nil
}

func (c *Client) createChatCompletion(ctx context.Context, body ChatCompletionRequest) (*ChatCompletionResponse, []byte, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("X-Title", "pdf-checker")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &statusError{code: resp.StatusCode, body: truncate(string(respBody), 512)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, nil, providers.Execution("openrouter", "unreadable response", err)
	}
	return &chatResp, respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ providers.Summarizer = (*Client)(nil)
