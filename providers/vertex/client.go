package vertex

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pdf-checker/providers"
)

const DefaultModel = "gemini-1.5-flash"

// generator is the part of *genai.GenerativeModel we call.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is a Summarizer backed by Gemini on Vertex AI.
type Client struct {
	model      generator
	modelName  string
	baseClient *genai.Client
	Logger     *zap.Logger
}

// NewClient connects to Vertex AI using application default credentials.
func NewClient(ctx context.Context, projectID, region, modelName string, logger *zap.Logger) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, errors.New("vertex: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, errors.Wrap(err, "genai.NewClient")
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(providers.SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: genai.Ptr[int32](800),
	}

	return &Client{model: model, modelName: modelName, baseClient: baseClient, Logger: logger}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "vertex"
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// Summarize asks Gemini to explain the accessibility failures.
func (c *Client) Summarize(ctx context.Context, req providers.SummaryRequest) (*providers.Summary, error) {
	log := c.Logger.With(zap.String("document_id", req.DocumentID), zap.String("model", c.modelName))
	prompt := providers.BuildPrompt(req)

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, providers.Timeout("vertex", providers.DeadlineOf(ctx, start))
		}
		return nil, classify(err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, providers.Execution("vertex", "response contained no text", nil)
	}

	summary := &providers.Summary{
		Text:        text,
		Provider:    c.Name(),
		Model:       c.modelName,
		Prompt:      prompt,
		RequestedAt: start,
	}
	if len(resp.Candidates) > 0 {
		summary.FinishReason = strings.ToLower(strings.TrimPrefix(resp.Candidates[0].FinishReason.String(), "FinishReason"))
	}
	if u := resp.UsageMetadata; u != nil {
		summary.PromptTokens = int(u.PromptTokenCount)
		summary.CompletionTokens = int(u.CandidatesTokenCount)
		summary.TotalTokens = int(u.TotalTokenCount)
	}
	if raw, err := json.Marshal(resp); err == nil {
		summary.RawResponseJSON = string(raw)
	}

	log.Info("Vertex summary received",
		zap.Int("total_tokens", summary.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))
	return summary, nil
}

// classify maps gRPC status codes onto the provider error taxonomy.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return providers.Execution("vertex", "generate content", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return errors.Wrap(providers.ErrAuth, st.Message())
	case codes.DeadlineExceeded:
		return errors.Wrap(providers.ErrTimeout, st.Message())
	default:
		return providers.Execution("vertex", st.Code().String(), err)
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ providers.Summarizer = (*Client)(nil)
