// Package llm is the OpenAI-compatible Summarizer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/summarize"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client calls a chat completion endpoint to summarize a round.
type Client struct {
	openai      openai.Client
	model       string
	maxTokens   int
	temperature float64
	maxAttempts int
	backoff     time.Duration
}

var _ summarize.Summarizer = (*Client)(nil)

// New creates a Client from the AI settings. An API key is required.
func New(cfg config.AIConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are driven by Summarize so they stay inside the summarizer deadline
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		openai:      openai.NewClient(reqOpts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		maxAttempts: attempts,
		backoff:     500 * time.Millisecond,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Summarize implements summarize.Summarizer. Transient failures are retried
// up to the configured attempt count while ctx allows.
func (c *Client) Summarize(ctx context.Context, req summarize.Request) (*summarize.Response, error) {
	params := c.params(req)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		content, model, err := c.complete(ctx, params)
		if err == nil {
			payload, err := ExtractJSON(content)
			if err != nil {
				return nil, err
			}
			return &summarize.Response{Payload: payload, Model: model}, nil
		}

		lastErr = err
		if attempt == c.maxAttempts || !IsRetryable(ctx, err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (after %d attempts)", lastErr, attempt)
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return nil, lastErr
}

func (c *Client) params(req summarize.Request) openai.ChatCompletionNewParams {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "round_digest",
		Description: openai.String("Structured digest of one discussion round"),
		Schema:      digestSchema,
		Strict:      openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
		MaxTokens: openai.Int(int64(c.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	return params
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, string, error) {
	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", "", fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("no choices in response")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return resp.Choices[0].Message.Content, model, nil
}

// digest is the response shape requested from the model.
type digest struct {
	Title              string   `json:"title" jsonschema:"description=Short headline of at most 50 characters"`
	Summary            string   `json:"summary" jsonschema:"description=Overall summary of about 200 words"`
	Consensus          []string `json:"consensus" jsonschema:"description=3 to 5 concrete points of agreement"`
	Disagreements      []string `json:"disagreements" jsonschema:"description=3 to 5 concrete points of disagreement"`
	NewQuestions       []string `json:"newQuestions" jsonschema:"description=2 or 3 questions for the next round"`
	ReferencedComments []string `json:"referencedComments" jsonschema:"description=IDs of the 3 to 5 most representative comments"`
	Sentiment          string   `json:"sentiment" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	ConvergenceScore   float64  `json:"convergenceScore" jsonschema:"description=Agreement between 0 and 1"`
}

var digestSchema = GenerateSchema[digest]()

// GenerateSchema reflects a strict JSON schema for T.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry",
				"status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry",
				"status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode,
				"error_type", apiErr.Type,
				"error_code", apiErr.Code)
			return false
		}
	}

	// Network errors (no API response) are generally retryable
	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}
