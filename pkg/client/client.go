// Package client calls an OpenAI-compatible chat completions endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int64
}

// Prompt is a single delegated query.
type Prompt struct {
	System    string
	Context   string
	Query     string
	Model     string // empty uses the configured model
	MaxTokens int64  // zero uses the configured limit
}

// Completion is the remote answer and what it consumed.
type Completion struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// RateLimitError is returned when the remote answers 429.
type RateLimitError struct {
	StatusCode int
	retryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.retryAfter > 0 {
		return fmt.Sprintf("remote rate limited (HTTP %d), retry after %s", e.StatusCode, e.retryAfter)
	}
	return fmt.Sprintf("remote rate limited (HTTP %d)", e.StatusCode)
}

// RetryAfter returns the delay the remote asked for, zero when absent.
func (e *RateLimitError) RetryAfter() time.Duration { return e.retryAfter }

// APIError is a non-throttling error status from the remote. The response
// body is deliberately not kept.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client wraps the openai-go SDK.
type Client struct {
	client    openai.Client
	model     string
	maxOutput int64
}

// New creates a Client. The SDK's own retries are disabled; throttling is
// handled by the caller's rate limiter.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("client: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("client: model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Client{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxOutput: cfg.MaxOutputTokens,
	}, nil
}

// Model returns the configured default model.
func (c *Client) Model() string { return c.model }

// MaxOutputTokens returns the configured output ceiling.
func (c *Client) MaxOutputTokens() int64 { return c.maxOutput }

// ResolveModel returns the model a prompt will be sent to.
func (c *Client) ResolveModel(p Prompt) string {
	if p.Model != "" {
		return p.Model
	}
	return c.model
}

// Complete sends a prompt and returns the first choice.
func (c *Client) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(p),
		Model:    c.ResolveModel(p),
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutput
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(maxTokens)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("client: remote returned no choices")
	}

	choice := completion.Choices[0]
	return &Completion{
		Content:      choice.Message.Content,
		Model:        completion.Model,
		FinishReason: choice.FinishReason,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

func buildMessages(p Prompt) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	if p.Context != "" {
		msgs = append(msgs, openai.UserMessage("Context:\n"+p.Context))
	}
	return append(msgs, openai.UserMessage(p.Query))
}

// classify maps SDK errors to RateLimitError or APIError. Anything else
// (transport failures, cancellation) is wrapped unchanged.
func classify(err error) error {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("client: %w", err)
	}
	if apierr.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if apierr.Response != nil {
			retryAfter = parseRetryAfter(apierr.Response.Header.Get("Retry-After"), time.Now())
		}
		return &RateLimitError{StatusCode: apierr.StatusCode, retryAfter: retryAfter}
	}
	return &APIError{StatusCode: apierr.StatusCode}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
