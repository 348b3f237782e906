package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pario-ai/relay/pkg/budget"
	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/client"
	"github.com/pario-ai/relay/pkg/governor"
	"github.com/pario-ai/relay/pkg/ratelimit"
	"github.com/pario-ai/relay/pkg/redact"
	"github.com/pario-ai/relay/pkg/tokens"
)

const systemPrompt = "You are answering a question delegated by another AI assistant. Be accurate and concise."

// Tool argument structs.

type askArgs struct {
	Query     string `json:"query"`
	Context   string `json:"context"`
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	NoCache   bool   `json:"no_cache"`
}

type usageArgs struct {
	Records int `json:"records"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"relay_ask":           handleAsk,
	"relay_usage":         handleUsage,
	"relay_rate_status":   handleRateStatus,
	"relay_cache_stats":   handleCacheStats,
	"relay_cache_clear":   handleCacheClear,
	"relay_reset_session": handleResetSession,
}

const emptySchema = `{"type": "object", "properties": {}, "additionalProperties": false}`

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "relay_ask",
		Description: "Delegate a question to the remote model. Answers are cached, rate limited and charged against the session budget.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "The question to ask"},
    "context": {"type": "string", "description": "Background the model needs to answer (optional)"},
    "model": {"type": "string", "description": "Override the configured model (optional)"},
    "max_tokens": {"type": "integer", "minimum": 1, "maximum": 32768, "description": "Output token ceiling (optional)"},
    "no_cache": {"type": "boolean", "description": "Skip the response cache (optional)"}
  },
  "additionalProperties": false
}`),
	},
	{
		Name:        "relay_usage",
		Description: "Show session spend by model, budget utilization and any budget warning.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "records": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Also list this many recent calls (optional)"}
  },
  "additionalProperties": false
}`),
	},
	{
		Name:        "relay_rate_status",
		Description: "Show remaining rate limit capacity, queue depth and backoff state.",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        "relay_cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, hit rate).",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        "relay_cache_clear",
		Description: "Remove every cached response.",
		InputSchema: json.RawMessage(emptySchema),
	},
	{
		Name:        "relay_reset_session",
		Description: "Start a new session: clears spend and the rate window. Cached responses are kept.",
		InputSchema: json.RawMessage(emptySchema),
	},
}

func compileSchemas(tools []ToolDefinition) (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		sch, err := jsonschema.CompileString("tools/"+tool.Name+".json", string(tool.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", tool.Name, err)
		}
		out[tool.Name] = sch
	}
	return out, nil
}

// validateArgs checks raw tool arguments against the tool's input schema.
// Missing arguments validate as an empty object.
func (s *Server) validateArgs(tool string, raw json.RawMessage) error {
	sch, ok := s.schemas[tool]
	if !ok {
		return nil
	}
	var v any = map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.New("arguments are not valid JSON")
		}
	}
	if err := sch.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(leafMessage(ve))
		}
		return err
	}
	return nil
}

// leafMessage returns the most specific validation failure.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return strings.TrimPrefix(ve.InstanceLocation, "/") + ": " + ve.Message
}

func decodeArgs(raw json.RawMessage, v any) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, v)
	}
}

func handleAsk(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.completer == nil {
		return errorResult("The remote model is not configured. Set RELAY_API_KEY or remote.api_key.")
	}
	var args askArgs
	decodeArgs(rawArgs, &args)

	model := args.Model
	if model == "" {
		model = s.completer.Model()
	}
	maxOut := args.MaxTokens
	if maxOut <= 0 {
		maxOut = s.completer.MaxOutputTokens()
	}

	promptTokens := tokens.EstimatePrompt(systemPrompt, args.Context, args.Query)
	req := governor.Request{
		EstimatedTokens:  promptTokens + maxOut,
		EstimatedCostUSD: s.pricing.Cost(model, promptTokens, maxOut),
	}
	if !args.NoCache {
		req.CacheKey = cache.Key(args.Query, model, args.Context)
	}

	res, err := s.gov.Execute(ctx, req, func(ctx context.Context) ([]byte, governor.Usage, error) {
		comp, err := s.completer.Complete(ctx, client.Prompt{
			System:    systemPrompt,
			Context:   args.Context,
			Query:     args.Query,
			Model:     model,
			MaxTokens: maxOut,
		})
		if err != nil {
			return nil, governor.Usage{Model: model}, err
		}
		if comp.Model == "" {
			comp.Model = model
		}
		usage := governor.Usage{
			Model:        comp.Model,
			InputTokens:  comp.InputTokens,
			OutputTokens: comp.OutputTokens,
			CostUSD:      s.pricing.Cost(comp.Model, comp.InputTokens, comp.OutputTokens),
		}
		data, err := s.encode(comp)
		if err != nil {
			return nil, usage, fmt.Errorf("encode completion: %w", err)
		}
		return data, usage, nil
	})
	if err != nil {
		return errorResult(describeError(err))
	}

	var comp client.Completion
	if err := json.Unmarshal(res.Value, &comp); err != nil {
		return errorResult("Cached response is unreadable; retry with no_cache.")
	}
	return textResult(formatAnswer(&comp, res, s.gov.Tracker().BudgetWarning()))
}

func handleUsage(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args usageArgs
	decodeArgs(rawArgs, &args)

	t := s.gov.Tracker()
	text := formatUsage(t.Summary(), t.BudgetWarning())
	if args.Records > 0 {
		recs := t.Records()
		if len(recs) > args.Records {
			recs = recs[len(recs)-args.Records:]
		}
		text += "\n" + formatRecords(recs)
	}
	return textResult(text)
}

func handleRateStatus(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatRateStatus(s.gov.Limiter().Status()))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheStats(s.gov.Cache().Stats()))
}

func handleCacheClear(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	n := s.gov.Cache().Len()
	s.gov.Cache().Clear()
	return textResult(fmt.Sprintf("Cleared %d cached responses.", n))
}

func handleResetSession(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	prev := s.gov.Tracker().SessionID()
	s.gov.Reset()
	return textResult(fmt.Sprintf("Session %s closed. New session %s started.", prev, s.gov.Tracker().SessionID()))
}

// describeError renders a governance or remote error for the host. Every
// path goes through redact so that no credential or raw body leaks.
func describeError(err error) string {
	var (
		exceeded  *budget.ExceededError
		full      *ratelimit.QueueFullError
		timeout   *ratelimit.QueueTimeoutError
		exhausted *ratelimit.ThrottleExhaustedError
		rateLimit *client.RateLimitError
	)
	switch {
	case errors.As(err, &exceeded):
		return fmt.Sprintf("Budget exceeded: $%.4f spent of $%.2f, this call was estimated at $%.4f. Use relay_reset_session to start a new session.",
			exceeded.Current, exceeded.Limit, exceeded.Estimated)
	case errors.As(err, &full):
		return fmt.Sprintf("Rate limit queue is full (%d/%d waiting). Try again shortly.", full.Size, full.Max)
	case errors.As(err, &timeout):
		return fmt.Sprintf("Timed out after %s waiting for rate limit capacity.", timeout.Timeout)
	case errors.As(err, &exhausted):
		return fmt.Sprintf("The remote kept throttling: gave up after %d retries (last delay %s, window usage %d/%d tokens).",
			exhausted.RetryCount, exhausted.FinalDelay, exhausted.TokensUsed, exhausted.TokensLimit)
	case errors.As(err, &rateLimit):
		return "The remote is rate limiting: " + redact.Error(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Request failed: " + redact.Error(err)
	}
}
