// Package governor sequences the cache, the cost tracker and the rate
// limiter around each remote call.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pario-ai/relay/pkg/budget"
	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/metrics"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/ratelimit"
	"github.com/pario-ai/relay/pkg/tracker"
)

// Throttled is implemented by errors that report the remote throttled a
// call. RetryAfter is the server's requested delay, zero when absent.
type Throttled interface {
	error
	RetryAfter() time.Duration
}

// Usage is what a completed call actually consumed.
type Usage struct {
	Model           string
	InputTokens     int64
	OutputTokens    int64
	EstimatedTokens int64
	CostUSD         float64
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Request describes a call to be governed.
type Request struct {
	// CacheKey is empty when the result must not be cached.
	CacheKey         string
	EstimatedTokens  int64
	EstimatedCostUSD float64
}

// Result is the outcome of a governed call.
type Result struct {
	Value    []byte
	Usage    Usage
	Cached   bool
	Attempts int
}

// Call performs the remote call. It returns the value to cache and the
// usage to reconcile.
type Call func(ctx context.Context) ([]byte, Usage, error)

// Governor coordinates the three services. It holds no mutable state of its
// own; a fresh Governor over fresh services is a full reset.
type Governor struct {
	cache   *cache.Cache
	tracker *tracker.Tracker
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Governor. m may be nil to disable metrics.
func New(c *cache.Cache, t *tracker.Tracker, l *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cache:   c,
		tracker: t,
		limiter: l,
		metrics: m,
		logger:  logger.With(slog.String("component", "governor")),
	}
}

// Cache returns the response cache.
func (g *Governor) Cache() *cache.Cache { return g.cache }

// Tracker returns the cost tracker.
func (g *Governor) Tracker() *tracker.Tracker { return g.tracker }

// Limiter returns the rate limiter.
func (g *Governor) Limiter() *ratelimit.Limiter { return g.limiter }

// TryCache returns a cached value for key. It never touches the limiter or
// the tracker.
func (g *Governor) TryCache(key string) ([]byte, bool) {
	if key == "" || !g.cache.Enabled() {
		return nil, false
	}
	v, ok := g.cache.Get(key)
	if g.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		g.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
	return v, ok
}

// CheckBudget rejects a call whose estimated cost does not fit the ceiling.
func (g *Governor) CheckBudget(estimatedUSD float64) error {
	err := g.tracker.CheckBudget(estimatedUSD)
	if err != nil && g.metrics != nil {
		g.metrics.BudgetRejections.Inc()
	}
	return err
}

// Admit waits for rate limiter admission. It is the only step that blocks.
func (g *Governor) Admit(ctx context.Context, estimatedTokens int64) error {
	start := time.Now()
	err := g.limiter.Acquire(ctx, estimatedTokens)
	if g.metrics != nil {
		g.metrics.Admissions.WithLabelValues(admissionOutcome(err)).Inc()
		g.metrics.AdmissionWait.Observe(time.Since(start).Seconds())
		g.metrics.PendingRequests.Set(float64(g.limiter.Status().Pending))
	}
	return err
}

// Reconcile books a completed call: the limiter is corrected by the
// difference between actual and estimated tokens, and the cost is recorded.
func (g *Governor) Reconcile(u Usage) {
	g.limiter.ClearBackoff()
	g.limiter.RecordUsage(u.TotalTokens(), u.EstimatedTokens)
	g.tracker.AddCost(models.CostRecord{
		CostUSD:      u.CostUSD,
		Model:        u.Model,
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
	})

	if g.metrics != nil {
		g.metrics.Calls.WithLabelValues(u.Model, "success").Inc()
		g.metrics.Tokens.WithLabelValues(u.Model, "input").Add(float64(u.InputTokens))
		g.metrics.Tokens.WithLabelValues(u.Model, "output").Add(float64(u.OutputTokens))
		g.metrics.CostUSD.WithLabelValues(u.Model).Add(u.CostUSD)
		g.metrics.SessionCostUSD.Set(g.tracker.TotalCost())
	}
}

// Release returns the reservation of a call that failed before reaching
// the remote. Nothing is charged.
func (g *Governor) Release(estimatedTokens int64) {
	g.limiter.Release(estimatedTokens)
}

// Store caches a value. Empty keys are ignored.
func (g *Governor) Store(key string, value []byte) {
	if key == "" {
		return
	}
	g.cache.Set(key, value)
}

// ThrottleSignal feeds a remote throttling response to the limiter.
func (g *Governor) ThrottleSignal(retryAfter time.Duration) time.Duration {
	if g.metrics != nil {
		g.metrics.ThrottleSignals.Inc()
	}
	return g.limiter.HandleThrottleSignal(retryAfter)
}

// Execute runs call under governance: cache lookup, budget check, admission,
// the call itself, then reconciliation. Throttled calls are retried through
// the limiter's backoff until they succeed or the retry ceiling is reached.
func (g *Governor) Execute(ctx context.Context, req Request, call Call) (*Result, error) {
	if v, ok := g.TryCache(req.CacheKey); ok {
		g.logger.Debug("cache hit")
		return &Result{Value: v, Cached: true}, nil
	}

	if err := g.CheckBudget(req.EstimatedCostUSD); err != nil {
		g.logger.Info("budget rejected call", slog.Float64("estimated_usd", req.EstimatedCostUSD))
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		if err := g.Admit(ctx, req.EstimatedTokens); err != nil {
			g.logger.Warn("admission failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return nil, err
		}

		value, usage, err := call(ctx)
		if err != nil {
			g.Release(req.EstimatedTokens)

			var throttled Throttled
			if errors.As(err, &throttled) {
				delay := g.ThrottleSignal(throttled.RetryAfter())
				g.logger.Warn("call throttled, backing off",
					slog.Int("attempt", attempt), slog.Duration("delay", delay))
				continue
			}

			if g.metrics != nil {
				g.metrics.Calls.WithLabelValues(usage.Model, "error").Inc()
			}
			return nil, err
		}

		usage.EstimatedTokens = req.EstimatedTokens
		g.Reconcile(usage)
		g.Store(req.CacheKey, value)

		g.logger.Info("call completed",
			slog.String("model", usage.Model),
			slog.Int64("input_tokens", usage.InputTokens),
			slog.Int64("output_tokens", usage.OutputTokens),
			slog.Float64("cost_usd", usage.CostUSD),
			slog.Int("attempts", attempt),
		)
		return &Result{Value: value, Usage: usage, Attempts: attempt}, nil
	}
}

// Reset starts a new session: the ledger and the rate window are cleared.
// The cache is kept.
func (g *Governor) Reset() {
	g.tracker.Reset()
	g.limiter.Reset()
	if g.metrics != nil {
		g.metrics.SessionCostUSD.Set(0)
		g.metrics.PendingRequests.Set(0)
	}
}

func admissionOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ratelimit.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ratelimit.ErrQueueTimeout):
		return "queue_timeout"
	case errors.Is(err, ratelimit.ErrThrottleExhausted):
		return "throttle_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// IsBudgetExceeded reports whether err is a budget rejection.
func IsBudgetExceeded(err error) bool {
	return errors.Is(err, budget.ErrBudgetExceeded)
}
