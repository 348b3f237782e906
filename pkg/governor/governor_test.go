package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pario-ai/relay/pkg/budget"
	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/metrics"
	"github.com/pario-ai/relay/pkg/ratelimit"
	"github.com/pario-ai/relay/pkg/tracker"
)

type throttleErr struct{ after time.Duration }

func (e *throttleErr) Error() string             { return "throttled" }
func (e *throttleErr) RetryAfter() time.Duration { return e.after }

func newTestGovernor(t *testing.T, limitUSD float64, rl ratelimit.Options) (*Governor, *metrics.Metrics) {
	t.Helper()
	l, err := ratelimit.New(rl, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })

	m := metrics.New(prometheus.NewRegistry())
	g := New(
		cache.New(cache.Options{Enabled: true, TTL: time.Minute, MaxEntries: 10}),
		tracker.New(tracker.Options{LimitUSD: limitUSD, EnforceLimit: true}),
		l, m, nil,
	)
	return g, m
}

func okCall(calls *int) Call {
	return func(context.Context) ([]byte, Usage, error) {
		*calls++
		return []byte("answer"), Usage{Model: "grok-3-mini", InputTokens: 120, OutputTokens: 80, CostUSD: 0.25}, nil
	}
}

func TestCacheHitShortCircuits(t *testing.T) {
	g, m := newTestGovernor(t, 10, ratelimit.DefaultOptions())
	g.Store("k", []byte("cached"))

	calls := 0
	res, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000, EstimatedCostUSD: 1}, okCall(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || string(res.Value) != "cached" {
		t.Errorf("expected cached result, got %+v", res)
	}
	if calls != 0 {
		t.Errorf("call should not run on a hit, ran %d times", calls)
	}
	if s := g.Limiter().Status(); s.TokensUsed != 0 || s.RequestsUsed != 0 {
		t.Errorf("cache hit mutated limiter: %+v", s)
	}
	if n := len(g.Tracker().Records()); n != 0 {
		t.Errorf("cache hit added %d cost records", n)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("expected 1 hit metric, got %v", got)
	}
}

func TestBudgetRejectionReservesNothing(t *testing.T) {
	g, m := newTestGovernor(t, 1, ratelimit.DefaultOptions())

	calls := 0
	_, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000, EstimatedCostUSD: 2}, okCall(&calls))
	if !errors.Is(err, budget.ErrBudgetExceeded) || !IsBudgetExceeded(err) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
	if calls != 0 {
		t.Error("call should not run after budget rejection")
	}
	if s := g.Limiter().Status(); s.TokensUsed != 0 || s.RequestsUsed != 0 {
		t.Errorf("budget rejection reserved capacity: %+v", s)
	}
	if got := testutil.ToFloat64(m.BudgetRejections); got != 1 {
		t.Errorf("expected 1 rejection metric, got %v", got)
	}
}

func TestQueueFullChargesNothing(t *testing.T) {
	opts := ratelimit.DefaultOptions()
	opts.MaxPendingRequests = 0
	g, m := newTestGovernor(t, 10, opts)

	if err := g.Limiter().Acquire(context.Background(), 500_000); err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000, EstimatedCostUSD: 0.1}, okCall(&calls))
	if !errors.Is(err, ratelimit.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if calls != 0 || len(g.Tracker().Records()) != 0 {
		t.Error("queue-full rejection should neither call nor charge")
	}
	if got := testutil.ToFloat64(m.Admissions.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("expected queue_full metric, got %v", got)
	}
}

func TestSuccessReconciles(t *testing.T) {
	g, m := newTestGovernor(t, 10, ratelimit.DefaultOptions())

	calls := 0
	res, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000, EstimatedCostUSD: 0.5}, okCall(&calls))
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached || res.Attempts != 1 || string(res.Value) != "answer" {
		t.Errorf("unexpected result %+v", res)
	}

	if s := g.Limiter().Status(); s.TokensUsed != 200 || s.RequestsUsed != 1 {
		t.Errorf("expected window corrected to actual usage, got %+v", s)
	}
	recs := g.Tracker().Records()
	if len(recs) != 1 || recs[0].CostUSD != 0.25 || recs[0].Model != "grok-3-mini" {
		t.Errorf("unexpected records %+v", recs)
	}
	if v, ok := g.Cache().Get("k"); !ok || string(v) != "answer" {
		t.Error("expected result to be cached")
	}
	if got := testutil.ToFloat64(m.Tokens.WithLabelValues("grok-3-mini", "input")); got != 120 {
		t.Errorf("expected 120 input tokens metric, got %v", got)
	}

	// The second identical call is a hit.
	if _, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000}, okCall(&calls)); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 remote call, got %d", calls)
	}
}

func TestEmptyCacheKeyIsNotStored(t *testing.T) {
	g, _ := newTestGovernor(t, 10, ratelimit.DefaultOptions())
	calls := 0
	if _, err := g.Execute(context.Background(), Request{EstimatedTokens: 10}, okCall(&calls)); err != nil {
		t.Fatal(err)
	}
	if g.Cache().Len() != 0 {
		t.Error("expected nothing cached")
	}
}

func TestCallErrorReleases(t *testing.T) {
	g, _ := newTestGovernor(t, 10, ratelimit.DefaultOptions())
	boom := errors.New("connection refused")

	_, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 1000}, func(context.Context) ([]byte, Usage, error) {
		return nil, Usage{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected call error, got %v", err)
	}
	if s := g.Limiter().Status(); s.TokensUsed != 0 || s.RequestsUsed != 0 {
		t.Errorf("expected reservation released, got %+v", s)
	}
	if len(g.Tracker().Records()) != 0 || g.Cache().Len() != 0 {
		t.Error("failed call should not be charged or cached")
	}
}

func TestThrottleRetriesThenSucceeds(t *testing.T) {
	opts := ratelimit.DefaultOptions()
	opts.InitialRetryDelay = 5 * time.Millisecond
	opts.MaxRetryDelay = 20 * time.Millisecond
	g, m := newTestGovernor(t, 10, opts)

	attempts := 0
	res, err := g.Execute(context.Background(), Request{EstimatedTokens: 100}, func(context.Context) ([]byte, Usage, error) {
		attempts++
		if attempts < 3 {
			return nil, Usage{}, &throttleErr{}
		}
		return []byte("ok"), Usage{Model: "m", InputTokens: 10, OutputTokens: 10, CostUSD: 0.01}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if s := g.Limiter().Status(); s.BackedOff || s.RequestsUsed != 1 {
		t.Errorf("expected cleared backoff and one booked request, got %+v", s)
	}
	if got := testutil.ToFloat64(m.ThrottleSignals); got != 2 {
		t.Errorf("expected 2 throttle signals, got %v", got)
	}
}

func TestThrottleExhausted(t *testing.T) {
	opts := ratelimit.DefaultOptions()
	opts.InitialRetryDelay = time.Millisecond
	opts.MaxRetryDelay = 4 * time.Millisecond
	opts.MaxRetries = 2
	g, _ := newTestGovernor(t, 10, opts)

	attempts := 0
	_, err := g.Execute(context.Background(), Request{EstimatedTokens: 100}, func(context.Context) ([]byte, Usage, error) {
		attempts++
		return nil, Usage{}, &throttleErr{}
	})
	if !errors.Is(err, ratelimit.ErrThrottleExhausted) {
		t.Fatalf("expected throttle exhausted, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if len(g.Tracker().Records()) != 0 {
		t.Error("throttled calls should not be charged")
	}
}

func TestThrottleExhaustionEndsOnlyThatCall(t *testing.T) {
	opts := ratelimit.DefaultOptions()
	opts.InitialRetryDelay = time.Millisecond
	opts.MaxRetryDelay = 4 * time.Millisecond
	opts.MaxRetries = 2
	g, _ := newTestGovernor(t, 10, opts)
	ctx := context.Background()

	_, err := g.Execute(ctx, Request{EstimatedTokens: 100}, func(context.Context) ([]byte, Usage, error) {
		return nil, Usage{}, &throttleErr{}
	})
	if !errors.Is(err, ratelimit.ErrThrottleExhausted) {
		t.Fatalf("expected throttle exhausted, got %v", err)
	}

	calls := 0
	res, err := g.Execute(ctx, Request{EstimatedTokens: 100}, okCall(&calls))
	if err != nil {
		t.Fatalf("later call should run after an exhausted sequence: %v", err)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Errorf("expected one call in one attempt, got calls=%d attempts=%d", calls, res.Attempts)
	}
	if g.Limiter().Status().BackedOff {
		t.Error("expected backoff cleared")
	}
}

func TestReset(t *testing.T) {
	g, _ := newTestGovernor(t, 10, ratelimit.DefaultOptions())
	calls := 0
	if _, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 100}, okCall(&calls)); err != nil {
		t.Fatal(err)
	}

	g.Reset()
	if g.Tracker().TotalCost() != 0 || g.Limiter().Status().TokensUsed != 0 {
		t.Error("expected cleared tracker and limiter")
	}
	if g.Cache().Len() != 1 {
		t.Error("reset should keep the cache")
	}
}
