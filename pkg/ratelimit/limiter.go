package ratelimit

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pario-ai/relay/pkg/models"
)

const (
	// windowLength is the fixed accounting period of a tier.
	windowLength = 60 * time.Second
	// drainBuffer is added to the drain's sleep past a window boundary.
	drainBuffer = 100 * time.Millisecond
)

// pendingRequest is a caller parked in the wait queue.
type pendingRequest struct {
	tokens  int64
	ready   chan error // buffered; receives exactly one result
	settled bool
}

// Limiter is a fixed-window token and request limiter with a FIFO wait queue
// and reactive exponential backoff. It is safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	tier         Tier
	window       time.Duration
	windowStart  time.Time
	tokensUsed   int64
	requestsUsed int64

	schedule      *backoff.ExponentialBackOff
	maxRetries    int
	retryCount    int
	currentDelay  time.Duration
	nextRetryTime time.Time

	pending        *list.List
	maxPending     int
	pendingTimeout time.Duration
	draining       bool

	wake   chan struct{}
	done   chan struct{}
	closed bool

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Limiter. A nil logger uses slog.Default().
func New(opts Options, logger *slog.Logger) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	tier, _ := LookupTier(opts.Tier)
	if logger == nil {
		logger = slog.Default()
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = opts.InitialRetryDelay
	schedule.MaxInterval = opts.MaxRetryDelay
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	l := &Limiter{
		tier:           tier,
		window:         windowLength,
		schedule:       schedule,
		maxRetries:     opts.MaxRetries,
		pending:        list.New(),
		maxPending:     opts.MaxPendingRequests,
		pendingTimeout: opts.PendingTimeout,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		logger:         logger.With(slog.String("component", "ratelimit")),
		now:            time.Now,
	}
	l.windowStart = l.now()
	return l, nil
}

// Tier returns the limiter's tier.
func (l *Limiter) Tier() Tier {
	return l.tier
}

// Acquire reserves estimatedTokens and one request in the current window,
// waiting out any active backoff first. If the window is full, or earlier
// callers are already queued, the caller joins the FIFO queue and blocks
// until admitted, until the pending timeout elapses, or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int64) error {
	if err := l.WaitForBackoff(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClosed
	}
	now := l.now()
	l.maybeResetLocked(now)

	if l.pending.Len() == 0 && l.hasCapacityLocked(estimatedTokens) {
		l.reserveLocked(estimatedTokens)
		l.mu.Unlock()
		return nil
	}

	if l.pending.Len() >= l.maxPending {
		err := &QueueFullError{Size: l.pending.Len(), Max: l.maxPending}
		l.mu.Unlock()
		return err
	}

	req := &pendingRequest{
		tokens: estimatedTokens,
		ready:  make(chan error, 1),
	}
	elem := l.pending.PushBack(req)
	l.startDrainLocked()
	l.mu.Unlock()

	timer := time.NewTimer(l.pendingTimeout)
	defer timer.Stop()

	select {
	case err := <-req.ready:
		return err
	case <-timer.C:
		if l.abandon(elem) {
			return &QueueTimeoutError{Timeout: l.pendingTimeout}
		}
		// Admitted while the timer fired.
		return <-req.ready
	case <-ctx.Done():
		if l.abandon(elem) {
			return ctx.Err()
		}
		if err := <-req.ready; err == nil {
			l.Release(estimatedTokens)
		}
		return ctx.Err()
	}
}

// CanMakeRequest reports whether the current window has room for
// estimatedTokens and one more request. It does not consider the queue.
func (l *Limiter) CanMakeRequest(estimatedTokens int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetLocked(l.now())
	return l.hasCapacityLocked(estimatedTokens)
}

// RecordUsage corrects the window by the difference between the actual
// tokens a call consumed and the estimate it was admitted with.
func (l *Limiter) RecordUsage(actualTokens, estimatedTokens int64) {
	l.mu.Lock()
	l.tokensUsed += actualTokens - estimatedTokens
	if l.tokensUsed < 0 {
		l.tokensUsed = 0
	}
	l.mu.Unlock()
	l.signal()
}

// Release returns a reservation made by Acquire for a call that never
// reached the remote.
func (l *Limiter) Release(estimatedTokens int64) {
	l.mu.Lock()
	l.tokensUsed -= estimatedTokens
	if l.tokensUsed < 0 {
		l.tokensUsed = 0
	}
	if l.requestsUsed > 0 {
		l.requestsUsed--
	}
	l.mu.Unlock()
	l.signal()
}

// HandleThrottleSignal records that the remote throttled a call and
// schedules the next attempt. The returned delay never shrinks across
// consecutive signals until ClearBackoff.
func (l *Limiter) HandleThrottleSignal(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.retryCount++
	delay := l.schedule.NextBackOff()
	if delay == backoff.Stop {
		delay = l.schedule.MaxInterval
	}
	delay = max(delay, retryAfter, l.currentDelay)

	l.currentDelay = delay
	l.nextRetryTime = l.now().Add(delay)

	l.logger.Warn("remote throttled",
		slog.Int("retry", l.retryCount),
		slog.Int("max_retries", l.maxRetries),
		slog.Duration("delay", delay),
		slog.Duration("retry_after", retryAfter),
	)
	return delay
}

// WaitForBackoff sleeps until the scheduled retry time. Once the retry
// ceiling is reached it returns a *ThrottleExhaustedError instead and clears
// the backoff, so the exhausted sequence does not fail later calls.
func (l *Limiter) WaitForBackoff(ctx context.Context) error {
	l.mu.Lock()
	if l.retryCount == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.retryCount >= l.maxRetries {
		err := &ThrottleExhaustedError{
			TokensUsed:  l.tokensUsed,
			TokensLimit: l.tier.TokensPerMinute,
			RetryCount:  l.retryCount,
			MaxRetries:  l.maxRetries,
			FinalDelay:  l.currentDelay,
		}
		l.clearBackoffLocked()
		l.mu.Unlock()
		l.logger.Warn("retry ceiling reached", slog.Int("retries", err.RetryCount))
		return err
	}
	wait := l.nextRetryTime.Sub(l.now())
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearBackoff resets the retry state after a successful call.
func (l *Limiter) ClearBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearBackoffLocked()
}

// Status returns a diagnostic snapshot.
func (l *Limiter) Status() models.RateStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeResetLocked(now)

	s := models.RateStatus{
		Tier:              l.tier.Name,
		TokensPerMinute:   l.tier.TokensPerMinute,
		RequestsPerMinute: l.tier.RequestsPerMinute,
		TokensUsed:        l.tokensUsed,
		RequestsUsed:      l.requestsUsed,
		TokensRemaining:   max(l.tier.TokensPerMinute-l.tokensUsed, 0),
		RequestsRemaining: max(l.tier.RequestsPerMinute-l.requestsUsed, 0),
		ResetInMs:         max(l.windowStart.Add(l.window).Sub(now), 0).Milliseconds(),
		Pending:           l.pending.Len(),
		MaxPending:        l.maxPending,
		BackedOff:         l.retryCount > 0,
		RetryCount:        l.retryCount,
		MaxRetries:        l.maxRetries,
		CurrentDelayMs:    l.currentDelay.Milliseconds(),
	}
	if l.retryCount > 0 {
		s.NextRetryInMs = max(l.nextRetryTime.Sub(now), 0).Milliseconds()
	}
	return s
}

// Reset starts a fresh window, clears backoff and fails every queued caller
// with ErrLimiterReset.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.windowStart = l.now()
	l.tokensUsed, l.requestsUsed = 0, 0
	l.clearBackoffLocked()
	n := l.failPendingLocked(ErrLimiterReset)
	l.mu.Unlock()
	l.signal()

	l.logger.Info("limiter reset", slog.Int("failed_pending", n))
}

// Close stops the drain and fails every queued caller with ErrLimiterClosed.
// Subsequent Acquire calls fail with ErrLimiterClosed.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.failPendingLocked(ErrLimiterClosed)
	close(l.done)
	return nil
}

// drain admits queued callers in FIFO order. Only one drain runs at a time;
// it exits once the queue is empty.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		if l.closed {
			l.draining = false
			l.mu.Unlock()
			return
		}

		now := l.now()
		l.maybeResetLocked(now)
		for l.pending.Len() > 0 {
			front := l.pending.Front()
			req := front.Value.(*pendingRequest)
			if !l.hasCapacityLocked(req.tokens) {
				break
			}
			l.pending.Remove(front)
			l.reserveLocked(req.tokens)
			settle(req, nil)
		}

		if l.pending.Len() == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		wait := l.windowStart.Add(l.window).Sub(now) + drainBuffer
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-l.wake:
		case <-l.done:
		}
		timer.Stop()
	}
}

func (l *Limiter) startDrainLocked() {
	if l.draining || l.closed {
		return
	}
	l.draining = true
	go l.drain()
}

// signal wakes a sleeping drain without blocking.
func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// abandon removes a queued request that gave up waiting and wakes the
// drain, since the callers behind it may now fit. It reports false if the
// request had already been settled by the drain.
func (l *Limiter) abandon(elem *list.Element) bool {
	l.mu.Lock()
	req := elem.Value.(*pendingRequest)
	if req.settled {
		l.mu.Unlock()
		return false
	}
	l.pending.Remove(elem)
	req.settled = true
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *Limiter) maybeResetLocked(now time.Time) {
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.tokensUsed = 0
		l.requestsUsed = 0
	}
}

// hasCapacityLocked reports whether tokens and one request fit the window.
// An estimate larger than the whole tier is admitted into an untouched
// window so that it cannot starve the queue forever.
func (l *Limiter) hasCapacityLocked(tokens int64) bool {
	if l.tokensUsed == 0 && l.requestsUsed == 0 {
		return true
	}
	return l.tokensUsed+tokens <= l.tier.TokensPerMinute &&
		l.requestsUsed+1 <= l.tier.RequestsPerMinute
}

func (l *Limiter) reserveLocked(tokens int64) {
	l.tokensUsed += tokens
	l.requestsUsed++
}

func (l *Limiter) clearBackoffLocked() {
	l.retryCount = 0
	l.currentDelay = 0
	l.nextRetryTime = time.Time{}
	l.schedule.Reset()
}

func (l *Limiter) failPendingLocked(err error) int {
	n := l.pending.Len()
	for elem := l.pending.Front(); elem != nil; elem = elem.Next() {
		settle(elem.Value.(*pendingRequest), err)
	}
	l.pending.Init()
	return n
}

func settle(req *pendingRequest, err error) {
	req.settled = true
	req.ready <- err
}
