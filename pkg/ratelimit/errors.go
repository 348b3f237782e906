package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is.
var (
	ErrQueueFull         = errors.New("ratelimit: pending queue full")
	ErrQueueTimeout      = errors.New("ratelimit: timed out waiting for capacity")
	ErrThrottleExhausted = errors.New("ratelimit: throttle retries exhausted")
	ErrLimiterReset      = errors.New("ratelimit: limiter reset")
	ErrLimiterClosed     = errors.New("ratelimit: limiter closed")
	ErrUnknownTier       = errors.New("ratelimit: unknown tier")
)

// QueueFullError is returned when a caller would have to wait but the
// pending queue is already at capacity.
type QueueFullError struct {
	Size int
	Max  int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("ratelimit: pending queue full (%d/%d)", e.Size, e.Max)
}

// Is lets errors.Is match ErrQueueFull.
func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// QueueTimeoutError is returned when a queued caller is not admitted within
// the pending timeout.
type QueueTimeoutError struct {
	Timeout time.Duration
}

func (e *QueueTimeoutError) Error() string {
	return fmt.Sprintf("ratelimit: not admitted within %s", e.Timeout)
}

// Is lets errors.Is match ErrQueueTimeout.
func (e *QueueTimeoutError) Is(target error) bool { return target == ErrQueueTimeout }

// ThrottleExhaustedError is terminal: the remote kept throttling until the
// retry ceiling was reached.
type ThrottleExhaustedError struct {
	TokensUsed  int64
	TokensLimit int64
	RetryCount  int
	MaxRetries  int
	FinalDelay  time.Duration
}

func (e *ThrottleExhaustedError) Error() string {
	return fmt.Sprintf("ratelimit: throttled %d/%d times, last delay %s, window usage %d/%d tokens",
		e.RetryCount, e.MaxRetries, e.FinalDelay, e.TokensUsed, e.TokensLimit)
}

// Is lets errors.Is match ErrThrottleExhausted.
func (e *ThrottleExhaustedError) Is(target error) bool { return target == ErrThrottleExhausted }
