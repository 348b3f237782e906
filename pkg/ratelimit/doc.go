// Package ratelimit gates calls to a remote model API that enforces two
// per-minute ceilings at once: tokens and requests.
//
// # Window
//
// Usage is accounted in a fixed 60 second window that resets abruptly. A
// burst of admissions right after a reset is therefore possible; callers
// that need smoother traffic should pace themselves.
//
// # Queue
//
// When the window has no room, Acquire parks the caller in a bounded FIFO
// queue. A single background drain admits the head of the queue whenever
// capacity may have changed: after a window reset, a Release, or a
// RecordUsage that returned tokens. Queued callers give up after the
// configured pending timeout or when their context is cancelled.
//
//	l, err := ratelimit.New(ratelimit.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	if err := l.Acquire(ctx, estimated); err != nil {
//	    return err // QueueFull, QueueTimeout, ThrottleExhausted or ctx.Err()
//	}
//	resp, err := call(ctx)
//	if err != nil {
//	    l.Release(estimated)
//	    return err
//	}
//	l.RecordUsage(resp.Tokens, estimated)
//
// # Backoff
//
// When the remote itself throttles, HandleThrottleSignal grows an
// exponential delay (github.com/cenkalti/backoff/v4) that the next Acquire
// waits out. After MaxRetries consecutive signals Acquire fails with a
// *ThrottleExhaustedError. ClearBackoff resets the schedule after a success.
package ratelimit
