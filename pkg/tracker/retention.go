package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes journaled records older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RetentionScheduler prunes the journal on a cron schedule.
type RetentionScheduler struct {
	pruner    Pruner
	retention time.Duration
	schedule  string
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	now     func() time.Time
}

// NewRetentionScheduler creates a scheduler that keeps retention worth of
// records. schedule is a standard five-field cron expression.
func NewRetentionScheduler(p Pruner, retention time.Duration, schedule string, logger *slog.Logger) *RetentionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		pruner:    p,
		retention: retention,
		schedule:  schedule,
		logger:    logger.With(slog.String("component", "journal.retention")),
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start registers the prune job and starts the cron runner. An empty
// schedule or a non-positive retention leaves the scheduler idle. The
// scheduler stops when ctx is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.retention <= 0 {
		s.logger.Debug("journal pruning not scheduled")
		return nil
	}
	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("journal pruning scheduled",
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce prunes records older than the retention window.
func (s *RetentionScheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("journal pruning failed", slog.Any("error", err))
		return 0, err
	}
	if n > 0 {
		s.logger.Info("journal pruned", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// Stop halts the cron runner and waits for a running prune to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Running reports whether the cron runner is active.
func (s *RetentionScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
