package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/relay/pkg/budget"
	"github.com/pario-ai/relay/pkg/models"
)

// DefaultMaxRecords is the ring capacity used when none is configured.
const DefaultMaxRecords = 1000

// Journal persists cost records beyond the in-memory ring.
type Journal interface {
	// Append stores a cost record.
	Append(ctx context.Context, rec models.CostRecord) error
	// Close releases resources.
	Close() error
}

// Options configures a Tracker.
type Options struct {
	LimitUSD     float64
	EnforceLimit bool
	MaxRecords   int
	Journal      Journal
	Logger       *slog.Logger
}

// Tracker is the session spend ledger. The running total and per-model
// aggregates include every record ever added; the ring only keeps the most
// recent MaxRecords of them.
type Tracker struct {
	mu       sync.Mutex
	enforcer *budget.Enforcer

	ring []models.CostRecord
	head int // index of the oldest record
	size int

	total   float64
	byModel map[string]*models.ModelUsage

	sessionID    string
	sessionStart time.Time

	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Tracker and starts a session.
func New(opts Options) *Tracker {
	maxRecords := opts.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		enforcer: budget.New(opts.LimitUSD, opts.EnforceLimit),
		ring:     make([]models.CostRecord, maxRecords),
		journal:  opts.Journal,
		logger:   logger,
		now:      time.Now,
	}
	t.resetLocked()
	return t
}

// AddCost appends a record to the ledger. The running total is always
// incremented, even when the ring drops its oldest record.
func (t *Tracker) AddCost(rec models.CostRecord) {
	t.mu.Lock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now().UTC()
	}
	rec.SessionID = t.sessionID

	if t.size == len(t.ring) {
		t.ring[t.head] = rec
		t.head = (t.head + 1) % len(t.ring)
	} else {
		t.ring[(t.head+t.size)%len(t.ring)] = rec
		t.size++
	}

	t.total += rec.CostUSD
	agg, ok := t.byModel[rec.Model]
	if !ok {
		agg = &models.ModelUsage{Model: rec.Model}
		t.byModel[rec.Model] = agg
	}
	agg.CostUSD += rec.CostUSD
	agg.Queries++
	agg.InputTokens += int64(rec.InputTokens)
	agg.OutputTokens += int64(rec.OutputTokens)
	journal := t.journal
	t.mu.Unlock()

	if journal != nil {
		if err := journal.Append(context.Background(), rec); err != nil {
			t.logger.Warn("journal append failed", slog.String("model", rec.Model), slog.Any("error", err))
		}
	}
}

// TotalCost returns the cumulative spend of the session.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Records returns the retained history, oldest first.
func (t *Tracker) Records() []models.CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.CostRecord, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.ring[(t.head+i)%len(t.ring)]
	}
	return out
}

// IsWithinBudget reports whether a call estimated at estimatedUSD may proceed.
func (t *Tracker) IsWithinBudget(estimatedUSD float64) bool {
	return t.CheckBudget(estimatedUSD) == nil
}

// CheckBudget returns a *budget.ExceededError when the limit is enforced and
// the call would push spend past it.
func (t *Tracker) CheckBudget(estimatedUSD float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enforcer.Check(t.total, estimatedUSD)
}

// Summary aggregates the session's spend by model.
func (t *Tracker) Summary() models.UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := models.UsageSummary{
		SessionID:         t.sessionID,
		SessionStart:      t.sessionStart,
		TotalCostUSD:      t.total,
		LimitUSD:          t.enforcer.LimitUSD,
		EnforceLimit:      t.enforcer.Enforce,
		BudgetUsedPercent: t.enforcer.UsedPercent(t.total),
		ByModel:           make([]models.ModelUsage, 0, len(t.byModel)),
	}
	for _, agg := range t.byModel {
		s.ByModel = append(s.ByModel, *agg)
		s.TotalQueries += agg.Queries
		s.TotalInputTokens += agg.InputTokens
		s.TotalOutputTokens += agg.OutputTokens
	}
	sort.Slice(s.ByModel, func(i, j int) bool {
		return s.ByModel[i].CostUSD > s.ByModel[j].CostUSD
	})
	return s
}

// BudgetWarning returns an advisory at 75% utilization, a stronger one at
// 90%, and "" below that.
func (t *Tracker) BudgetWarning() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enforcer.Warning(t.total)
}

// BudgetStatus returns spend against the configured ceiling.
func (t *Tracker) BudgetStatus() models.BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enforcer.Status(t.total)
}

// SessionID returns the identifier of the current session.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Reset zeroes the ledger and starts a new session. Call it only at an
// explicit session boundary.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	clear(t.ring)
	t.head, t.size = 0, 0
	t.total = 0
	t.byModel = make(map[string]*models.ModelUsage)
	t.sessionID = newSessionID(t.now())
	t.sessionStart = t.now().UTC()
}

// newSessionID creates a session ID like sess_20260221_3f2a9c1e.
func newSessionID(now time.Time) string {
	return "sess_" + now.UTC().Format("20060102") + "_" + uuid.NewString()[:8]
}
