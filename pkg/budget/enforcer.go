package budget

import (
	"errors"
	"fmt"
	"math"

	"github.com/pario-ai/relay/pkg/models"
)

// ErrBudgetExceeded is returned when a call would push spend past the limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Warning thresholds, in percent of the limit.
const (
	AdvisoryPercent = 75
	CriticalPercent = 90
)

// ExceededError carries the figures behind a budget rejection.
type ExceededError struct {
	Current   float64
	Limit     float64
	Estimated float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f, call estimated at $%.4f",
		e.Current, e.Limit, e.Estimated)
}

// Is lets errors.Is match ErrBudgetExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Enforcer checks spend against a USD ceiling. When Enforce is false the
// ceiling is advisory: checks always pass but warnings are still reported.
type Enforcer struct {
	LimitUSD float64
	Enforce  bool
}

// New creates an Enforcer.
func New(limitUSD float64, enforce bool) *Enforcer {
	return &Enforcer{LimitUSD: limitUSD, Enforce: enforce}
}

// Check returns an *ExceededError if spending estimated on top of current
// would exceed the limit.
func (e *Enforcer) Check(current, estimated float64) error {
	if !e.Enforce {
		return nil
	}
	if current+estimated > e.LimitUSD {
		return &ExceededError{Current: current, Limit: e.LimitUSD, Estimated: estimated}
	}
	return nil
}

// UsedPercent returns spend as a rounded percentage of the limit, capped at 100.
func (e *Enforcer) UsedPercent(current float64) int {
	if e.LimitUSD <= 0 {
		return 0
	}
	pct := int(math.Round(100 * current / e.LimitUSD))
	if pct > 100 {
		return 100
	}
	return pct
}

// Level classifies current spend against the warning thresholds.
func (e *Enforcer) Level(current float64) models.BudgetLevel {
	if e.LimitUSD <= 0 {
		return models.BudgetOK
	}
	pct := 100 * current / e.LimitUSD
	switch {
	case pct >= CriticalPercent:
		return models.BudgetCritical
	case pct >= AdvisoryPercent:
		return models.BudgetAdvisory
	default:
		return models.BudgetOK
	}
}

// Warning returns a human-readable advisory, or "" below the advisory threshold.
func (e *Enforcer) Warning(current float64) string {
	switch e.Level(current) {
	case models.BudgetCritical:
		return fmt.Sprintf("Budget critical: $%.2f of $%.2f spent (%d%%). Further queries may be refused.",
			current, e.LimitUSD, e.UsedPercent(current))
	case models.BudgetAdvisory:
		return fmt.Sprintf("Budget notice: $%.2f of $%.2f spent (%d%%).",
			current, e.LimitUSD, e.UsedPercent(current))
	default:
		return ""
	}
}

// Status returns spend against the ceiling.
func (e *Enforcer) Status(current float64) models.BudgetStatus {
	remaining := e.LimitUSD - current
	if remaining < 0 {
		remaining = 0
	}
	return models.BudgetStatus{
		LimitUSD:     e.LimitUSD,
		SpentUSD:     current,
		RemainingUSD: remaining,
		UsedPercent:  e.UsedPercent(current),
		Enforced:     e.Enforce,
		Level:        e.Level(current),
	}
}
