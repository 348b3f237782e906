package budget

import (
	"errors"
	"strings"
	"testing"

	"github.com/pario-ai/relay/pkg/models"
)

func TestCheckUnderBudget(t *testing.T) {
	e := New(10, true)
	if err := e.Check(9.5, 0.5); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	e := New(10, true)

	err := e.Check(9.5, 1)
	if err == nil {
		t.Fatal("expected budget exceeded error")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}

	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ExceededError, got %T", err)
	}
	if exceeded.Current != 9.5 || exceeded.Limit != 10 || exceeded.Estimated != 1 {
		t.Errorf("unexpected error fields: %+v", exceeded)
	}
}

func TestCheckAdvisoryOnly(t *testing.T) {
	e := New(10, false)
	if err := e.Check(50, 100); err != nil {
		t.Errorf("unenforced budget should always pass, got %v", err)
	}
}

func TestUsedPercent(t *testing.T) {
	tests := []struct {
		limit, current float64
		want           int
	}{
		{10, 0, 0},
		{10, 2.345, 23},
		{10, 7.5, 75},
		{10, 25, 100},
		{0, 5, 0},
	}
	for _, tt := range tests {
		e := New(tt.limit, true)
		if got := e.UsedPercent(tt.current); got != tt.want {
			t.Errorf("UsedPercent(%v of %v) = %d, want %d", tt.current, tt.limit, got, tt.want)
		}
	}
}

func TestWarningThresholds(t *testing.T) {
	e := New(100, true)

	tests := []struct {
		current float64
		level   models.BudgetLevel
		substr  string
	}{
		{0, models.BudgetOK, ""},
		{74.9, models.BudgetOK, ""},
		{75, models.BudgetAdvisory, "notice"},
		{89.9, models.BudgetAdvisory, "notice"},
		{90, models.BudgetCritical, "critical"},
		{120, models.BudgetCritical, "critical"},
	}
	for _, tt := range tests {
		if got := e.Level(tt.current); got != tt.level {
			t.Errorf("Level(%v) = %s, want %s", tt.current, got, tt.level)
		}
		w := e.Warning(tt.current)
		if tt.substr == "" && w != "" {
			t.Errorf("Warning(%v) = %q, want none", tt.current, w)
		}
		if tt.substr != "" && !strings.Contains(w, tt.substr) {
			t.Errorf("Warning(%v) = %q, want it to contain %q", tt.current, w, tt.substr)
		}
	}
}

func TestStatus(t *testing.T) {
	e := New(10, true)
	s := e.Status(12)
	if s.RemainingUSD != 0 {
		t.Errorf("expected remaining clamped to 0, got %v", s.RemainingUSD)
	}
	if s.UsedPercent != 100 {
		t.Errorf("expected 100%%, got %d", s.UsedPercent)
	}
	if !s.Enforced {
		t.Error("expected enforced")
	}
}
