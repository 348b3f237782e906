package pricing

import (
	"math"
	"testing"

	"github.com/pario-ai/relay/pkg/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCost(t *testing.T) {
	table := NewTable(DefaultPricing())

	tests := []struct {
		name   string
		model  string
		in     int64
		out    int64
		expect float64
	}{
		{"mini", "grok-3-mini", 1_000_000, 1_000_000, 0.80},
		{"grok-3 small call", "grok-3", 1_000, 500, 0.003 + 0.0075},
		{"case insensitive", "GROK-3-MINI", 1_000_000, 0, 0.30},
		{"dated id", "grok-3-mini-0425", 1_000_000, 0, 0.30},
		{"zero tokens", "grok-3", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Cost(tt.model, tt.in, tt.out); !approx(got, tt.expect) {
				t.Errorf("Cost(%s) = %v, want %v", tt.model, got, tt.expect)
			}
		})
	}
}

func TestUnknownModelUsesFallback(t *testing.T) {
	table := NewTable(DefaultPricing())
	p, ok := table.Lookup("mystery-model")
	if ok {
		t.Error("expected unknown model to be reported as not found")
	}
	if p.Model != "grok-3-fast" {
		t.Errorf("expected most expensive fallback, got %s", p.Model)
	}
	if table.Cost("mystery-model", 1_000_000, 0) != 5.00 {
		t.Error("unknown model should never be free")
	}
}

func TestOverrides(t *testing.T) {
	table := NewTable(DefaultPricing(), []models.ModelPricing{
		{Model: "grok-3-mini", InputPerMTokens: 1, OutputPerMTokens: 1},
	})
	if got := table.Cost("grok-3-mini", 1_000_000, 1_000_000); !approx(got, 2) {
		t.Errorf("expected override price 2, got %v", got)
	}
	if n := len(table.Models()); n != len(DefaultPricing()) {
		t.Errorf("override should not add a model, got %d", n)
	}
}
