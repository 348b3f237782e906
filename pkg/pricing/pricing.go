// Package pricing converts token counts into USD using per-million-token
// prices.
package pricing

import (
	"sort"
	"strings"

	"github.com/pario-ai/relay/pkg/models"
)

// DefaultPricing returns the built-in price list.
func DefaultPricing() []models.ModelPricing {
	return []models.ModelPricing{
		{Model: "grok-4", InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
		{Model: "grok-3", InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
		{Model: "grok-3-mini", InputPerMTokens: 0.30, OutputPerMTokens: 0.50},
		{Model: "grok-3-fast", InputPerMTokens: 5.00, OutputPerMTokens: 25.00},
		{Model: "grok-3-mini-fast", InputPerMTokens: 0.60, OutputPerMTokens: 4.00},
		{Model: "grok-2-vision", InputPerMTokens: 2.00, OutputPerMTokens: 10.00},
	}
}

// Table looks up model prices. Models missing from the table are priced at
// the fallback, so that unknown models are never free.
type Table struct {
	prices   map[string]models.ModelPricing
	fallback models.ModelPricing
}

// NewTable builds a Table. Later entries override earlier ones for the same
// model. The most expensive entry is used as the fallback.
func NewTable(entries ...[]models.ModelPricing) *Table {
	t := &Table{prices: make(map[string]models.ModelPricing)}
	for _, list := range entries {
		for _, p := range list {
			t.prices[strings.ToLower(p.Model)] = p
		}
	}
	for _, p := range t.prices {
		if p.InputPerMTokens+p.OutputPerMTokens > t.fallback.InputPerMTokens+t.fallback.OutputPerMTokens {
			t.fallback = p
		}
	}
	return t
}

// Lookup returns the pricing for a model and whether it was found. Dated or
// suffixed model ids such as "grok-3-mini-0425" resolve to the longest known
// prefix.
func (t *Table) Lookup(model string) (models.ModelPricing, bool) {
	key := strings.ToLower(model)
	if p, ok := t.prices[key]; ok {
		return p, true
	}
	var best models.ModelPricing
	found := false
	for name, p := range t.prices {
		if strings.HasPrefix(key, name+"-") && len(name) > len(best.Model) {
			best, found = p, true
		}
	}
	if found {
		return best, true
	}
	return t.fallback, false
}

// Cost returns the USD cost of a call.
func (t *Table) Cost(model string, inputTokens, outputTokens int64) float64 {
	p, _ := t.Lookup(model)
	return perM(p.InputPerMTokens, inputTokens) + perM(p.OutputPerMTokens, outputTokens)
}

// Models returns the table's entries sorted by model name.
func (t *Table) Models() []models.ModelPricing {
	out := make([]models.ModelPricing, 0, len(t.prices))
	for _, p := range t.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func perM(price float64, n int64) float64 {
	if n <= 0 {
		return 0
	}
	return price * float64(n) / 1_000_000
}
