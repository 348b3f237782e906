package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/relay/pkg/client"
	"github.com/pario-ai/relay/pkg/governor"
	"github.com/pario-ai/relay/pkg/models"
)

// formatAnswer renders a completion with a one-line accounting footer.
func formatAnswer(comp *client.Completion, res *governor.Result, warning string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(comp.Content))
	b.WriteString("\n\n")
	if res.Cached {
		fmt.Fprintf(&b, "[%s | cached, no charge]", comp.Model)
	} else {
		fmt.Fprintf(&b, "[%s | %d in / %d out tokens | $%.4f]",
			comp.Model, res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CostUSD)
	}
	if warning != "" {
		b.WriteString("\n" + warning)
	}
	return b.String()
}

// formatUsage formats a session summary as a text table.
func formatUsage(s models.UsageSummary, warning string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (started %s)\n", s.SessionID, s.SessionStart.Format("2006-01-02 15:04:05"))
	enforced := "advisory"
	if s.EnforceLimit {
		enforced = "enforced"
	}
	fmt.Fprintf(&b, "Spent $%.4f of $%.2f (%d%%, %s)\n", s.TotalCostUSD, s.LimitUSD, s.BudgetUsedPercent, enforced)
	fmt.Fprintf(&b, "Queries: %d  Tokens: %d in / %d out\n", s.TotalQueries, s.TotalInputTokens, s.TotalOutputTokens)

	if len(s.ByModel) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-25s %8s %12s %12s %10s\n", "Model", "Queries", "Input", "Output", "Cost")
		b.WriteString(strings.Repeat("-", 71) + "\n")
		for _, m := range s.ByModel {
			fmt.Fprintf(&b, "%-25s %8d %12d %12d %10.4f\n",
				m.Model, m.Queries, m.InputTokens, m.OutputTokens, m.CostUSD)
		}
	}
	if warning != "" {
		b.WriteString("\n" + warning + "\n")
	}
	return b.String()
}

// formatRecords formats recent cost records, oldest first.
func formatRecords(recs []models.CostRecord) string {
	if len(recs) == 0 {
		return "No calls recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-25s %10s %10s %10s\n", "Time", "Model", "Input", "Output", "Cost")
	b.WriteString(strings.Repeat("-", 79) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-20s %-25s %10d %10d %10.4f\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Model, r.InputTokens, r.OutputTokens, r.CostUSD)
	}
	return b.String()
}

// formatRateStatus formats the limiter snapshot.
func formatRateStatus(s models.RateStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tier:      %s (%d tokens/min, %d requests/min)\n", s.Tier, s.TokensPerMinute, s.RequestsPerMinute)
	fmt.Fprintf(&b, "Tokens:    %d used, %d remaining\n", s.TokensUsed, s.TokensRemaining)
	fmt.Fprintf(&b, "Requests:  %d used, %d remaining\n", s.RequestsUsed, s.RequestsRemaining)
	fmt.Fprintf(&b, "Resets in: %s\n", ms(s.ResetInMs))
	fmt.Fprintf(&b, "Queue:     %d/%d waiting\n", s.Pending, s.MaxPending)
	if s.BackedOff {
		fmt.Fprintf(&b, "Backoff:   retry %d/%d, delay %s, next attempt in %s\n",
			s.RetryCount, s.MaxRetries, ms(s.CurrentDelayMs), ms(s.NextRetryInMs))
	} else {
		b.WriteString("Backoff:   none\n")
	}
	return b.String()
}

// formatCacheStats formats cache statistics.
func formatCacheStats(stats models.CacheStats) string {
	if !stats.Enabled {
		return "Response cache is disabled."
	}
	var b strings.Builder
	limit := "unbounded"
	if stats.MaxEntries > 0 {
		limit = fmt.Sprintf("%d", stats.MaxEntries)
	}
	fmt.Fprintf(&b, "Entries:  %d (max %s)\n", stats.Entries, limit)
	fmt.Fprintf(&b, "Hits:     %d\n", stats.Hits)
	fmt.Fprintf(&b, "Misses:   %d\n", stats.Misses)
	fmt.Fprintf(&b, "Hit rate: %.1f%%\n", stats.HitRate*100)
	fmt.Fprintf(&b, "Size:     ~%s\n", humanBytes(stats.ApproxBytes))
	return b.String()
}

func ms(v int64) time.Duration {
	return (time.Duration(v) * time.Millisecond).Round(time.Millisecond)
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
