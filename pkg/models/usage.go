package models

import "time"

// CostRecord is a single charged call. Records are never mutated after creation.
type CostRecord struct {
	ID           int64     `json:"id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CostUSD      float64   `json:"cost_usd"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (r CostRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelUsage aggregates spend for one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	CostUSD      float64 `json:"cost_usd"`
	Queries      int     `json:"queries"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (m ModelUsage) TotalTokens() int64 {
	return m.InputTokens + m.OutputTokens
}

// UsageSummary aggregates a session's spend.
type UsageSummary struct {
	SessionID         string       `json:"session_id"`
	SessionStart      time.Time    `json:"session_start"`
	TotalCostUSD      float64      `json:"total_cost_usd"`
	LimitUSD          float64      `json:"limit_usd"`
	EnforceLimit      bool         `json:"enforce_limit"`
	BudgetUsedPercent int          `json:"budget_used_percent"`
	TotalQueries      int          `json:"total_queries"`
	TotalInputTokens  int64        `json:"total_input_tokens"`
	TotalOutputTokens int64        `json:"total_output_tokens"`
	ByModel           []ModelUsage `json:"by_model"`
}

// JournalSummary aggregates journaled spend for one session and model.
type JournalSummary struct {
	SessionID    string    `json:"session_id"`
	Model        string    `json:"model"`
	Queries      int       `json:"queries"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}
