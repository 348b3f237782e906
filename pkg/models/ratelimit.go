package models

// RateStatus is a diagnostic snapshot of the rate limiter.
type RateStatus struct {
	Tier              string `json:"tier"`
	TokensPerMinute   int64  `json:"tokens_per_minute"`
	RequestsPerMinute int64  `json:"requests_per_minute"`
	TokensUsed        int64  `json:"tokens_used"`
	RequestsUsed      int64  `json:"requests_used"`
	TokensRemaining   int64  `json:"tokens_remaining"`
	RequestsRemaining int64  `json:"requests_remaining"`
	ResetInMs         int64  `json:"reset_in_ms"`
	Pending           int    `json:"pending"`
	MaxPending        int    `json:"max_pending"`
	BackedOff         bool   `json:"backed_off"`
	RetryCount        int    `json:"retry_count"`
	MaxRetries        int    `json:"max_retries"`
	CurrentDelayMs    int64  `json:"current_delay_ms"`
	NextRetryInMs     int64  `json:"next_retry_in_ms"`
}
