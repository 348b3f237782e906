package models

// BudgetLevel classifies spend against a ceiling.
type BudgetLevel string

const (
	BudgetOK       BudgetLevel = "ok"
	BudgetAdvisory BudgetLevel = "advisory"
	BudgetCritical BudgetLevel = "critical"
)

// BudgetStatus shows current spend against the configured ceiling.
type BudgetStatus struct {
	LimitUSD     float64     `json:"limit_usd"`
	SpentUSD     float64     `json:"spent_usd"`
	RemainingUSD float64     `json:"remaining_usd"`
	UsedPercent  int         `json:"used_percent"`
	Enforced     bool        `json:"enforced"`
	Level        BudgetLevel `json:"level"`
}

// ModelPricing defines per-million token costs for a model.
type ModelPricing struct {
	Model            string  `json:"model" yaml:"model"`
	InputPerMTokens  float64 `json:"input_per_m_tokens" yaml:"input_per_m_tokens"`
	OutputPerMTokens float64 `json:"output_per_m_tokens" yaml:"output_per_m_tokens"`
}
