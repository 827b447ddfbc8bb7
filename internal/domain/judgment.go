package domain

// ExternalJudgmentResult is the opinion of the external behavioral
// classifier. Absence of the service is a representable state, not an
// error: SourceAvailable=false means the pipeline ran rules-only.
type ExternalJudgmentResult struct {
	Score           float64 `json:"score"`      // 0-100
	Rationale       string  `json:"rationale"`
	Confidence      float64 `json:"confidence"` // 0-1
	SourceAvailable bool    `json:"sourceAvailable"`
}

// Unavailable returns the designated degrade-to-rules-only result.
func Unavailable() ExternalJudgmentResult {
	return ExternalJudgmentResult{SourceAvailable: false}
}

// JudgmentConfig holds settings for the external classifier adapter.
type JudgmentConfig struct {
	// Enabled gates the call entirely; disabled behaves like unavailable.
	Enabled bool `json:"enabled"`

	// Endpoint of the classification service
	Endpoint string `json:"endpoint"`

	APIKey string `json:"-"`

	// TimeoutMs is the hard per-call timeout. The single retry runs at
	// half this budget.
	TimeoutMs int `json:"timeoutMs"`
}
