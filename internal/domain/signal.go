package domain

// Severity classifies how strongly a single signal indicates fraud.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Signal is one deterministic fraud-indicator evaluation. Produced only by
// the rule engine; a pure function of the feature set.
type Signal struct {
	Name      string   `json:"name"`
	Weight    float64  `json:"weight"`
	Triggered bool     `json:"triggered"`
	Severity  Severity `json:"severity"`
	Evidence  string   `json:"evidence,omitempty"`
}

// SignalConfig defines one heuristic in the rule battery.
type SignalConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the feature set; must return bool
	Expression string `json:"expression"`

	// Score contribution when triggered (points on the 0-100 scale)
	Weight float64 `json:"weight"`

	Severity Severity `json:"severity"`

	// Evidence template recorded on the signal when triggered
	Evidence string `json:"evidence"`

	Enabled bool `json:"enabled"`
}

// RuleSetConfig is a versioned battery of signal configs. Weights and
// thresholds live here, not in code, so they can be tuned without a deploy.
type RuleSetConfig struct {
	Version string          `json:"version"`
	Rules   []*SignalConfig `json:"rules"`
}
