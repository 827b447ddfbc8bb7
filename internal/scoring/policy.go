package scoring

import (
	"math"

	"github.com/formationhq/riskgate/internal/domain"
)

// Policy maps an aggregated score to a recommendation via the configured
// three-band thresholds. The uniform fallback for any ambiguity is toward
// holding or refusing, never toward approval.
type Policy struct {
	cfg domain.ScoringConfig
}

// NewPolicy creates a decision policy from the scoring configuration.
func NewPolicy(cfg domain.ScoringConfig) *Policy {
	if cfg.DeclineThreshold <= 0 || cfg.VerifyThreshold <= 0 {
		def := domain.DefaultScoringConfig()
		cfg.VerifyThreshold = def.VerifyThreshold
		cfg.DeclineThreshold = def.DeclineThreshold
	}
	return &Policy{cfg: cfg}
}

// Decide maps a score to a recommendation. A score that is not a finite
// number cannot be trusted and is refused outright; the default branch may
// only be reached by a real score below both thresholds.
func (p *Policy) Decide(score float64) domain.Recommendation {
	switch {
	case math.IsNaN(score) || math.IsInf(score, 0):
		return domain.RecommendDecline
	case score >= p.cfg.DeclineThreshold:
		return domain.RecommendDecline
	case score >= p.cfg.VerifyThreshold:
		return domain.RecommendVerify
	default:
		return domain.RecommendApprove
	}
}

// DecideUnavailable is the refuse-by-default path used when the rules stage
// itself could not be completed: the missing evaluation is treated as
// elevated, never as approval.
func (p *Policy) DecideUnavailable() (domain.Recommendation, domain.RiskLevel) {
	return domain.RecommendVerify, domain.LevelHigh
}
