// Package scoring merges rule signals and the optional external judgment
// into one score, level, and recommendation.
package scoring

import (
	"math"

	"github.com/formationhq/riskgate/internal/domain"
)

// Aggregator computes the aggregated risk score from rule signals and the
// external judgment using the versioned scoring configuration.
//
// The blend is rulesWeight*rules + judgmentWeight*judgmentTerm, with
// rulesWeight >= judgmentWeight. The judgment term is pessimistic about
// uncertainty: confidence discounts the reported score toward the adverse
// end, and an unavailable source is taken at the fully adverse value. Losing
// the external service can therefore only push a score up, never down, and
// a low-confidence opinion can never vouch a risky order down to safe.
type Aggregator struct {
	cfg domain.ScoringConfig
}

// NewAggregator creates an aggregator, normalizing degenerate weights.
func NewAggregator(cfg domain.ScoringConfig) *Aggregator {
	// Negative weights would let the total normalize through zero into
	// non-finite blends; treat them as absent.
	if cfg.RulesWeight < 0 {
		cfg.RulesWeight = 0
	}
	if cfg.JudgmentWeight < 0 {
		cfg.JudgmentWeight = 0
	}
	if cfg.RulesWeight == 0 && cfg.JudgmentWeight == 0 {
		def := domain.DefaultScoringConfig()
		cfg.RulesWeight = def.RulesWeight
		cfg.JudgmentWeight = def.JudgmentWeight
	}
	// Rules must dominate the blend.
	if cfg.JudgmentWeight > cfg.RulesWeight {
		cfg.JudgmentWeight = cfg.RulesWeight
	}
	total := cfg.RulesWeight + cfg.JudgmentWeight
	cfg.RulesWeight /= total
	cfg.JudgmentWeight /= total

	if cfg.DeclineThreshold <= 0 {
		def := domain.DefaultScoringConfig()
		cfg.MediumFloor = def.MediumFloor
		cfg.HighFloor = def.HighFloor
		cfg.CriticalFloor = def.CriticalFloor
		cfg.VerifyThreshold = def.VerifyThreshold
		cfg.DeclineThreshold = def.DeclineThreshold
	}

	return &Aggregator{cfg: cfg}
}

// Config returns the normalized scoring configuration in use.
func (a *Aggregator) Config() domain.ScoringConfig {
	return a.cfg
}

// RulesSubscore sums the weights of triggered signals, capped at 100.
func (a *Aggregator) RulesSubscore(signals []domain.Signal) float64 {
	var sum float64
	for _, s := range signals {
		if s.Triggered {
			sum += s.Weight
		}
	}
	return clamp(sum)
}

// Aggregate merges signals and judgment into a final score and level.
func (a *Aggregator) Aggregate(signals []domain.Signal, judgment domain.ExternalJudgmentResult) (float64, domain.RiskLevel) {
	rulesScore := a.RulesSubscore(signals)

	score := a.cfg.RulesWeight*rulesScore + a.cfg.JudgmentWeight*judgmentTerm(judgment)

	// Rules are a floor: a subscore already in the decline band may not be
	// negotiated down by the optional component.
	if rulesScore >= a.cfg.DeclineThreshold && score < rulesScore {
		score = rulesScore
	}

	score = clamp(score)
	return score, a.LevelFor(score)
}

// judgmentTerm maps the external judgment into the blend. The reported
// score is discounted by confidence toward the adverse end; absence is the
// fully adverse value.
func judgmentTerm(j domain.ExternalJudgmentResult) float64 {
	if !j.SourceAvailable {
		return 100
	}
	conf := j.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return clamp(conf*j.Score + (1-conf)*100)
}

// LevelFor maps a score to its risk level band.
func (a *Aggregator) LevelFor(score float64) domain.RiskLevel {
	switch {
	case score < a.cfg.MediumFloor:
		return domain.LevelLow
	case score < a.cfg.HighFloor:
		return domain.LevelMedium
	case score < a.cfg.CriticalFloor:
		return domain.LevelHigh
	default:
		return domain.LevelCritical
	}
}

func clamp(score float64) float64 {
	// NaN compares false on both bounds; pin it to the adverse end.
	if math.IsNaN(score) {
		return 100
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
