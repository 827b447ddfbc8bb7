// Package pipeline orchestrates the pre-payment risk assessment flow:
// extract signals, evaluate the rule battery, consult the external
// judgment source, aggregate, decide, and record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/formationhq/riskgate/internal/bus"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/judgment"
	"github.com/formationhq/riskgate/internal/ledger"
	"github.com/formationhq/riskgate/internal/rules"
	"github.com/formationhq/riskgate/internal/scoring"
	"github.com/formationhq/riskgate/internal/signals"
	"github.com/formationhq/riskgate/internal/velocity"
)

// Judge produces an external risk opinion for a feature snapshot.
// Implemented by judgment.Client; a degraded result has
// SourceAvailable=false and never fails the pipeline.
type Judge interface {
	Assess(ctx context.Context, features *domain.FeatureSet) domain.ExternalJudgmentResult
}

var _ Judge = (*judgment.Client)(nil)

const featureCacheTTL = 10 * time.Minute

// Pipeline wires the assessment stages together.
type Pipeline struct {
	extractor  *signals.Extractor
	engine     *rules.Engine
	judge      Judge
	aggregator *scoring.Aggregator
	policy     *scoring.Policy
	ledger     domain.Ledger
	cache      domain.Cache
	bus        domain.EventBus
	velocity   *velocity.Service

	windowSecs int
	version    string
}

// Options carries the pipeline's collaborators.
type Options struct {
	Extractor  *signals.Extractor
	Engine     *rules.Engine
	Judge      Judge
	Aggregator *scoring.Aggregator
	Policy     *scoring.Policy
	Ledger     domain.Ledger
	Cache      domain.Cache
	Bus        domain.EventBus
	Velocity   *velocity.Service
	Scoring    domain.ScoringConfig
}

// New creates an assessment pipeline.
func New(opts Options) *Pipeline {
	windowSecs := opts.Scoring.VelocityWindowSecs
	if windowSecs <= 0 {
		windowSecs = 3600
	}

	return &Pipeline{
		extractor:  opts.Extractor,
		engine:     opts.Engine,
		judge:      opts.Judge,
		aggregator: opts.Aggregator,
		policy:     opts.Policy,
		ledger:     opts.Ledger,
		cache:      opts.Cache,
		bus:        opts.Bus,
		velocity:   opts.Velocity,
		windowSecs: windowSecs,
		version:    opts.Scoring.Version,
	}
}

// Assess runs the full pipeline for an incoming submission. Exactly one
// assessment governs an order: a concurrent duplicate loses the ledger
// race and is answered from the winner's record.
func (p *Pipeline) Assess(ctx context.Context, tenantID string, req *domain.SubmissionRequest) (*domain.AssessmentResponse, error) {
	start := time.Now()

	sub := req.ToSubmission(tenantID)
	if err := p.extractor.Validate(sub); err != nil {
		return nil, err
	}

	// Fast path: the order was already assessed. Only a definitive
	// not-found proceeds; a failed read must not be mistaken for one.
	existing, err := p.ledger.CurrentForOrder(ctx, tenantID, sub.OrderID)
	switch {
	case err == nil:
		return p.respond(ctx, existing, start, 0, 0), nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("failed to read governing assessment: %w", err)
	}

	if err := p.ledger.SaveSubmission(ctx, tenantID, sub); err != nil {
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	p.observeVelocity(ctx, tenantID, sub)

	assessment, rulesMs, judgmentMs, err := p.evaluate(ctx, tenantID, sub)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.RecordAssessment(ctx, tenantID, assessment); err != nil {
		if errors.Is(err, ledger.ErrAlreadyAssessed) {
			// Lost the race. The recorded decision governs.
			existing, getErr := p.ledger.CurrentForOrder(ctx, tenantID, sub.OrderID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to read governing assessment: %w", getErr)
			}
			return p.respond(ctx, existing, start, rulesMs, judgmentMs), nil
		}
		// Refuse by default: an unrecorded assessment never admits an order.
		return nil, fmt.Errorf("failed to record assessment: %w", err)
	}

	p.publishRecorded(ctx, tenantID, assessment)

	slog.Info("order assessed",
		"tenant_id", tenantID,
		"order_id", sub.OrderID,
		"assessment_id", assessment.AssessmentID,
		"score", assessment.AggregatedScore,
		"level", string(assessment.Level),
		"recommendation", string(assessment.Recommendation),
		"judgment_available", assessment.ExternalJudgment.SourceAvailable,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return p.respond(ctx, assessment, start, rulesMs, judgmentMs), nil
}

// Reassess re-runs the pipeline against the stored submission and
// supersedes the governing assessment. Refused once payment is captured.
func (p *Pipeline) Reassess(ctx context.Context, tenantID string, orderID string) (*domain.AssessmentResponse, error) {
	start := time.Now()

	sub, err := p.ledger.GetSubmission(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	current, err := p.ledger.CurrentForOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	next, rulesMs, judgmentMs, err := p.evaluate(ctx, tenantID, sub)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.Supersede(ctx, tenantID, current.AssessmentID, next); err != nil {
		return nil, err
	}

	p.publishRecorded(ctx, tenantID, next)

	slog.Info("order reassessed",
		"tenant_id", tenantID,
		"order_id", orderID,
		"superseded", current.AssessmentID,
		"assessment_id", next.AssessmentID,
		"score", next.AggregatedScore,
		"recommendation", string(next.Recommendation),
	)

	return p.respond(ctx, next, start, rulesMs, judgmentMs), nil
}

// evaluate runs the deterministic stages and the external judgment for a
// submission and builds the resulting assessment record.
func (p *Pipeline) evaluate(ctx context.Context, tenantID string, sub *domain.OrderSubmission) (*domain.RiskAssessment, int64, int64, error) {
	features, err := p.extractor.Extract(ctx, sub)
	if err != nil {
		return nil, 0, 0, err
	}

	if p.cache != nil {
		_ = p.cache.SetFeatures(ctx, tenantID, sub.OrderID, features, featureCacheTTL)
	}

	rulesStart := time.Now()
	sigs, err := p.engine.EvaluateAll(ctx, features)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("rule evaluation failed: %w", err)
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	judgmentStart := time.Now()
	var jr domain.ExternalJudgmentResult
	if p.judge != nil {
		jr = p.judge.Assess(ctx, features)
	} else {
		jr = domain.Unavailable()
	}
	judgmentMs := time.Since(judgmentStart).Milliseconds()

	score, level := p.aggregator.Aggregate(sigs, jr)
	recommendation := p.policy.Decide(score)

	// With no rules loaded and no external opinion there is nothing to
	// decide on. Hold the order for a human instead of guessing.
	if len(sigs) == 0 && !jr.SourceAvailable {
		recommendation, level = p.policy.DecideUnavailable()
	}

	assessment := &domain.RiskAssessment{
		AssessmentID:     uuid.New().String(),
		OrderID:          sub.OrderID,
		TenantID:         tenantID,
		CustomerID:       sub.CustomerID,
		Signals:          sigs,
		ExternalJudgment: jr,
		AggregatedScore:  score,
		Level:            level,
		Recommendation:   recommendation,
		CreatedAt:        time.Now().UTC(),
	}

	return assessment, rulesMs, judgmentMs, nil
}

func (p *Pipeline) observeVelocity(ctx context.Context, tenantID string, sub *domain.OrderSubmission) {
	if p.velocity == nil {
		return
	}
	if sub.DeviceFingerprint != "" {
		p.velocity.Observe(ctx, tenantID, sub.DeviceFingerprint, p.windowSecs)
	}
	if sub.CustomerID != "" {
		p.velocity.Observe(ctx, tenantID, sub.CustomerID, p.windowSecs)
	}
}

func (p *Pipeline) respond(ctx context.Context, a *domain.RiskAssessment, start time.Time, rulesMs, judgmentMs int64) *domain.AssessmentResponse {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	return &domain.AssessmentResponse{
		AssessmentID:   a.AssessmentID,
		OrderID:        a.OrderID,
		Recommendation: a.Recommendation,
		Score:          a.AggregatedScore,
		Level:          a.Level,
		ReasonCode:     reasonCode(a.Recommendation),
		Metadata: domain.AssessmentMetadata{
			TraceID:           traceID,
			RulesMs:           rulesMs,
			JudgmentMs:        judgmentMs,
			TotalMs:           time.Since(start).Milliseconds(),
			SignalsEvaluated:  len(a.Signals),
			SignalsTriggered:  len(a.TriggeredSignals()),
			JudgmentAvailable: a.ExternalJudgment.SourceAvailable,
			EngineVersion:     p.version,
		},
	}
}

func reasonCode(r domain.Recommendation) string {
	switch r {
	case domain.RecommendApprove:
		return domain.ReasonCodeClear
	case domain.RecommendVerify:
		return domain.ReasonCodeHold
	case domain.RecommendDecline:
		return domain.ReasonCodeRefused
	default:
		return domain.ReasonCodeNotAssessed
	}
}

func (p *Pipeline) publishRecorded(ctx context.Context, tenantID string, a *domain.RiskAssessment) {
	if p.bus == nil {
		return
	}

	if err := bus.PublishAssessmentRecorded(ctx, p.bus, a); err != nil {
		slog.Warn("failed to publish assessment event",
			"tenant_id", tenantID,
			"order_id", a.OrderID,
			"error", err,
		)
	}
}
