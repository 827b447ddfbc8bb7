package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/formationhq/riskgate/internal/bus"
	"github.com/formationhq/riskgate/internal/cache"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/ledger"
	"github.com/formationhq/riskgate/internal/rules"
	"github.com/formationhq/riskgate/internal/scoring"
	"github.com/formationhq/riskgate/internal/signals"
	"github.com/formationhq/riskgate/internal/velocity"
)

// fixedJudge returns a canned external opinion.
type fixedJudge struct {
	result domain.ExternalJudgmentResult
}

func (j fixedJudge) Assess(ctx context.Context, features *domain.FeatureSet) domain.ExternalJudgmentResult {
	return j.result
}

func newTestPipeline(t *testing.T, judge Judge) (*Pipeline, domain.Ledger) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "riskgate-pipeline-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	l, err := ledger.New(domain.LedgerConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	eventBus := bus.NewChannelBus(64)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadRules(rules.DefaultBattery()); err != nil {
		t.Fatalf("failed to load battery: %v", err)
	}

	ref := domain.DefaultReferenceData()
	ref.BadActors["fraudster@example.com"] = "confirmed chargeback fraud 2025-11"

	scoringCfg := domain.DefaultScoringConfig()

	vel := velocity.NewService(l, lru)
	extractor := signals.NewExtractor(ref, vel.GetVelocityGetter(), scoringCfg.VelocityWindowSecs)

	p := New(Options{
		Extractor:  extractor,
		Engine:     engine,
		Judge:      judge,
		Aggregator: scoring.NewAggregator(scoringCfg),
		Policy:     scoring.NewPolicy(scoringCfg),
		Ledger:     l,
		Cache:      lru,
		Bus:        eventBus,
		Velocity:   vel,
		Scoring:    scoringCfg,
	})

	return p, l
}

// faultyReadLedger fails governing-record reads while leaving every other
// ledger operation intact.
type faultyReadLedger struct {
	domain.Ledger
}

var errLedgerDown = errors.New("connection refused")

func (f faultyReadLedger) CurrentForOrder(ctx context.Context, tenantID string, orderID string) (*domain.RiskAssessment, error) {
	return nil, errLedgerDown
}

func cleanRequest(orderID string) *domain.SubmissionRequest {
	return &domain.SubmissionRequest{
		OrderID: orderID,
		Customer: domain.CustomerInfo{
			ID:             "cust-established",
			Email:          "pat@example.com",
			Name:           "Pat Doyle",
			AccountCreated: time.Now().UTC().Add(-400 * 24 * time.Hour),
			PriorOrders:    6,
		},
		Order: domain.OrderInfo{
			ProductCode: "LLC_FORMATION",
			Value:       349.00,
			Currency:    "USD",
		},
		Billing: domain.BillingInfo{
			Name:               "Pat Doyle",
			Address:            "14 Elm Street, Springfield",
			Country:            "US",
			InstrumentCategory: "credit",
		},
		Origin: domain.OriginInfo{
			Country:           "US",
			IP:                "203.0.113.10",
			DeviceFingerprint: "fp-pat",
		},
	}
}

func riskyRequest(orderID string) *domain.SubmissionRequest {
	return &domain.SubmissionRequest{
		OrderID: orderID,
		Customer: domain.CustomerInfo{
			ID:             "cust-fresh",
			Email:          "fraudster@example.com",
			Name:           "X",
			AccountCreated: time.Now().UTC().Add(-2 * time.Hour),
		},
		Order: domain.OrderInfo{
			ProductCode: "LLC_FORMATION_EXPEDITED",
			Value:       1299.00,
			Currency:    "USD",
		},
		Billing: domain.BillingInfo{
			Name:               "Completely Different",
			Address:            "1",
			Country:            "US",
			InstrumentCategory: "prepaid",
		},
		Origin: domain.OriginInfo{
			Country:           "GB",
			DeviceFingerprint: "fp-risky",
		},
	}
}

func TestAssessCleanOrderApproves(t *testing.T) {
	judge := fixedJudge{result: domain.ExternalJudgmentResult{
		Score:           5,
		Rationale:       "established account, plausible order",
		Confidence:      0.9,
		SourceAvailable: true,
	}}
	p, _ := newTestPipeline(t, judge)
	ctx := context.Background()

	resp, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-clean"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if resp.Recommendation != domain.RecommendApprove {
		t.Errorf("expected APPROVE, got %s (score %.1f)", resp.Recommendation, resp.Score)
	}
	if resp.ReasonCode != domain.ReasonCodeClear {
		t.Errorf("expected RISK_CLEAR, got %s", resp.ReasonCode)
	}
	if !resp.Metadata.JudgmentAvailable {
		t.Error("expected judgment available")
	}
	if resp.Metadata.SignalsEvaluated == 0 {
		t.Error("expected signals to be evaluated")
	}
}

func TestAssessBadActorDeclines(t *testing.T) {
	judge := fixedJudge{result: domain.ExternalJudgmentResult{
		Score:           88,
		Rationale:       "matches known fraud pattern",
		Confidence:      0.95,
		SourceAvailable: true,
	}}
	p, l := newTestPipeline(t, judge)
	ctx := context.Background()

	resp, err := p.Assess(ctx, "tenant-001", riskyRequest("ord-risky"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if resp.Recommendation != domain.RecommendDecline {
		t.Errorf("expected DECLINE, got %s (score %.1f)", resp.Recommendation, resp.Score)
	}
	if resp.ReasonCode != domain.ReasonCodeRefused {
		t.Errorf("expected RISK_REFUSED, got %s", resp.ReasonCode)
	}

	// Evidence is persisted for reviewers, not exposed in the response
	stored, err := l.GetAssessment(ctx, "tenant-001", resp.AssessmentID)
	if err != nil {
		t.Fatalf("GetAssessment failed: %v", err)
	}
	if len(stored.TriggeredSignals()) == 0 {
		t.Error("expected triggered signals on stored record")
	}
}

func TestAssessDegradedJudgmentStillCompletes(t *testing.T) {
	p, _ := newTestPipeline(t, fixedJudge{result: domain.Unavailable()})
	ctx := context.Background()

	resp, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-degraded"))
	if err != nil {
		t.Fatalf("Assess failed with degraded judgment: %v", err)
	}

	if resp.Metadata.JudgmentAvailable {
		t.Error("expected judgment unavailable in metadata")
	}
	// A clean order with no external opinion is never auto-declined here;
	// the pessimistic blend can only hold it, not refuse it outright.
	if resp.Recommendation == domain.RecommendDecline {
		t.Errorf("clean order declined on judgment outage (score %.1f)", resp.Score)
	}
}

func TestAssessUnavailabilityNeverLowersScore(t *testing.T) {
	available := fixedJudge{result: domain.ExternalJudgmentResult{
		Score:           10,
		Confidence:      0.9,
		SourceAvailable: true,
	}}

	pAvail, _ := newTestPipeline(t, available)
	pDegraded, _ := newTestPipeline(t, fixedJudge{result: domain.Unavailable()})
	ctx := context.Background()

	respAvail, err := pAvail.Assess(ctx, "tenant-001", riskyRequest("ord-mono"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	respDegraded, err := pDegraded.Assess(ctx, "tenant-001", riskyRequest("ord-mono"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	if respDegraded.Score < respAvail.Score {
		t.Errorf("losing the judgment source lowered the score: %.1f -> %.1f",
			respAvail.Score, respDegraded.Score)
	}
}

func TestAssessDuplicateReturnsGoverningRecord(t *testing.T) {
	p, _ := newTestPipeline(t, fixedJudge{result: domain.Unavailable()})
	ctx := context.Background()

	first, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-dup"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	second, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-dup"))
	if err != nil {
		t.Fatalf("duplicate Assess failed: %v", err)
	}

	if second.AssessmentID != first.AssessmentID {
		t.Errorf("duplicate produced a new assessment: %s vs %s",
			first.AssessmentID, second.AssessmentID)
	}
}

// TestAssessLedgerReadFailurePropagates covers a degraded ledger: a failed
// governing-record read must abort the assessment, not be treated as
// "not yet assessed" and fall through to the write path.
func TestAssessLedgerReadFailurePropagates(t *testing.T) {
	p, l := newTestPipeline(t, fixedJudge{result: domain.Unavailable()})
	p.ledger = faultyReadLedger{Ledger: l}

	_, err := p.Assess(context.Background(), "tenant-001", cleanRequest("ord-db-down"))
	if !errors.Is(err, errLedgerDown) {
		t.Fatalf("expected ledger read failure to propagate, got %v", err)
	}
}

func TestAssessInvalidSubmission(t *testing.T) {
	p, _ := newTestPipeline(t, fixedJudge{result: domain.Unavailable()})
	ctx := context.Background()

	req := cleanRequest("ord-bad")
	req.Customer.Email = "not-an-email"

	_, err := p.Assess(ctx, "tenant-001", req)
	if !errors.Is(err, signals.ErrInvalidSubmission) {
		t.Errorf("expected ErrInvalidSubmission, got %v", err)
	}
}

func TestReassessSupersedes(t *testing.T) {
	p, l := newTestPipeline(t, fixedJudge{result: domain.ExternalJudgmentResult{
		Score:           5,
		Confidence:      0.9,
		SourceAvailable: true,
	}})
	ctx := context.Background()

	first, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-re"))
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}

	next, err := p.Reassess(ctx, "tenant-001", "ord-re")
	if err != nil {
		t.Fatalf("Reassess failed: %v", err)
	}
	if next.AssessmentID == first.AssessmentID {
		t.Error("expected a new assessment ID after reassessment")
	}

	old, err := l.GetAssessment(ctx, "tenant-001", first.AssessmentID)
	if err != nil {
		t.Fatalf("GetAssessment failed: %v", err)
	}
	if old.SupersededBy != next.AssessmentID {
		t.Errorf("expected old record superseded by %s, got %q",
			next.AssessmentID, old.SupersededBy)
	}

	chain, err := l.ListAssessmentsForOrder(ctx, "tenant-001", "ord-re")
	if err != nil {
		t.Fatalf("ListAssessmentsForOrder failed: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("expected chain of 2 records, got %d", len(chain))
	}
}

func TestReassessRefusedAfterCapture(t *testing.T) {
	p, l := newTestPipeline(t, fixedJudge{result: domain.ExternalJudgmentResult{
		Score:           5,
		Confidence:      0.9,
		SourceAvailable: true,
	}})
	ctx := context.Background()

	if _, err := p.Assess(ctx, "tenant-001", cleanRequest("ord-frozen")); err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if err := l.MarkPaymentCaptured(ctx, "tenant-001", "ord-frozen"); err != nil {
		t.Fatalf("MarkPaymentCaptured failed: %v", err)
	}

	_, err := p.Reassess(ctx, "tenant-001", "ord-frozen")
	if !errors.Is(err, ledger.ErrAssessmentFrozen) {
		t.Errorf("expected ErrAssessmentFrozen, got %v", err)
	}
}
