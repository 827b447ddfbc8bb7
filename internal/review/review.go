// Package review implements the human-in-the-loop workflow for held and
// refused assessments.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/formationhq/riskgate/internal/bus"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/ledger"
)

var (
	// ErrInvalidOutcome is returned for an unknown review outcome.
	ErrInvalidOutcome = errors.New("invalid review outcome")

	// ErrNotesRequired is returned when OVERRIDE_APPROVE is submitted
	// without justification notes.
	ErrNotesRequired = errors.New("override approval requires notes")

	// ErrNotReviewable is returned when the assessment does not need
	// review: APPROVE recommendations and superseded records.
	ErrNotReviewable = errors.New("assessment is not reviewable")
)

// Request is a reviewer's submission.
type Request struct {
	ReviewerID string               `json:"reviewerId"`
	Outcome    domain.ReviewOutcome `json:"outcome"`
	Notes      string               `json:"notes"`
}

// Workflow validates and records review decisions.
type Workflow struct {
	ledger domain.Ledger
	bus    domain.EventBus
}

// New creates a review workflow.
func New(l domain.Ledger, eventBus domain.EventBus) *Workflow {
	return &Workflow{ledger: l, bus: eventBus}
}

// Submit records a review decision for an assessment. First reviewer wins:
// a concurrent second submission gets the recorded decision back along
// with ledger.ErrReviewExists.
func (w *Workflow) Submit(ctx context.Context, tenantID string, assessmentID string, req *Request) (*domain.ReviewDecision, error) {
	if tenantID == "" || assessmentID == "" {
		return nil, fmt.Errorf("%w: tenantID and assessmentID are required", ledger.ErrInvalidInput)
	}
	if req == nil || req.ReviewerID == "" {
		return nil, fmt.Errorf("%w: reviewerId is required", ledger.ErrInvalidInput)
	}
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, req.Outcome)
	}
	if req.Outcome == domain.ReviewOverrideApprove && strings.TrimSpace(req.Notes) == "" {
		return nil, ErrNotesRequired
	}

	assessment, err := w.ledger.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.Recommendation == domain.RecommendApprove {
		return nil, fmt.Errorf("%w: recommendation is APPROVE", ErrNotReviewable)
	}
	if assessment.SupersededBy != "" {
		return nil, fmt.Errorf("%w: superseded by %s", ErrNotReviewable, assessment.SupersededBy)
	}

	decision := &domain.ReviewDecision{
		AssessmentID: assessmentID,
		TenantID:     tenantID,
		ReviewerID:   req.ReviewerID,
		Outcome:      req.Outcome,
		Notes:        req.Notes,
		DecidedAt:    time.Now().UTC(),
	}

	if err := w.ledger.SaveReviewDecision(ctx, tenantID, decision); err != nil {
		if errors.Is(err, ledger.ErrReviewExists) {
			existing, getErr := w.ledger.GetReviewDecision(ctx, tenantID, assessmentID)
			if getErr != nil {
				return nil, err
			}
			return existing, ledger.ErrReviewExists
		}
		return nil, fmt.Errorf("failed to save review decision: %w", err)
	}

	w.publishDecided(ctx, tenantID, decision)

	slog.Info("review decision recorded",
		"tenant_id", tenantID,
		"assessment_id", assessmentID,
		"order_id", assessment.OrderID,
		"reviewer_id", req.ReviewerID,
		"outcome", string(req.Outcome),
	)

	return decision, nil
}

// Get returns the review decision for an assessment.
func (w *Workflow) Get(ctx context.Context, tenantID string, assessmentID string) (*domain.ReviewDecision, error) {
	return w.ledger.GetReviewDecision(ctx, tenantID, assessmentID)
}

// Pending lists current VERIFY/DECLINE assessments awaiting review.
func (w *Workflow) Pending(ctx context.Context, tenantID string, limit int) ([]*domain.RiskAssessment, error) {
	return w.ledger.ListPendingReviews(ctx, tenantID, limit)
}

func (w *Workflow) publishDecided(ctx context.Context, tenantID string, d *domain.ReviewDecision) {
	if w.bus == nil {
		return
	}

	if err := bus.PublishReviewDecided(ctx, w.bus, tenantID, d); err != nil {
		slog.Warn("failed to publish review decided event",
			"tenant_id", tenantID,
			"assessment_id", d.AssessmentID,
			"error", err,
		)
	}
}
