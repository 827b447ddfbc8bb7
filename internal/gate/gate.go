// Package gate derives the admission state of an order and guards payment
// capture. An order with no governing assessment is refused, never admitted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/formationhq/riskgate/internal/bus"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/ledger"
)

// ErrCaptureRefused is returned when payment capture is requested for an
// order that is not admitted.
var ErrCaptureRefused = errors.New("payment capture refused")

// AdmissionStatus is what the checkout collaborator sees. Reason codes
// only, no rule evidence.
type AdmissionStatus struct {
	OrderID      string                `json:"orderId"`
	State        domain.AdmissionState `json:"state"`
	ReasonCode   string                `json:"reasonCode"`
	AssessmentID string                `json:"assessmentId,omitempty"`
	CheckedAt    time.Time             `json:"checkedAt"`
}

// Gate answers admission questions against the ledger. Every answer is
// computed from a fresh read, never from a cached decision.
type Gate struct {
	ledger domain.Ledger
	bus    domain.EventBus
}

// New creates an admission gate.
func New(l domain.Ledger, eventBus domain.EventBus) *Gate {
	return &Gate{ledger: l, bus: eventBus}
}

// Status derives the current admission state of an order.
func (g *Gate) Status(ctx context.Context, tenantID string, orderID string) (*AdmissionStatus, error) {
	if tenantID == "" || orderID == "" {
		return nil, fmt.Errorf("%w: tenantID and orderID are required", ledger.ErrInvalidInput)
	}

	state, assessmentID, err := g.derive(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	return &AdmissionStatus{
		OrderID:      orderID,
		State:        state,
		ReasonCode:   domain.ReasonCodeFor(state),
		AssessmentID: assessmentID,
		CheckedAt:    time.Now().UTC(),
	}, nil
}

// AuthorizeCapture checks whether payment may be captured for an order.
// Reads the governing assessment at call time so a supersession or review
// between assessment and capture is always honored. Returns
// ErrCaptureRefused with the derived status when the order is not admitted.
func (g *Gate) AuthorizeCapture(ctx context.Context, tenantID string, orderID string) (*AdmissionStatus, error) {
	status, err := g.Status(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	if status.State != domain.StateAdmitted {
		slog.Info("payment capture refused",
			"tenant_id", tenantID,
			"order_id", orderID,
			"state", string(status.State),
			"reason_code", status.ReasonCode,
		)
		return status, ErrCaptureRefused
	}

	return status, nil
}

// ConfirmCapture records that payment was captured for an admitted order,
// freezing its governing assessment against supersession.
func (g *Gate) ConfirmCapture(ctx context.Context, tenantID string, orderID string) (*AdmissionStatus, error) {
	status, err := g.AuthorizeCapture(ctx, tenantID, orderID)
	if err != nil {
		return status, err
	}

	if err := g.ledger.MarkPaymentCaptured(ctx, tenantID, orderID); err != nil {
		return nil, fmt.Errorf("failed to mark payment captured: %w", err)
	}

	g.publishCaptured(ctx, tenantID, status)

	slog.Info("payment captured",
		"tenant_id", tenantID,
		"order_id", orderID,
		"assessment_id", status.AssessmentID,
	)

	return status, nil
}

// derive computes the admission state from the governing assessment and
// any review decision on it.
func (g *Gate) derive(ctx context.Context, tenantID string, orderID string) (domain.AdmissionState, string, error) {
	current, err := g.ledger.CurrentForOrder(ctx, tenantID, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		// Refuse by default: no record means not assessed, not approved.
		return domain.StateAwaitingAssessment, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read governing assessment: %w", err)
	}

	state := stateFromRecommendation(current.Recommendation)

	// A review decision on the governing assessment can override it.
	review, err := g.ledger.GetReviewDecision(ctx, tenantID, current.AssessmentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return state, current.AssessmentID, nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read review decision: %w", err)
	}

	switch review.Outcome {
	case domain.ReviewOverrideApprove:
		state = domain.StateAdmitted
	case domain.ReviewOverrideDecline:
		state = domain.StateRefused
	case domain.ReviewConfirm:
		// Recommendation stands.
	}

	return state, current.AssessmentID, nil
}

func stateFromRecommendation(r domain.Recommendation) domain.AdmissionState {
	switch r {
	case domain.RecommendApprove:
		return domain.StateAdmitted
	case domain.RecommendVerify:
		return domain.StateHeldForReview
	case domain.RecommendDecline:
		return domain.StateRefused
	default:
		return domain.StateRefused
	}
}

func (g *Gate) publishCaptured(ctx context.Context, tenantID string, status *AdmissionStatus) {
	if g.bus == nil {
		return
	}

	ev := bus.CaptureEvent{
		TenantID:     tenantID,
		OrderID:      status.OrderID,
		AssessmentID: status.AssessmentID,
		CapturedAt:   time.Now().UTC(),
	}
	if err := bus.PublishPaymentCaptured(ctx, g.bus, ev); err != nil {
		slog.Warn("failed to publish payment captured event",
			"tenant_id", tenantID,
			"order_id", status.OrderID,
			"error", err,
		)
	}
}
