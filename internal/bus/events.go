package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formationhq/riskgate/internal/domain"
)

// Typed payloads for the riskgate topics. Producers publish through the
// helpers below so every consumer sees the same envelope; consumers decode
// with the matching Decode function.

// AssessmentEvent is carried on assessment.recorded, and additionally on
// assessment.held or assessment.refused when the recommendation routes the
// order there. It is a projection of the recorded assessment, without the
// signal evidence: evidence stays reviewer-only, events may fan out to
// integrations that must not see it.
type AssessmentEvent struct {
	TenantID          string                `json:"tenantId"`
	OrderID           string                `json:"orderId"`
	AssessmentID      string                `json:"assessmentId"`
	CustomerID        string                `json:"customerId"`
	Score             float64               `json:"score"`
	Level             domain.RiskLevel      `json:"level"`
	Recommendation    domain.Recommendation `json:"recommendation"`
	JudgmentAvailable bool                  `json:"judgmentAvailable"`
	OccurredAt        time.Time             `json:"occurredAt"`
}

// ReviewEvent is carried on review.decided.
type ReviewEvent struct {
	TenantID     string               `json:"tenantId"`
	AssessmentID string               `json:"assessmentId"`
	ReviewerID   string               `json:"reviewerId"`
	Outcome      domain.ReviewOutcome `json:"outcome"`
	DecidedAt    time.Time            `json:"decidedAt"`
}

// CaptureEvent is carried on payment.captured.
type CaptureEvent struct {
	TenantID     string    `json:"tenantId"`
	OrderID      string    `json:"orderId"`
	AssessmentID string    `json:"assessmentId"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// SubmissionQueuedEvent is carried on order.submitted and consumed by the
// async assessment worker.
type SubmissionQueuedEvent struct {
	TenantID   string                   `json:"tenantId"`
	Submission domain.SubmissionRequest `json:"submission"`
}

// PublishAssessmentRecorded publishes the assessment projection to
// assessment.recorded, fanning out to assessment.held or
// assessment.refused by recommendation. Returns the first publish error;
// remaining topics are still attempted.
func PublishAssessmentRecorded(ctx context.Context, b domain.EventBus, a *domain.RiskAssessment) error {
	ev := AssessmentEvent{
		TenantID:          a.TenantID,
		OrderID:           a.OrderID,
		AssessmentID:      a.AssessmentID,
		CustomerID:        a.CustomerID,
		Score:             a.AggregatedScore,
		Level:             a.Level,
		Recommendation:    a.Recommendation,
		JudgmentAvailable: a.ExternalJudgment.SourceAvailable,
		OccurredAt:        a.CreatedAt,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode assessment event: %w", err)
	}

	topics := []string{domain.TopicAssessmentRecorded}
	switch a.Recommendation {
	case domain.RecommendVerify:
		topics = append(topics, domain.TopicAssessmentHeld)
	case domain.RecommendDecline:
		topics = append(topics, domain.TopicAssessmentRefused)
	}

	var firstErr error
	for _, topic := range topics {
		if err := b.Publish(ctx, a.TenantID, topic, payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to publish %s: %w", topic, err)
		}
	}
	return firstErr
}

// PublishReviewDecided publishes the review outcome to review.decided.
func PublishReviewDecided(ctx context.Context, b domain.EventBus, tenantID string, d *domain.ReviewDecision) error {
	ev := ReviewEvent{
		TenantID:     tenantID,
		AssessmentID: d.AssessmentID,
		ReviewerID:   d.ReviewerID,
		Outcome:      d.Outcome,
		DecidedAt:    d.DecidedAt,
	}
	return publish(ctx, b, tenantID, domain.TopicReviewDecided, ev)
}

// PublishPaymentCaptured publishes the capture record to payment.captured.
func PublishPaymentCaptured(ctx context.Context, b domain.EventBus, ev CaptureEvent) error {
	return publish(ctx, b, ev.TenantID, domain.TopicPaymentCaptured, ev)
}

// PublishSubmissionQueued enqueues a submission for async assessment on
// order.submitted.
func PublishSubmissionQueued(ctx context.Context, b domain.EventBus, tenantID string, req *domain.SubmissionRequest) error {
	ev := SubmissionQueuedEvent{TenantID: tenantID, Submission: *req}
	return publish(ctx, b, tenantID, domain.TopicOrderSubmitted, ev)
}

// DecodeSubmissionQueued parses an order.submitted message. The envelope
// tenant wins over the message routing tenant when both are set.
func DecodeSubmissionQueued(msg *domain.Message) (*SubmissionQueuedEvent, error) {
	var ev SubmissionQueuedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode submission event: %w", err)
	}
	if ev.TenantID == "" {
		ev.TenantID = msg.TenantID
	}
	return &ev, nil
}

// DecodeAssessmentEvent parses an assessment.* message.
func DecodeAssessmentEvent(msg *domain.Message) (*AssessmentEvent, error) {
	var ev AssessmentEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode assessment event: %w", err)
	}
	return &ev, nil
}

func publish(ctx context.Context, b domain.EventBus, tenantID string, topic string, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}
