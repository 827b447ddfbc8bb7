package domain

import (
	"time"
)

// RiskLevel buckets an aggregated score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Recommendation is the pipeline's verdict on an order.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendVerify  Recommendation = "VERIFY"
	RecommendDecline Recommendation = "DECLINE"
)

// RiskAssessment is one immutable assessment record for an order attempt.
// Records are never mutated or deleted, only superseded by a newer record
// pointing back at the prior one.
type RiskAssessment struct {
	AssessmentID string `json:"assessmentId"`
	OrderID      string `json:"orderId"`
	TenantID     string `json:"tenantId"`
	CustomerID   string `json:"customerId"`

	Signals          []Signal               `json:"signals"`
	ExternalJudgment ExternalJudgmentResult `json:"externalJudgment"`

	AggregatedScore float64        `json:"aggregatedScore"` // 0-100
	Level           RiskLevel      `json:"level"`
	Recommendation  Recommendation `json:"recommendation"`

	CreatedAt    time.Time `json:"createdAt"`
	SupersededBy string    `json:"supersededBy,omitempty"`

	// PaymentCaptured freezes the record: no supersession past this point.
	PaymentCaptured bool `json:"paymentCaptured"`
}

// TriggeredSignals returns only the signals that fired.
func (a *RiskAssessment) TriggeredSignals() []Signal {
	var out []Signal
	for _, s := range a.Signals {
		if s.Triggered {
			out = append(out, s)
		}
	}
	return out
}

// AdmissionState is the derived order state the admission gate reports.
type AdmissionState string

const (
	StateAwaitingAssessment AdmissionState = "AWAITING_ASSESSMENT"
	StateAdmitted           AdmissionState = "ADMITTED"
	StateHeldForReview      AdmissionState = "HELD_FOR_REVIEW"
	StateRefused            AdmissionState = "REFUSED"
)

// Customer-safe reason codes. The checkout collaborator sees these, never
// the raw rule evidence (reviewer-only).
const (
	ReasonCodeClear       = "RISK_CLEAR"
	ReasonCodeHold        = "RISK_HOLD_VERIFICATION"
	ReasonCodeRefused     = "RISK_REFUSED"
	ReasonCodeNotAssessed = "RISK_NOT_ASSESSED"
)

// ReasonCodeFor maps an admission state to its customer-safe code.
func ReasonCodeFor(state AdmissionState) string {
	switch state {
	case StateAdmitted:
		return ReasonCodeClear
	case StateHeldForReview:
		return ReasonCodeHold
	case StateRefused:
		return ReasonCodeRefused
	default:
		return ReasonCodeNotAssessed
	}
}

// AssessmentResponse is the customer-facing API response for POST /assess.
type AssessmentResponse struct {
	AssessmentID   string             `json:"assessmentId"`
	OrderID        string             `json:"orderId"`
	Recommendation Recommendation     `json:"recommendation"`
	Score          float64            `json:"score"`
	Level          RiskLevel          `json:"level"`
	ReasonCode     string             `json:"reasonCode"`
	Metadata       AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID           string `json:"traceId"`
	RulesMs           int64  `json:"rulesMs"`
	JudgmentMs        int64  `json:"judgmentMs"`
	TotalMs           int64  `json:"totalMs"`
	SignalsEvaluated  int    `json:"signalsEvaluated"`
	SignalsTriggered  int    `json:"signalsTriggered"`
	JudgmentAvailable bool   `json:"judgmentAvailable"`
	EngineVersion     string `json:"engineVersion"`
}
