package domain

import "time"

// ReviewOutcome is a reviewer's verdict on a held or refused assessment.
type ReviewOutcome string

const (
	ReviewConfirm         ReviewOutcome = "CONFIRM"
	ReviewOverrideApprove ReviewOutcome = "OVERRIDE_APPROVE"
	ReviewOverrideDecline ReviewOutcome = "OVERRIDE_DECLINE"
)

// Valid reports whether the outcome is one of the known values.
func (o ReviewOutcome) Valid() bool {
	switch o {
	case ReviewConfirm, ReviewOverrideApprove, ReviewOverrideDecline:
		return true
	}
	return false
}

// ReviewDecision is the human-in-the-loop record superseding an assessment's
// recommendation. At most one exists per assessment (first reviewer wins).
type ReviewDecision struct {
	AssessmentID string        `json:"assessmentId"`
	TenantID     string        `json:"tenantId"`
	ReviewerID   string        `json:"reviewerId"`
	Outcome      ReviewOutcome `json:"outcome"`
	Notes        string        `json:"notes"`
	DecidedAt    time.Time     `json:"decidedAt"`
}
