// Package domain defines the core interfaces and types for Riskgate.
package domain

import (
	"context"
	"time"
)

// Ledger is the append-only store of assessments and review decisions.
// All methods require tenantID for strict multi-tenancy isolation.
type Ledger interface {
	// Submission audit trail
	SaveSubmission(ctx context.Context, tenantID string, sub *OrderSubmission) error
	GetSubmission(ctx context.Context, tenantID string, orderID string) (*OrderSubmission, error)
	CountSubmissionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int64, error)
	CountSubmissionsByFingerprint(ctx context.Context, tenantID string, fingerprint string, since time.Time) (int64, error)

	// Assessment operations. RecordAssessment succeeds only if no
	// non-superseded record exists for the order; the losing writer gets
	// ErrAlreadyAssessed and must read the existing record instead.
	RecordAssessment(ctx context.Context, tenantID string, a *RiskAssessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*RiskAssessment, error)
	CurrentForOrder(ctx context.Context, tenantID string, orderID string) (*RiskAssessment, error)
	Supersede(ctx context.Context, tenantID string, oldID string, next *RiskAssessment) error
	MarkPaymentCaptured(ctx context.Context, tenantID string, orderID string) error
	ListAssessmentsForOrder(ctx context.Context, tenantID string, orderID string) ([]*RiskAssessment, error)

	// Review decisions. SaveReviewDecision enforces first-reviewer-wins;
	// the second writer gets ErrReviewExists.
	SaveReviewDecision(ctx context.Context, tenantID string, d *ReviewDecision) error
	GetReviewDecision(ctx context.Context, tenantID string, assessmentID string) (*ReviewDecision, error)
	ListPendingReviews(ctx context.Context, tenantID string, limit int) ([]*RiskAssessment, error)

	// Rule battery configuration
	SaveSignalConfig(ctx context.Context, tenantID string, cfg *SignalConfig) error
	GetSignalConfig(ctx context.Context, tenantID string, ruleID string) (*SignalConfig, error)
	ListSignalConfigs(ctx context.Context, tenantID string) ([]*SignalConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// LedgerConfig holds configuration for ledger initialization.
type LedgerConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
