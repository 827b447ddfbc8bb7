// Package ledger provides the append-only assessment store.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/formationhq/riskgate/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyAssessed is returned when a non-superseded assessment
	// already exists for the order. The caller must read the existing
	// record via CurrentForOrder, never retry with a fresh decision.
	ErrAlreadyAssessed = errors.New("order already assessed")

	// ErrReviewExists is returned to the losing reviewer of a concurrent
	// review race.
	ErrReviewExists = errors.New("review decision already exists")

	// ErrConflict is returned when a supersession races with another
	// writer.
	ErrConflict = errors.New("assessment superseded concurrently")

	// ErrAssessmentFrozen is returned when attempting to supersede an
	// assessment whose payment has been captured.
	ErrAssessmentFrozen = errors.New("assessment frozen after payment capture")
)

// SQLLedger implements domain.Ledger using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLLedger struct {
	db     *sql.DB
	driver string
}

// New creates a new ledger based on configuration.
func New(cfg domain.LedgerConfig) (domain.Ledger, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	l := &SQLLedger{
		db:     db,
		driver: cfg.Driver,
	}

	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return l, nil
}

func (l *SQLLedger) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := l.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSubmission stores a submission snapshot with tenant isolation.
func (l *SQLLedger) SaveSubmission(ctx context.Context, tenantID string, sub *domain.OrderSubmission) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(sub.Metadata)

	query := `
		INSERT INTO order_submissions (
			order_id, tenant_id, customer_id, customer_email, customer_name,
			account_created, prior_orders, prior_chargebacks,
			product_code, order_value, currency,
			billing_name, billing_address, billing_country, instrument_category,
			origin_country, origin_ip, device_fingerprint,
			submitted_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, l.rebind(query),
		sub.OrderID, tenantID, sub.CustomerID, sub.CustomerEmail, sub.CustomerName,
		sub.AccountCreated, sub.PriorOrders, sub.PriorChargebacks,
		sub.ProductCode, sub.OrderValue, sub.Currency,
		sub.BillingName, sub.BillingAddress, sub.BillingCountry, sub.InstrumentCategory,
		sub.OriginCountry, sub.OriginIP, sub.DeviceFingerprint,
		sub.SubmittedAt, string(metadata),
	)
	return err
}

// GetSubmission retrieves a submission snapshot with tenant isolation.
func (l *SQLLedger) GetSubmission(ctx context.Context, tenantID string, orderID string) (*domain.OrderSubmission, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT order_id, tenant_id, customer_id, customer_email, customer_name,
			   account_created, prior_orders, prior_chargebacks,
			   product_code, order_value, currency,
			   billing_name, billing_address, billing_country, instrument_category,
			   origin_country, origin_ip, device_fingerprint,
			   submitted_at, metadata
		FROM order_submissions
		WHERE tenant_id = ? AND order_id = ?
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	var sub domain.OrderSubmission
	var metadata string

	err := l.db.QueryRowContext(ctx, l.rebind(query), tenantID, orderID).Scan(
		&sub.OrderID, &sub.TenantID, &sub.CustomerID, &sub.CustomerEmail, &sub.CustomerName,
		&sub.AccountCreated, &sub.PriorOrders, &sub.PriorChargebacks,
		&sub.ProductCode, &sub.OrderValue, &sub.Currency,
		&sub.BillingName, &sub.BillingAddress, &sub.BillingCountry, &sub.InstrumentCategory,
		&sub.OriginCountry, &sub.OriginIP, &sub.DeviceFingerprint,
		&sub.SubmittedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &sub.Metadata)
	}

	return &sub, nil
}

// CountSubmissionsByCustomer counts recent submissions for a customer.
func (l *SQLLedger) CountSubmissionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) (int64, error) {
	return l.countSubmissions(ctx, tenantID, "customer_id", customerID, since)
}

// CountSubmissionsByFingerprint counts recent submissions for a device.
func (l *SQLLedger) CountSubmissionsByFingerprint(ctx context.Context, tenantID string, fingerprint string, since time.Time) (int64, error) {
	return l.countSubmissions(ctx, tenantID, "device_fingerprint", fingerprint, since)
}

func (l *SQLLedger) countSubmissions(ctx context.Context, tenantID, column, value string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM order_submissions
		WHERE tenant_id = ? AND %s = ? AND submitted_at >= ?
	`, column)

	var count int64
	err := l.db.QueryRowContext(ctx, l.rebind(query), tenantID, value, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// RecordAssessment appends an assessment. The partial unique index on
// (tenant_id, order_id) over non-superseded rows is the compare-and-swap:
// the losing writer of a concurrent race gets ErrAlreadyAssessed.
func (l *SQLLedger) RecordAssessment(ctx context.Context, tenantID string, a *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a.AssessmentID == "" || a.OrderID == "" {
		return fmt.Errorf("%w: assessmentId and orderId are required", ErrInvalidInput)
	}

	err := l.insertAssessment(ctx, l.db, tenantID, a)
	if isUniqueViolation(err) {
		return ErrAlreadyAssessed
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *SQLLedger) insertAssessment(ctx context.Context, db execer, tenantID string, a *domain.RiskAssessment) error {
	signals, _ := json.Marshal(a.Signals)

	var extScore sql.NullFloat64
	var extConfidence sql.NullFloat64
	var extRationale sql.NullString
	if a.ExternalJudgment.SourceAvailable {
		extScore = sql.NullFloat64{Float64: a.ExternalJudgment.Score, Valid: true}
		extConfidence = sql.NullFloat64{Float64: a.ExternalJudgment.Confidence, Valid: true}
		extRationale = sql.NullString{String: a.ExternalJudgment.Rationale, Valid: true}
	}

	query := `
		INSERT INTO risk_assessments (
			assessment_id, tenant_id, order_id, customer_id,
			signals, external_score, external_confidence, external_rationale, external_available,
			aggregated_score, level, recommendation,
			created_at, superseded_by, payment_captured
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)
	`

	_, err := db.ExecContext(ctx, l.rebind(query),
		a.AssessmentID, tenantID, a.OrderID, a.CustomerID,
		string(signals), extScore, extConfidence, extRationale, boolToInt(a.ExternalJudgment.SourceAvailable),
		a.AggregatedScore, string(a.Level), string(a.Recommendation),
		a.CreatedAt,
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (l *SQLLedger) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAssessment + ` WHERE tenant_id = ? AND assessment_id = ?`
	return l.scanAssessment(l.db.QueryRowContext(ctx, l.rebind(query), tenantID, assessmentID))
}

// CurrentForOrder returns the single non-superseded assessment for an
// order, or ErrNotFound when the order is still awaiting assessment.
func (l *SQLLedger) CurrentForOrder(ctx context.Context, tenantID string, orderID string) (*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAssessment + ` WHERE tenant_id = ? AND order_id = ? AND superseded_by IS NULL`
	return l.scanAssessment(l.db.QueryRowContext(ctx, l.rebind(query), tenantID, orderID))
}

// ListAssessmentsForOrder returns the full audit chain for an order,
// newest first.
func (l *SQLLedger) ListAssessmentsForOrder(ctx context.Context, tenantID string, orderID string) ([]*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAssessment + ` WHERE tenant_id = ? AND order_id = ? ORDER BY created_at DESC`

	rows, err := l.db.QueryContext(ctx, l.rebind(query), tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.RiskAssessment
	for rows.Next() {
		a, err := l.scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// Supersede appends the next assessment for an order and repoints the old
// record at it, atomically. Fails with ErrConflict if the old record was
// already superseded, and ErrAssessmentFrozen once payment is captured.
func (l *SQLLedger) Supersede(ctx context.Context, tenantID string, oldID string, next *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if next == nil || next.AssessmentID == "" {
		return fmt.Errorf("%w: next assessment is required", ErrInvalidInput)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Repoint first so the partial unique index admits the new row.
	res, err := tx.ExecContext(ctx, l.rebind(`
		UPDATE risk_assessments
		SET superseded_by = ?
		WHERE tenant_id = ? AND assessment_id = ?
		  AND superseded_by IS NULL AND payment_captured = 0
	`), next.AssessmentID, tenantID, oldID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish frozen from racing writers for the caller.
		old, getErr := l.GetAssessment(ctx, tenantID, oldID)
		if getErr == nil && old.PaymentCaptured {
			return ErrAssessmentFrozen
		}
		return ErrConflict
	}

	if err := l.insertAssessment(ctx, tx, tenantID, next); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}

	return tx.Commit()
}

// MarkPaymentCaptured freezes the governing assessment for an order.
func (l *SQLLedger) MarkPaymentCaptured(ctx context.Context, tenantID string, orderID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	res, err := l.db.ExecContext(ctx, l.rebind(`
		UPDATE risk_assessments
		SET payment_captured = 1
		WHERE tenant_id = ? AND order_id = ? AND superseded_by IS NULL
	`), tenantID, orderID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReviewDecision appends a review decision. The primary key on
// (tenant_id, assessment_id) makes the first reviewer win; the second
// writer gets ErrReviewExists.
func (l *SQLLedger) SaveReviewDecision(ctx context.Context, tenantID string, d *domain.ReviewDecision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if d.AssessmentID == "" || d.ReviewerID == "" {
		return fmt.Errorf("%w: assessmentId and reviewerId are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO review_decisions (
			assessment_id, tenant_id, reviewer_id, outcome, notes, decided_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, l.rebind(query),
		d.AssessmentID, tenantID, d.ReviewerID, string(d.Outcome), d.Notes, d.DecidedAt,
	)
	if isUniqueViolation(err) {
		return ErrReviewExists
	}
	return err
}

// GetReviewDecision retrieves the review decision for an assessment.
func (l *SQLLedger) GetReviewDecision(ctx context.Context, tenantID string, assessmentID string) (*domain.ReviewDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT assessment_id, tenant_id, reviewer_id, outcome, notes, decided_at
		FROM review_decisions
		WHERE tenant_id = ? AND assessment_id = ?
	`

	var d domain.ReviewDecision
	var outcome string

	err := l.db.QueryRowContext(ctx, l.rebind(query), tenantID, assessmentID).Scan(
		&d.AssessmentID, &d.TenantID, &d.ReviewerID, &outcome, &d.Notes, &d.DecidedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Outcome = domain.ReviewOutcome(outcome)
	return &d, nil
}

// ListPendingReviews returns current VERIFY/DECLINE assessments that have
// no review decision yet, oldest first.
func (l *SQLLedger) ListPendingReviews(ctx context.Context, tenantID string, limit int) ([]*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT a.assessment_id, a.tenant_id, a.order_id, a.customer_id,
			   a.signals, a.external_score, a.external_confidence, a.external_rationale, a.external_available,
			   a.aggregated_score, a.level, a.recommendation,
			   a.created_at, a.superseded_by, a.payment_captured
		FROM risk_assessments a
		LEFT JOIN review_decisions r
		  ON r.tenant_id = a.tenant_id AND r.assessment_id = a.assessment_id
		WHERE a.tenant_id = ?
		  AND a.superseded_by IS NULL
		  AND a.recommendation IN ('VERIFY', 'DECLINE')
		  AND r.assessment_id IS NULL
		ORDER BY a.created_at ASC
		LIMIT ?
	`

	rows, err := l.db.QueryContext(ctx, l.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*domain.RiskAssessment
	for rows.Next() {
		a, err := l.scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, a)
	}

	return pending, rows.Err()
}

// SaveSignalConfig stores a rule configuration with tenant isolation.
func (l *SQLLedger) SaveSignalConfig(ctx context.Context, tenantID string, cfg *domain.SignalConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, weight, severity, evidence, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			severity = excluded.severity,
			evidence = excluded.evidence,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := l.db.ExecContext(ctx, l.rebind(query),
		cfg.ID, tenantID, cfg.Name, cfg.Description,
		cfg.Version, cfg.Expression, cfg.Weight, string(cfg.Severity), cfg.Evidence, boolToInt(cfg.Enabled),
		now, now,
	)
	return err
}

// GetSignalConfig retrieves a rule configuration with tenant isolation.
func (l *SQLLedger) GetSignalConfig(ctx context.Context, tenantID string, ruleID string) (*domain.SignalConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, severity, evidence, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.SignalConfig
	var severity string
	var enabled int

	err := l.db.QueryRowContext(ctx, l.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Weight, &severity, &cfg.Evidence, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListSignalConfigs retrieves all active rule configurations for a tenant.
func (l *SQLLedger) ListSignalConfigs(ctx context.Context, tenantID string) ([]*domain.SignalConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, severity, evidence, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := l.db.QueryContext(ctx, l.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.SignalConfig
	for rows.Next() {
		var cfg domain.SignalConfig
		var severity string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.Weight, &severity, &cfg.Evidence, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Severity = domain.Severity(severity)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (l *SQLLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

const selectAssessment = `
	SELECT assessment_id, tenant_id, order_id, customer_id,
		   signals, external_score, external_confidence, external_rationale, external_available,
		   aggregated_score, level, recommendation,
		   created_at, superseded_by, payment_captured
	FROM risk_assessments
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *SQLLedger) scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var signals string
	var extScore, extConfidence sql.NullFloat64
	var extRationale, supersededBy sql.NullString
	var extAvailable, captured int
	var level, recommendation string

	err := row.Scan(
		&a.AssessmentID, &a.TenantID, &a.OrderID, &a.CustomerID,
		&signals, &extScore, &extConfidence, &extRationale, &extAvailable,
		&a.AggregatedScore, &level, &recommendation,
		&a.CreatedAt, &supersededBy, &captured,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(signals), &a.Signals); err != nil {
		return nil, fmt.Errorf("failed to parse signals for %s: %w", a.AssessmentID, err)
	}

	if extAvailable == 1 {
		a.ExternalJudgment = domain.ExternalJudgmentResult{
			Score:           extScore.Float64,
			Confidence:      extConfidence.Float64,
			Rationale:       extRationale.String,
			SourceAvailable: true,
		}
	}

	a.Level = domain.RiskLevel(level)
	a.Recommendation = domain.Recommendation(recommendation)
	a.SupersededBy = supersededBy.String
	a.PaymentCaptured = captured == 1

	return &a, nil
}

// isUniqueViolation reports whether the error is a unique-index conflict
// on either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (l *SQLLedger) rebind(query string) string {
	if l.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
