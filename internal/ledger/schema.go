package ledger

// Schemas use portable SQL that works on both SQLite and PostgreSQL.
// The partial unique index on risk_assessments is the single-writer
// guarantee: at most one non-superseded row per (tenant, order).

const schemaSubmissions = `
CREATE TABLE IF NOT EXISTS order_submissions (
	order_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	customer_email TEXT NOT NULL,
	customer_name TEXT NOT NULL,
	account_created TIMESTAMP NOT NULL,
	prior_orders INTEGER NOT NULL DEFAULT 0,
	prior_chargebacks INTEGER NOT NULL DEFAULT 0,
	product_code TEXT NOT NULL,
	order_value REAL NOT NULL,
	currency TEXT NOT NULL,
	billing_name TEXT,
	billing_address TEXT,
	billing_country TEXT,
	instrument_category TEXT,
	origin_country TEXT,
	origin_ip TEXT,
	device_fingerprint TEXT,
	submitted_at TIMESTAMP NOT NULL,
	metadata TEXT,
	PRIMARY KEY (tenant_id, order_id, submitted_at)
)`

const schemaSubmissionIndexes = `
CREATE INDEX IF NOT EXISTS idx_submissions_customer
	ON order_submissions(tenant_id, customer_id, submitted_at)`

const schemaSubmissionFingerprintIndex = `
CREATE INDEX IF NOT EXISTS idx_submissions_fingerprint
	ON order_submissions(tenant_id, device_fingerprint, submitted_at)`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS risk_assessments (
	assessment_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	signals TEXT NOT NULL,
	external_score REAL,
	external_confidence REAL,
	external_rationale TEXT,
	external_available INTEGER NOT NULL DEFAULT 0,
	aggregated_score REAL NOT NULL,
	level TEXT NOT NULL,
	recommendation TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	superseded_by TEXT,
	payment_captured INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, assessment_id)
)`

const schemaAssessmentCurrentIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_assessments_current
	ON risk_assessments(tenant_id, order_id)
	WHERE superseded_by IS NULL`

const schemaAssessmentOrderIndex = `
CREATE INDEX IF NOT EXISTS idx_assessments_order
	ON risk_assessments(tenant_id, order_id, created_at)`

const schemaReviews = `
CREATE TABLE IF NOT EXISTS review_decisions (
	assessment_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	reviewer_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	notes TEXT,
	decided_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, assessment_id)
)`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	-- version is a config label ("2026.1"), not a counter. Must be TEXT:
	-- sqlite affinity would store a string in an INTEGER column, postgres
	-- rejects it.
	version TEXT NOT NULL DEFAULT '1',
	expression TEXT NOT NULL,
	weight REAL NOT NULL,
	severity TEXT NOT NULL,
	evidence TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (id, tenant_id, version)
)`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaSubmissions,
		schemaSubmissionIndexes,
		schemaSubmissionFingerprintIndex,
		schemaAssessments,
		schemaAssessmentCurrentIndex,
		schemaAssessmentOrderIndex,
		schemaReviews,
		schemaRuleConfigs,
	}
}
