package rules

import "github.com/formationhq/riskgate/internal/domain"

// BatteryVersion identifies the built-in battery revision.
const BatteryVersion = "2026.1"

// DefaultBattery returns the built-in heuristic battery. It seeds the
// ledger on first start; after that the persisted configs are the source
// of truth and are tunable via the API without a redeploy.
func DefaultBattery() []*domain.SignalConfig {
	return []*domain.SignalConfig{
		{
			ID:          "disposable-email",
			Name:        "disposable_email_domain",
			Description: "Customer email uses a throwaway-mail provider",
			Version:     BatteryVersion,
			Expression:  "disposable_email",
			Weight:      22,
			Severity:    domain.SeverityMedium,
			Evidence:    "email domain is a known disposable-mail provider",
			Enabled:     true,
		},
		{
			ID:          "prepaid-instrument",
			Name:        "prepaid_instrument",
			Description: "Payment instrument is prepaid or anonymous",
			Version:     BatteryVersion,
			Expression:  "prepaid_instrument",
			Weight:      18,
			Severity:    domain.SeverityMedium,
			Evidence:    "payment instrument category is prepaid/anonymous",
			Enabled:     true,
		},
		{
			ID:          "new-account-high-value",
			Name:        "new_account_high_value",
			Description: "Account younger than 30 days placing a high-value order",
			Version:     BatteryVersion,
			Expression:  "account_age_days < 30.0 && order_value > 500.0",
			Weight:      30,
			Severity:    domain.SeverityHigh,
			Evidence:    "new account combined with high order value",
			Enabled:     true,
		},
		{
			ID:          "chargeback-history",
			Name:        "prior_chargebacks",
			Description: "Customer has at least one prior chargeback",
			Version:     BatteryVersion,
			Expression:  "prior_chargebacks > 0",
			Weight:      40,
			Severity:    domain.SeverityHigh,
			Evidence:    "customer has prior chargeback history",
			Enabled:     true,
		},
		{
			ID:          "order-velocity",
			Name:        "order_velocity",
			Description: "More than three orders from the same identity or fingerprint in the rolling window",
			Version:     BatteryVersion,
			Expression:  "velocity_count > 3",
			Weight:      28,
			Severity:    domain.SeverityMedium,
			Evidence:    "order velocity exceeds rolling-window threshold",
			Enabled:     true,
		},
		{
			ID:          "geo-mismatch",
			Name:        "geo_mismatch",
			Description: "Network origin country differs from billing country",
			Version:     BatteryVersion,
			Expression:  "geo_mismatch",
			Weight:      15,
			Severity:    domain.SeverityLow,
			Evidence:    "origin country does not match billing country",
			Enabled:     true,
		},
		{
			ID:          "bad-actor",
			Name:        "bad_actor_hit",
			Description: "Customer identity, email, or device is on the known-bad-actor list",
			Version:     BatteryVersion,
			Expression:  "bad_actor_hit",
			Weight:      80,
			Severity:    domain.SeverityHigh,
			Evidence:    "known-bad-actor list hit",
			Enabled:     true,
		},
		{
			ID:          "implausible-identity",
			Name:        "implausible_identity",
			Description: "Name/address combination looks fabricated",
			Version:     BatteryVersion,
			Expression:  "implausible_identity",
			Weight:      20,
			Severity:    domain.SeverityMedium,
			Evidence:    "name/address combination is implausible",
			Enabled:     true,
		},
	}
}
