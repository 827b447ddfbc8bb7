package domain

import "strings"

// ReferenceData holds the read-only lookup sets the signal extractor
// consults. Supplied at startup; no network calls happen during extraction.
type ReferenceData struct {
	// DisposableEmailDomains is the set of throwaway-mail domains.
	DisposableEmailDomains map[string]bool

	// BadActors maps a customer ID, email, or device fingerprint to the
	// reason it was listed.
	BadActors map[string]string

	// HighRiskCountries is the set of origin country codes treated as
	// elevated risk.
	HighRiskCountries map[string]bool
}

// DefaultReferenceData returns a small built-in data set usable for
// development and tests. Production deployments load real lists.
func DefaultReferenceData() *ReferenceData {
	return &ReferenceData{
		DisposableEmailDomains: map[string]bool{
			"mailinator.com":    true,
			"guerrillamail.com": true,
			"10minutemail.com":  true,
			"tempmail.dev":      true,
			"sharklasers.com":   true,
		},
		BadActors:         map[string]string{},
		HighRiskCountries: map[string]bool{},
	}
}

// IsDisposableDomain reports whether the email's domain is a known
// throwaway-mail provider.
func (r *ReferenceData) IsDisposableDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	return r.DisposableEmailDomains[strings.ToLower(email[at+1:])]
}

// BadActorReason returns the listing reason for any of the given keys, or
// "" when none is listed.
func (r *ReferenceData) BadActorReason(keys ...string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if reason, ok := r.BadActors[strings.ToLower(k)]; ok {
			return reason
		}
	}
	return ""
}
