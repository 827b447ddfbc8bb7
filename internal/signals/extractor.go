// Package signals normalizes raw order submissions into the feature set
// the rule engine evaluates.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/formationhq/riskgate/internal/domain"
)

// ErrInvalidSubmission marks a malformed submission. It is rejected before
// any rule runs and no assessment is recorded.
var ErrInvalidSubmission = errors.New("invalid submission")

// VelocityGetter returns the submission count for an entity in a rolling
// time window. Velocity is the only stateful lookup in extraction; it runs
// here so the rule engine itself stays pure.
type VelocityGetter func(ctx context.Context, tenantID, entityID string, windowSecs int) (int64, error)

// Extractor turns an OrderSubmission into a FeatureSet using read-only
// reference data and the velocity getter.
type Extractor struct {
	ref        *domain.ReferenceData
	velocity   VelocityGetter
	windowSecs int
}

// NewExtractor creates a new signal extractor.
func NewExtractor(ref *domain.ReferenceData, velocity VelocityGetter, windowSecs int) *Extractor {
	if ref == nil {
		ref = domain.DefaultReferenceData()
	}
	if windowSecs <= 0 {
		windowSecs = 3600
	}
	return &Extractor{
		ref:        ref,
		velocity:   velocity,
		windowSecs: windowSecs,
	}
}

// Validate checks that a submission is well-formed. Callers must reject
// invalid submissions before the pipeline runs.
func (e *Extractor) Validate(sub *domain.OrderSubmission) error {
	if sub == nil {
		return fmt.Errorf("%w: submission is nil", ErrInvalidSubmission)
	}
	if sub.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidSubmission)
	}
	if sub.CustomerID == "" {
		return fmt.Errorf("%w: customer.id is required", ErrInvalidSubmission)
	}
	if sub.CustomerEmail == "" || !strings.Contains(sub.CustomerEmail, "@") {
		return fmt.Errorf("%w: customer.email is required", ErrInvalidSubmission)
	}
	if sub.OrderValue <= 0 {
		return fmt.Errorf("%w: order.value must be positive", ErrInvalidSubmission)
	}
	if sub.AccountCreated.IsZero() {
		return fmt.Errorf("%w: customer.accountCreated is required", ErrInvalidSubmission)
	}
	if sub.AccountCreated.After(time.Now().UTC().Add(time.Minute)) {
		return fmt.Errorf("%w: customer.accountCreated is in the future", ErrInvalidSubmission)
	}
	return nil
}

// Extract validates the submission and produces its normalized features.
func (e *Extractor) Extract(ctx context.Context, sub *domain.OrderSubmission) (*domain.FeatureSet, error) {
	if err := e.Validate(sub); err != nil {
		return nil, err
	}

	asOf := sub.SubmittedAt
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	fs := &domain.FeatureSet{
		OrderID:            sub.OrderID,
		TenantID:           sub.TenantID,
		CustomerID:         sub.CustomerID,
		AccountAgeDays:     asOf.Sub(sub.AccountCreated).Hours() / 24,
		PriorOrders:        sub.PriorOrders,
		PriorChargebacks:   sub.PriorChargebacks,
		OrderValue:         sub.OrderValue,
		Currency:           sub.Currency,
		InstrumentCategory: sub.InstrumentCategory,
		BillingCountry:     strings.ToUpper(sub.BillingCountry),
		OriginCountry:      strings.ToUpper(sub.OriginCountry),
	}
	if fs.AccountAgeDays < 0 {
		fs.AccountAgeDays = 0
	}

	fs.DisposableEmail = e.ref.IsDisposableDomain(sub.CustomerEmail)
	fs.PrepaidInstrument = isPrepaid(sub.InstrumentCategory)
	fs.GeoMismatch = fs.BillingCountry != "" && fs.OriginCountry != "" && fs.BillingCountry != fs.OriginCountry
	fs.HighRiskOrigin = e.ref.HighRiskCountries[fs.OriginCountry]
	fs.BadActorHit = e.ref.BadActorReason(sub.CustomerID, sub.CustomerEmail, sub.DeviceFingerprint) != ""
	fs.ImplausibleIdentity = implausibleIdentity(sub)

	if e.velocity != nil {
		entity := sub.CustomerID
		if sub.DeviceFingerprint != "" {
			entity = sub.DeviceFingerprint
		}
		count, err := e.velocity(ctx, sub.TenantID, entity, e.windowSecs)
		if err != nil {
			// A failed velocity lookup must not let a burst go unnoticed;
			// leave the count at zero but record the degradation.
			slog.Warn("velocity lookup failed",
				"order_id", sub.OrderID,
				"error", err,
			)
		} else {
			fs.VelocityCount = count
		}
	}

	return fs, nil
}

func isPrepaid(category string) bool {
	switch strings.ToLower(category) {
	case "prepaid_card", "prepaid", "anonymous_card", "gift_card":
		return true
	}
	return false
}

// implausibleIdentity flags name/address combinations that look fabricated:
// single-character runs, digit-only names, billing names with no overlap
// with the account holder, or addresses with no house number.
func implausibleIdentity(sub *domain.OrderSubmission) bool {
	name := strings.TrimSpace(sub.BillingName)
	if name == "" {
		name = strings.TrimSpace(sub.CustomerName)
	}
	if len(name) < 2 || allSameRune(name) || !containsLetter(name) {
		return true
	}

	addr := strings.TrimSpace(sub.BillingAddress)
	if addr != "" && (len(addr) < 5 || !containsDigit(addr)) {
		return true
	}

	// Billing name sharing no token with the customer name is suspicious
	// for a formation order, where the filer usually pays.
	if sub.CustomerName != "" && sub.BillingName != "" && !shareToken(sub.CustomerName, sub.BillingName) {
		return true
	}

	return false
}

func allSameRune(s string) bool {
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func shareToken(a, b string) bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(a)) {
		tokens[t] = true
	}
	for _, t := range strings.Fields(strings.ToLower(b)) {
		if tokens[t] {
			return true
		}
	}
	return false
}
