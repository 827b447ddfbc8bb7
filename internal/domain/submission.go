package domain

import (
	"time"
)

// OrderSubmission is the raw order+customer snapshot captured for one
// assessment attempt. Immutable once captured.
type OrderSubmission struct {
	// Core identifiers
	OrderID  string `json:"orderId"`
	TenantID string `json:"tenantId"`

	// Customer identity (supplied by the identity collaborator)
	CustomerID       string    `json:"customerId"`
	CustomerEmail    string    `json:"customerEmail"`
	CustomerName     string    `json:"customerName"`
	AccountCreated   time.Time `json:"accountCreated"`
	PriorOrders      int       `json:"priorOrders"`
	PriorChargebacks int       `json:"priorChargebacks"`

	// Order contents
	ProductCode string  `json:"productCode"`
	OrderValue  float64 `json:"orderValue"`
	Currency    string  `json:"currency"`

	// Declared billing details
	BillingName    string `json:"billingName"`
	BillingAddress string `json:"billingAddress"`
	BillingCountry string `json:"billingCountry"`

	// Payment instrument category: "card", "prepaid_card", "bank_debit", "wallet"
	InstrumentCategory string `json:"instrumentCategory"`

	// Network origin hints
	OriginCountry     string `json:"originCountry"`
	OriginIP          string `json:"originIp"`
	DeviceFingerprint string `json:"deviceFingerprint"`

	// Temporal
	SubmittedAt time.Time `json:"submittedAt"`

	// Optional metadata from the checkout collaborator
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SubmissionRequest is the API request payload for POST /assess.
type SubmissionRequest struct {
	OrderID  string                 `json:"orderId"`
	Customer CustomerInfo           `json:"customer"`
	Order    OrderInfo              `json:"order"`
	Billing  BillingInfo            `json:"billing"`
	Origin   OriginInfo             `json:"origin"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CustomerInfo carries the identity facts used as rule inputs.
type CustomerInfo struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	AccountCreated   time.Time `json:"accountCreated"`
	PriorOrders      int       `json:"priorOrders"`
	PriorChargebacks int       `json:"priorChargebacks"`
}

// OrderInfo describes the order contents.
type OrderInfo struct {
	ProductCode string  `json:"productCode"`
	Value       float64 `json:"value"`
	Currency    string  `json:"currency"`
}

// BillingInfo carries the declared billing details.
type BillingInfo struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	Country            string `json:"country"`
	InstrumentCategory string `json:"instrumentCategory"`
}

// OriginInfo carries network origin hints.
type OriginInfo struct {
	Country           string `json:"country"`
	IP                string `json:"ip"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

// ToSubmission converts a request to an OrderSubmission domain object.
func (r *SubmissionRequest) ToSubmission(tenantID string) *OrderSubmission {
	return &OrderSubmission{
		OrderID:            r.OrderID,
		TenantID:           tenantID,
		CustomerID:         r.Customer.ID,
		CustomerEmail:      r.Customer.Email,
		CustomerName:       r.Customer.Name,
		AccountCreated:     r.Customer.AccountCreated,
		PriorOrders:        r.Customer.PriorOrders,
		PriorChargebacks:   r.Customer.PriorChargebacks,
		ProductCode:        r.Order.ProductCode,
		OrderValue:         r.Order.Value,
		Currency:           r.Order.Currency,
		BillingName:        r.Billing.Name,
		BillingAddress:     r.Billing.Address,
		BillingCountry:     r.Billing.Country,
		InstrumentCategory: r.Billing.InstrumentCategory,
		OriginCountry:      r.Origin.Country,
		OriginIP:           r.Origin.IP,
		DeviceFingerprint:  r.Origin.DeviceFingerprint,
		SubmittedAt:        time.Now().UTC(),
		Metadata:           r.Metadata,
	}
}

// FeatureSet is the normalized feature view of a submission, produced by
// the signal extractor. Rules evaluate against these fields only.
type FeatureSet struct {
	OrderID    string `json:"orderId"`
	TenantID   string `json:"tenantId"`
	CustomerID string `json:"customerId"`

	// Numeric features
	AccountAgeDays   float64 `json:"accountAgeDays"`
	PriorOrders      int     `json:"priorOrders"`
	PriorChargebacks int     `json:"priorChargebacks"`
	OrderValue       float64 `json:"orderValue"`
	VelocityCount    int64   `json:"velocityCount"`

	// Boolean features from reference-data lookups
	DisposableEmail     bool `json:"disposableEmail"`
	PrepaidInstrument   bool `json:"prepaidInstrument"`
	GeoMismatch         bool `json:"geoMismatch"`
	HighRiskOrigin      bool `json:"highRiskOrigin"`
	BadActorHit         bool `json:"badActorHit"`
	ImplausibleIdentity bool `json:"implausibleIdentity"`

	// Passthrough strings for expressions that need them
	Currency           string `json:"currency"`
	InstrumentCategory string `json:"instrumentCategory"`
	BillingCountry     string `json:"billingCountry"`
	OriginCountry      string `json:"originCountry"`
}
