//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Riskgate pre-payment
// assessment pipeline.
//
// These tests verify the COMPLETE order lifecycle:
//
//	Submission → Signals → Rules → Judgment → Score → Ledger → Admission Gate
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SUBMISSION: An order captured at checkout, before payment. Carries the
//    customer identity, order contents, billing details, and network origin.
//
// 2. ASSESSMENT: The pipeline's verdict. Each assessment has:
//   - Score: 0-100 aggregated risk
//   - Level: LOW / MEDIUM / HIGH / CRITICAL
//   - Recommendation: APPROVE / VERIFY / DECLINE
//
// 3. LEDGER: Append-only record store. Exactly one non-superseded record
//    governs each order; reassessment supersedes, never rewrites.
//
// 4. ADMISSION GATE: Payment capture is allowed only when the governing
//    record (adjusted for any review decision) admits the order. An order
//    with no record is refused - absence of evidence is never approval.
//
// 5. REVIEW: A human decision on a VERIFY or DECLINE record. First reviewer
//    wins; an override to approve requires notes.
//
// The default battery ships with the server and is seeded on first start, so
// no rule seeding is needed before running these tests.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("RISKGATE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching Riskgate's API contract)
// ============================================================================

// AssessRequest is the order sent to POST /assess
type AssessRequest struct {
	OrderID  string   `json:"orderId"`
	Customer Customer `json:"customer"`
	Order    Order    `json:"order"`
	Billing  Billing  `json:"billing"`
	Origin   Origin   `json:"origin"`
}

type Customer struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	AccountCreated   time.Time `json:"accountCreated"`
	PriorOrders      int       `json:"priorOrders"`
	PriorChargebacks int       `json:"priorChargebacks"`
}

type Order struct {
	ProductCode string  `json:"productCode"`
	Value       float64 `json:"value"`
	Currency    string  `json:"currency"`
}

type Billing struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	Country            string `json:"country"`
	InstrumentCategory string `json:"instrumentCategory"`
}

type Origin struct {
	Country           string `json:"country"`
	IP                string `json:"ip"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

// AssessResponse is what POST /assess returns
type AssessResponse struct {
	AssessmentID   string         `json:"assessmentId"`
	OrderID        string         `json:"orderId"`
	Recommendation string         `json:"recommendation"` // APPROVE / VERIFY / DECLINE
	Score          float64        `json:"score"`          // 0-100
	Level          string         `json:"level"`          // LOW / MEDIUM / HIGH / CRITICAL
	ReasonCode     string         `json:"reasonCode"`
	Metadata       map[string]any `json:"metadata"`
}

// AdmissionStatus is what GET /orders/{id}/admission returns
type AdmissionStatus struct {
	OrderID      string `json:"orderId"`
	State        string `json:"state"`
	ReasonCode   string `json:"reasonCode"`
	AssessmentID string `json:"assessmentId"`
}

// ReviewRequest is the body of POST /assessments/{id}/review
type ReviewRequest struct {
	ReviewerID string `json:"reviewerId"`
	Outcome    string `json:"outcome"`
	Notes      string `json:"notes,omitempty"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doRequest(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	return resp.StatusCode, respBody
}

func assess(t *testing.T, config TestConfig, req AssessRequest) AssessResponse {
	t.Helper()

	status, body := doRequest(t, config, "POST", "/assess", req)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result AssessResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func admission(t *testing.T, config TestConfig, orderID string) AdmissionStatus {
	t.Helper()

	status, body := doRequest(t, config, "GET", "/orders/"+orderID+"/admission", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result AdmissionStatus
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal admission: %v", err)
	}
	return result
}

// uniqueID keeps re-runs against the same server from colliding on CAS.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func cleanOrder(orderID string) AssessRequest {
	return AssessRequest{
		OrderID: orderID,
		Customer: Customer{
			ID:             uniqueID("cust-clean"),
			Email:          "pat@example.com",
			Name:           "Pat Doyle",
			AccountCreated: time.Now().UTC().Add(-400 * 24 * time.Hour),
			PriorOrders:    6,
		},
		Order: Order{
			ProductCode: "LLC_FORMATION",
			Value:       349.00,
			Currency:    "USD",
		},
		Billing: Billing{
			Name:               "Pat Doyle",
			Address:            "14 Elm Street, Springfield",
			Country:            "US",
			InstrumentCategory: "credit",
		},
		Origin: Origin{
			Country:           "US",
			IP:                "203.0.113.10",
			DeviceFingerprint: uniqueID("fp-clean"),
		},
	}
}

func riskyOrder(orderID string) AssessRequest {
	req := cleanOrder(orderID)
	req.Customer.ID = uniqueID("cust-risky")
	req.Customer.Email = "burner@mailinator.com"
	req.Customer.AccountCreated = time.Now().UTC().Add(-2 * 24 * time.Hour)
	req.Customer.PriorOrders = 0
	req.Customer.PriorChargebacks = 2
	req.Order.Value = 1500.00
	req.Billing.InstrumentCategory = "prepaid_card"
	req.Origin.Country = "BR"
	req.Origin.DeviceFingerprint = uniqueID("fp-risky")
	return req
}

// ============================================================================
// SCENARIO 1: Clean Order (Approve and Capture)
// ============================================================================

func TestCleanOrder_ApprovedAndCaptured(t *testing.T) {
	/*
	   SCENARIO: An established customer places a routine formation order.

	   EXPECTED BEHAVIOR:
	   - No battery heuristics trigger
	   - Recommendation: APPROVE, reason code RISK_CLEAR
	   - Admission: ADMITTED
	   - Payment capture succeeds (200)
	*/
	config := getTestConfig()
	orderID := uniqueID("order-clean")

	result := assess(t, config, cleanOrder(orderID))

	if result.Recommendation != "APPROVE" {
		t.Errorf("Expected APPROVE, got %s (score %.1f)", result.Recommendation, result.Score)
	}
	if result.AssessmentID == "" {
		t.Error("Expected an assessment ID")
	}

	adm := admission(t, config, orderID)
	if adm.State != "ADMITTED" {
		t.Fatalf("Expected ADMITTED, got %s (%s)", adm.State, adm.ReasonCode)
	}

	status, body := doRequest(t, config, "POST", "/orders/"+orderID+"/capture", nil)
	if status != http.StatusOK {
		t.Errorf("Expected capture 200, got %d: %s", status, string(body))
	}

	t.Logf("✓ Clean order captured: score=%.1f, assessment=%s", result.Score, result.AssessmentID)
}

// ============================================================================
// SCENARIO 2: Risky Order (Multiple Signals, Capture Refused)
// ============================================================================

func TestRiskyOrder_CaptureRefused(t *testing.T) {
	/*
	   SCENARIO: A two-day-old account with chargeback history pays for a
	   high-value order with a prepaid card from a mismatched country.

	   EXPECTED BEHAVIOR:
	   - Several heuristics trigger (disposable email, prepaid instrument,
	     new-account-high-value, chargeback history, geo mismatch)
	   - Rules subscore alone is past the decline threshold
	   - Recommendation: DECLINE, admission REFUSED, capture 409
	*/
	config := getTestConfig()
	orderID := uniqueID("order-risky")

	result := assess(t, config, riskyOrder(orderID))

	if result.Recommendation != "DECLINE" {
		t.Errorf("Expected DECLINE, got %s (score %.1f)", result.Recommendation, result.Score)
	}

	adm := admission(t, config, orderID)
	if adm.State != "REFUSED" {
		t.Errorf("Expected REFUSED, got %s", adm.State)
	}
	if adm.ReasonCode != "RISK_REFUSED" {
		t.Errorf("Expected RISK_REFUSED, got %s", adm.ReasonCode)
	}

	status, _ := doRequest(t, config, "POST", "/orders/"+orderID+"/capture", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected capture 409, got %d", status)
	}

	t.Logf("✓ Risky order refused: score=%.1f", result.Score)
}

// ============================================================================
// SCENARIO 3: Refuse By Default (No Assessment)
// ============================================================================

func TestUnassessedOrder_CaptureRefused(t *testing.T) {
	/*
	   SCENARIO: Payment capture is attempted for an order that never went
	   through assessment.

	   EXPECTED BEHAVIOR:
	   - Admission: AWAITING_ASSESSMENT with RISK_NOT_ASSESSED
	   - Capture: 409, never 200. Absence of a record is not approval.
	*/
	config := getTestConfig()
	orderID := uniqueID("order-ghost")

	adm := admission(t, config, orderID)
	if adm.State != "AWAITING_ASSESSMENT" {
		t.Errorf("Expected AWAITING_ASSESSMENT, got %s", adm.State)
	}
	if adm.ReasonCode != "RISK_NOT_ASSESSED" {
		t.Errorf("Expected RISK_NOT_ASSESSED, got %s", adm.ReasonCode)
	}

	status, _ := doRequest(t, config, "POST", "/orders/"+orderID+"/capture", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected capture 409 for unassessed order, got %d", status)
	}

	t.Logf("✓ Unassessed order refused by default")
}

// ============================================================================
// SCENARIO 4: Duplicate Submission (Single Governing Record)
// ============================================================================

func TestDuplicateSubmission_SameGoverningRecord(t *testing.T) {
	/*
	   SCENARIO: The same order is submitted twice (client retry).

	   EXPECTED BEHAVIOR:
	   - Both calls succeed and return the SAME assessment ID
	   - The ledger holds exactly one governing record for the order
	*/
	config := getTestConfig()
	orderID := uniqueID("order-dup")
	req := cleanOrder(orderID)

	first := assess(t, config, req)
	second := assess(t, config, req)

	if first.AssessmentID != second.AssessmentID {
		t.Errorf("Duplicate submission produced a second record: %s vs %s",
			first.AssessmentID, second.AssessmentID)
	}

	t.Logf("✓ Duplicate submission answered from the governing record")
}

// ============================================================================
// SCENARIO 5: Reassessment (Supersession Chain)
// ============================================================================

func TestReassessment_Supersedes(t *testing.T) {
	/*
	   SCENARIO: An order is reassessed after its first record.

	   EXPECTED BEHAVIOR:
	   - The new record gets a new assessment ID and governs the order
	   - The prior record stays in the chain, marked superseded
	*/
	config := getTestConfig()
	orderID := uniqueID("order-reassess")

	first := assess(t, config, cleanOrder(orderID))

	status, body := doRequest(t, config, "POST", "/orders/"+orderID+"/reassess", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected reassess 200, got %d: %s", status, string(body))
	}

	var second AssessResponse
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("Failed to unmarshal reassessment: %v", err)
	}
	if second.AssessmentID == first.AssessmentID {
		t.Error("Reassessment must produce a new record")
	}

	adm := admission(t, config, orderID)
	if adm.AssessmentID != second.AssessmentID {
		t.Errorf("Gate should follow the new record, got %s", adm.AssessmentID)
	}

	status, body = doRequest(t, config, "GET", "/orders/"+orderID+"/assessments", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected chain listing 200, got %d", status)
	}
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("Failed to unmarshal listing: %v", err)
	}
	if listing.Count != 2 {
		t.Errorf("Expected chain of 2, got %d", listing.Count)
	}

	t.Logf("✓ Reassessment superseded %s with %s", first.AssessmentID, second.AssessmentID)
}

// ============================================================================
// SCENARIO 6: Review Override Lifecycle
// ============================================================================

func TestReviewOverride_AdmitsDeclinedOrder(t *testing.T) {
	/*
	   SCENARIO: A reviewer inspects a declined order, verifies the customer
	   out of band, and overrides to approve.

	   EXPECTED BEHAVIOR:
	   - OVERRIDE_APPROVE without notes: 400
	   - OVERRIDE_APPROVE with notes: 201
	   - A second reviewer decision: 409 (first reviewer wins)
	   - Admission flips to ADMITTED and capture succeeds
	*/
	config := getTestConfig()
	orderID := uniqueID("order-override")

	result := assess(t, config, riskyOrder(orderID))
	if result.Recommendation != "DECLINE" {
		t.Fatalf("Setup expected DECLINE, got %s", result.Recommendation)
	}

	reviewPath := "/assessments/" + result.AssessmentID + "/review"

	// Notes are mandatory for an approval override.
	status, _ := doRequest(t, config, "POST", reviewPath, ReviewRequest{
		ReviewerID: "reviewer-1",
		Outcome:    "OVERRIDE_APPROVE",
	})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 without notes, got %d", status)
	}

	status, body := doRequest(t, config, "POST", reviewPath, ReviewRequest{
		ReviewerID: "reviewer-1",
		Outcome:    "OVERRIDE_APPROVE",
		Notes:      "verified registration documents with the state filing office",
	})
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, string(body))
	}

	// Second reviewer loses and receives the recorded decision.
	status, body = doRequest(t, config, "POST", reviewPath, ReviewRequest{
		ReviewerID: "reviewer-2",
		Outcome:    "CONFIRM",
	})
	if status != http.StatusConflict {
		t.Errorf("Expected 409 for second reviewer, got %d", status)
	}
	var recorded struct {
		ReviewerID string `json:"reviewerId"`
	}
	if err := json.Unmarshal(body, &recorded); err == nil && recorded.ReviewerID != "reviewer-1" {
		t.Errorf("Expected reviewer-1's decision returned, got %s", recorded.ReviewerID)
	}

	adm := admission(t, config, orderID)
	if adm.State != "ADMITTED" {
		t.Fatalf("Expected ADMITTED after override, got %s", adm.State)
	}

	status, _ = doRequest(t, config, "POST", "/orders/"+orderID+"/capture", nil)
	if status != http.StatusOK {
		t.Errorf("Expected capture 200 after override, got %d", status)
	}

	t.Logf("✓ Review override admitted the order")
}

// ============================================================================
// SCENARIO 7: Capture Freezes the Record
// ============================================================================

func TestCapturedOrder_CannotBeReassessed(t *testing.T) {
	/*
	   SCENARIO: Reassessment is requested after payment was captured.

	   EXPECTED BEHAVIOR:
	   - The governing record is frozen: reassess returns 409
	*/
	config := getTestConfig()
	orderID := uniqueID("order-frozen")

	assess(t, config, cleanOrder(orderID))

	status, _ := doRequest(t, config, "POST", "/orders/"+orderID+"/capture", nil)
	if status != http.StatusOK {
		t.Fatalf("Setup capture failed: %d", status)
	}

	status, _ = doRequest(t, config, "POST", "/orders/"+orderID+"/reassess", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 after capture, got %d", status)
	}

	t.Logf("✓ Captured order is frozen")
}

// ============================================================================
// SCENARIO 8: Order Velocity (Burst From One Device)
// ============================================================================

func TestVelocityBurst_RaisesScore(t *testing.T) {
	/*
	   SCENARIO: Five orders arrive from the same device fingerprint inside
	   the rolling window.

	   EXPECTED BEHAVIOR:
	   - The order_velocity heuristic (velocity_count > 3) triggers on the
	     later submissions, so the last score is at least the first
	*/
	config := getTestConfig()
	fingerprint := uniqueID("fp-burst")

	var firstScore, lastScore float64
	for i := 0; i < 5; i++ {
		req := cleanOrder(uniqueID(fmt.Sprintf("order-burst-%d", i)))
		req.Origin.DeviceFingerprint = fingerprint

		result := assess(t, config, req)
		if i == 0 {
			firstScore = result.Score
		}
		lastScore = result.Score
	}

	if lastScore < firstScore {
		t.Errorf("Velocity burst lowered the score: %.1f -> %.1f", firstScore, lastScore)
	}

	t.Logf("✓ Velocity burst: first=%.1f last=%.1f", firstScore, lastScore)
}
