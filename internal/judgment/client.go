// Package judgment wraps the external behavioral-classification service.
//
// The adapter is the only network boundary in the assessment pipeline and
// it never fails the caller: timeouts, transport errors, non-2xx responses,
// and schema violations all degrade to an ExternalJudgmentResult with
// SourceAvailable=false. The fail-safe handling of that absence belongs to
// the aggregator, not to this package.
package judgment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/formationhq/riskgate/internal/domain"
)

const (
	defaultTimeout = 2500 * time.Millisecond

	// maxBodyBytes bounds how much of a response we are willing to read.
	maxBodyBytes = 64 * 1024
)

// Client calls the external classification service.
type Client struct {
	cfg        domain.JudgmentConfig
	httpClient *http.Client
}

// NewClient creates a judgment client. A zero timeout falls back to the
// default 2.5s budget.
func NewClient(cfg domain.JudgmentConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// assessRequest is the minimized feature payload sent over the wire.
// Identifiers and raw customer details stay out of it.
type assessRequest struct {
	AccountAgeDays      float64 `json:"accountAgeDays"`
	PriorOrders         int     `json:"priorOrders"`
	PriorChargebacks    int     `json:"priorChargebacks"`
	OrderValue          float64 `json:"orderValue"`
	Currency            string  `json:"currency"`
	VelocityCount       int64   `json:"velocityCount"`
	DisposableEmail     bool    `json:"disposableEmail"`
	PrepaidInstrument   bool    `json:"prepaidInstrument"`
	GeoMismatch         bool    `json:"geoMismatch"`
	HighRiskOrigin      bool    `json:"highRiskOrigin"`
	ImplausibleIdentity bool    `json:"implausibleIdentity"`
}

// assessResponse is the expected classifier response shape. Pointer fields
// let schema validation distinguish absent from zero.
type assessResponse struct {
	Score      *float64 `json:"score"`
	Rationale  string   `json:"rationale"`
	Confidence *float64 `json:"confidence"`
}

// Assess requests an opinion on the feature set. The call is bounded by
// the configured timeout with at most one retry at half the budget; every
// failure path returns the unavailable result rather than an error.
func (c *Client) Assess(ctx context.Context, features *domain.FeatureSet) domain.ExternalJudgmentResult {
	if !c.cfg.Enabled || c.cfg.Endpoint == "" {
		return domain.Unavailable()
	}

	timeout := defaultTimeout
	if c.cfg.TimeoutMs > 0 {
		timeout = time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	}

	body, err := json.Marshal(assessRequest{
		AccountAgeDays:      features.AccountAgeDays,
		PriorOrders:         features.PriorOrders,
		PriorChargebacks:    features.PriorChargebacks,
		OrderValue:          features.OrderValue,
		Currency:            features.Currency,
		VelocityCount:       features.VelocityCount,
		DisposableEmail:     features.DisposableEmail,
		PrepaidInstrument:   features.PrepaidInstrument,
		GeoMismatch:         features.GeoMismatch,
		HighRiskOrigin:      features.HighRiskOrigin,
		ImplausibleIdentity: features.ImplausibleIdentity,
	})
	if err != nil {
		slog.Error("failed to marshal judgment request", "error", err)
		return domain.Unavailable()
	}

	// First attempt gets the full budget, the single retry half of it.
	budgets := []time.Duration{timeout, timeout / 2}
	for attempt, budget := range budgets {
		result, retryable, err := c.once(ctx, body, budget)
		if err == nil {
			return result
		}

		slog.Warn("external judgment attempt failed",
			"order_id", features.OrderID,
			"attempt", attempt+1,
			"timeout_ms", budget.Milliseconds(),
			"error", err,
		)

		if !retryable || ctx.Err() != nil {
			break
		}
	}

	return domain.Unavailable()
}

// once performs a single bounded call. The second return value reports
// whether a retry could plausibly help.
func (c *Client) once(ctx context.Context, body []byte, budget time.Duration) (domain.ExternalJudgmentResult, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Unavailable(), false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Unavailable(), true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Unavailable(), true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Retry only transient server-side failures.
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return domain.Unavailable(), retryable, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var parsed assessResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return domain.Unavailable(), false, fmt.Errorf("malformed response: %w", err)
	}
	if err := validate(&parsed); err != nil {
		return domain.Unavailable(), false, err
	}

	return domain.ExternalJudgmentResult{
		Score:           *parsed.Score,
		Rationale:       parsed.Rationale,
		Confidence:      *parsed.Confidence,
		SourceAvailable: true,
	}, false, nil
}

// validate enforces the response schema. A response failing validation is
// treated exactly like an unavailable service.
func validate(r *assessResponse) error {
	if r.Score == nil {
		return fmt.Errorf("schema violation: score is missing")
	}
	if *r.Score < 0 || *r.Score > 100 {
		return fmt.Errorf("schema violation: score %v out of [0,100]", *r.Score)
	}
	if r.Confidence == nil {
		return fmt.Errorf("schema violation: confidence is missing")
	}
	if *r.Confidence < 0 || *r.Confidence > 1 {
		return fmt.Errorf("schema violation: confidence %v out of [0,1]", *r.Confidence)
	}
	return nil
}
