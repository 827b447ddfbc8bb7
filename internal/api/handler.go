package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/formationhq/riskgate/internal/domain"
	"github.com/formationhq/riskgate/internal/gate"
	"github.com/formationhq/riskgate/internal/ledger"
	"github.com/formationhq/riskgate/internal/pipeline"
	"github.com/formationhq/riskgate/internal/review"
	"github.com/formationhq/riskgate/internal/rules"
	"github.com/formationhq/riskgate/internal/signals"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler contains the HTTP request handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	gate     *gate.Gate
	review   *review.Workflow
	ledger   domain.Ledger
	cache    domain.Cache
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new handler.
func NewHandler(p *pipeline.Pipeline, g *gate.Gate, rw *review.Workflow, l domain.Ledger, c domain.Cache, e *rules.Engine, version string) *Handler {
	return &Handler{
		pipeline: p,
		gate:     g,
		review:   rw,
		ledger:   l,
		cache:    c,
		engine:   e,
		version:  version,
	}
}

// Assess handles POST /assess - synchronous pre-payment risk assessment.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.pipeline.Assess(ctx, tenantID, &req)
	if err != nil {
		if errors.Is(err, signals.ErrInvalidSubmission) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("assessment failed",
			"tenantId", tenantID,
			"orderId", req.OrderID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "assessment failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reassess handles POST /orders/{orderID}/reassess - supersede the current
// assessment with a fresh evaluation of the stored submission.
func (h *Handler) Reassess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	resp, err := h.pipeline.Reassess(ctx, tenantID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, http.StatusNotFound, "no assessment exists for order")
		case errors.Is(err, ledger.ErrAssessmentFrozen):
			writeError(w, http.StatusConflict, "payment already captured; assessment is frozen")
		case errors.Is(err, ledger.ErrConflict):
			writeError(w, http.StatusConflict, "assessment was superseded concurrently")
		default:
			slog.Error("reassessment failed",
				"tenantId", tenantID,
				"orderId", orderID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "reassessment failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAssessment handles GET /assessments/{id} - full record for reviewers.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	a, err := h.ledger.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retrieve assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetOrderAssessment handles GET /orders/{orderID}/assessment - the governing
// (non-superseded) record for an order.
func (h *Handler) GetOrderAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	a, err := h.ledger.CurrentForOrder(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no assessment exists for order")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retrieve assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListOrderAssessments handles GET /orders/{orderID}/assessments - the full
// supersession chain, oldest first.
func (h *Handler) ListOrderAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	records, err := h.ledger.ListAssessmentsForOrder(ctx, tenantID, orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assessments")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":     orderID,
		"assessments": records,
		"count":       len(records),
	})
}

// GetAdmission handles GET /orders/{orderID}/admission - checkout surface.
// Returns admission state and reason code only, never evidence.
func (h *Handler) GetAdmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	status, err := h.gate.Status(ctx, tenantID, orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to derive admission state")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// CapturePayment handles POST /orders/{orderID}/capture - authorize and
// confirm payment capture. Refusals return 409 with the admission status.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	status, err := h.gate.ConfirmCapture(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, gate.ErrCaptureRefused) {
			writeJSON(w, http.StatusConflict, status)
			return
		}
		slog.Error("payment capture failed",
			"tenantId", tenantID,
			"orderId", orderID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "payment capture failed")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// SubmitReview handles POST /assessments/{id}/review.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	var req review.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, err := h.review.Submit(ctx, tenantID, assessmentID, &req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, http.StatusNotFound, "assessment not found")
		case errors.Is(err, review.ErrInvalidOutcome),
			errors.Is(err, review.ErrNotesRequired),
			errors.Is(err, ledger.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrReviewExists):
			// First reviewer won; return the recorded decision.
			writeJSON(w, http.StatusConflict, decision)
		case errors.Is(err, review.ErrNotReviewable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			slog.Error("review submission failed",
				"tenantId", tenantID,
				"assessmentId", assessmentID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "review submission failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, decision)
}

// GetReview handles GET /assessments/{id}/review.
func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	decision, err := h.review.Get(ctx, tenantID, assessmentID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no review decision recorded")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retrieve review")
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ListPendingReviews handles GET /reviews/pending - assessments awaiting a
// reviewer, oldest first.
func (h *Handler) ListPendingReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	pending, err := h.review.Pending(ctx, tenantID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending reviews")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assessments": pending,
		"count":       len(pending),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	checks := make(map[string]string)

	if err := h.ledger.Ping(ctx); err != nil {
		status = "degraded"
		checks["ledger"] = "unhealthy: " + err.Error()
	} else {
		checks["ledger"] = "healthy"
	}

	if err := h.cache.Ping(ctx); err != nil {
		status = "degraded"
		checks["cache"] = "unhealthy: " + err.Error()
	} else {
		checks["cache"] = "healthy"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"version":   h.version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// ListRules handles GET /rules - all loaded heuristics.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule handles POST /rules - validate, persist, and hot-load a rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.SignalConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if cfg.ID == "" || cfg.Expression == "" {
		writeError(w, http.StatusBadRequest, "rule id and expression are required")
		return
	}
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	cfg.TenantID = GlobalTenantID
	cfg.Enabled = true

	// Compile before persisting so a broken expression never reaches the ledger.
	if err := h.engine.ValidateRule(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "rule validation failed: "+err.Error())
		return
	}

	if err := h.ledger.SaveSignalConfig(ctx, GlobalTenantID, &cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist rule")
		return
	}

	if err := h.engine.LoadRule(&cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}

	writeJSON(w, http.StatusCreated, &cfg)
}

// ReloadRules handles POST /rules/reload - replace the loaded battery with
// the persisted configs.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.ledger.ListSignalConfigs(ctx, GlobalTenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule configs")
		return
	}

	if err := h.engine.ReloadRules(configs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"count":  h.engine.RulesCount(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
