// Package velocity provides order submission velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formationhq/riskgate/internal/domain"
)

// Service counts recent submissions per entity for the order-velocity
// rule. Uses the cache counter as the fast path and falls back to
// counting ledger rows when the cache misses or fails.
type Service struct {
	ledger domain.Ledger
	cache  domain.Cache
}

// NewService creates a new velocity service.
func NewService(l domain.Ledger, c domain.Cache) *Service {
	return &Service{
		ledger: l,
		cache:  c,
	}
}

// Observe bumps the rolling counter for an entity when a submission
// arrives. Counter failures are non-fatal: the ledger fallback still
// counts the persisted submission.
func (s *Service) Observe(ctx context.Context, tenantID, entityID string, windowSecs int) {
	if s.cache == nil || entityID == "" {
		return
	}

	window := time.Duration(windowSecs) * time.Second
	count, err := s.cache.IncrementCounter(ctx, tenantID, counterKey(entityID), window)
	if err != nil {
		slog.Warn("failed to increment velocity counter",
			"tenant_id", tenantID,
			"entity_id", entityID,
			"error", err,
		)
		return
	}

	// Snapshot the counter under a readable key so lookups don't have to
	// increment.
	_ = s.cache.Set(ctx, tenantID, snapshotKey(entityID), []byte(fmt.Sprintf("%d", count)), window)
}

// GetSubmissionCount returns the number of submissions for an entity
// within a time window. This is the VelocityGetter signature the signal
// extractor expects.
func (s *Service) GetSubmissionCount(ctx context.Context, tenantID, entityID string, windowSecs int) (int64, error) {
	if tenantID == "" || entityID == "" {
		return 0, fmt.Errorf("tenantID and entityID are required")
	}

	if s.cache != nil {
		if count, err := s.countFromCache(ctx, tenantID, entityID); err == nil && count > 0 {
			return count, nil
		}
	}

	if s.ledger != nil {
		return s.countFromLedger(ctx, tenantID, entityID, windowSecs)
	}

	return 0, fmt.Errorf("no data source available")
}

// countFromCache reads the rolling counter without incrementing it.
func (s *Service) countFromCache(ctx context.Context, tenantID, entityID string) (int64, error) {
	raw, err := s.cache.Get(ctx, tenantID, snapshotKey(entityID))
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}

	var count int64
	if _, err := fmt.Sscanf(string(raw), "%d", &count); err != nil {
		return 0, fmt.Errorf("malformed counter value %q: %w", raw, err)
	}
	return count, nil
}

// countFromLedger counts persisted submissions matching the entity as
// either customer or device fingerprint. The same entity never matches
// both columns, so the max is the honest count.
func (s *Service) countFromLedger(ctx context.Context, tenantID, entityID string, windowSecs int) (int64, error) {
	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)

	byCustomer, err := s.ledger.CountSubmissionsByCustomer(ctx, tenantID, entityID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	byFingerprint, err := s.ledger.CountSubmissionsByFingerprint(ctx, tenantID, entityID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	if byFingerprint > byCustomer {
		return byFingerprint, nil
	}
	return byCustomer, nil
}

// GetVelocityGetter returns a VelocityGetter function for the signal
// extractor.
func (s *Service) GetVelocityGetter() func(ctx context.Context, tenantID, entityID string, windowSecs int) (int64, error) {
	return s.GetSubmissionCount
}

func counterKey(entityID string) string {
	return "velocity:" + entityID
}

func snapshotKey(entityID string) string {
	return "velocity-count:" + entityID
}
