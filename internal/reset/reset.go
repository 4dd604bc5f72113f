// Package reset clears the legacy late-comers collection, either wholesale
// once a month or field by field on demand.
package reset

import (
	"context"
	"fmt"
	"log"

	"latecomers/internal/metrics"
	"latecomers/internal/store"
)

// Job names used in logs and metrics.
const (
	JobMonthly     = "monthly"
	JobClearFields = "clear_fields"
)

// clearedFields is the field-level patch applied by ClearFields.
func clearedFields() map[string]any {
	return map[string]any{
		"checkInTime":  nil,
		"checkOutTime": nil,
		"date":         nil,
		"lateTime":     nil,
		"reason":       "",
		"status":       "",
	}
}

// Service runs reset jobs against the late-comers collection.
type Service struct {
	store    store.LateComers
	pageSize int
}

// NewService creates a reset service paging at the store's batch limit.
func NewService(st store.LateComers) *Service {
	return &Service{store: st, pageSize: store.MaxBatchSize}
}

// ResetMonthly replaces every late-comers document with an empty one in a
// single batch and returns the number of documents reset. On any failure no
// document is changed.
func (s *Service) ResetMonthly(ctx context.Context) (int, error) {
	ids, err := s.store.LateComerIDs(ctx)
	if err != nil {
		metrics.ResetRuns.WithLabelValues(JobMonthly, "error").Inc()
		return 0, fmt.Errorf("list late-comers: %w", err)
	}
	if err := s.store.ReplaceLateComers(ctx, ids); err != nil {
		metrics.ResetRuns.WithLabelValues(JobMonthly, "error").Inc()
		log.Printf("[RESET] monthly reset of %d documents failed: %v", len(ids), err)
		return 0, fmt.Errorf("reset late-comers: %w", err)
	}
	metrics.ResetRuns.WithLabelValues(JobMonthly, "ok").Inc()
	metrics.ResetDocuments.WithLabelValues(JobMonthly).Add(float64(len(ids)))
	log.Printf("[RESET] reset %d late-comers documents for the new month", len(ids))
	return len(ids), nil
}

// ClearFields nulls the attendance fields of every late-comers document, one
// atomic batch per page, and returns the number of documents processed. Pages
// already committed stay cleared when a later page fails; running it again
// is safe.
func (s *Service) ClearFields(ctx context.Context) (int, error) {
	processed := 0
	after := ""
	for {
		ids, err := s.store.LateComerPage(ctx, after, s.pageSize)
		if err != nil {
			metrics.ResetRuns.WithLabelValues(JobClearFields, "error").Inc()
			return processed, fmt.Errorf("list late-comers page: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		if err := s.store.UpdateLateComers(ctx, ids, clearedFields()); err != nil {
			metrics.ResetRuns.WithLabelValues(JobClearFields, "error").Inc()
			log.Printf("[RESET] clear fields failed after %d documents: %v", processed, err)
			return processed, fmt.Errorf("clear late-comers page: %w", err)
		}
		processed += len(ids)
		metrics.ResetDocuments.WithLabelValues(JobClearFields).Add(float64(len(ids)))
		if len(ids) < s.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	metrics.ResetRuns.WithLabelValues(JobClearFields, "ok").Inc()
	log.Printf("[RESET] cleared fields in %d late-comers documents", processed)
	return processed, nil
}
