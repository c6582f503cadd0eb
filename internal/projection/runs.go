package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
)

const (
	runTTL     = 7 * 24 * time.Hour
	lastRunKey = "projection:run:last"
)

func runKey(id uuid.UUID) string {
	return fmt.Sprintf("projection:run:%s", id)
}

// RunHistory caches pipeline run reports so they outlive the orchestrator's
// in-memory status.
type RunHistory struct {
	store Store
}

// NewRunHistory creates a run history over store.
func NewRunHistory(store Store) *RunHistory {
	return &RunHistory{store: store}
}

// RecordRun stores report under its run id and as the latest run.
func (h *RunHistory) RecordRun(ctx context.Context, report *domain.RunReport) error {
	if err := SetJSON(ctx, h.store, runKey(report.RunID), report, runTTL); err != nil {
		return err
	}
	return SetJSON(ctx, h.store, lastRunKey, report, runTTL)
}

// GetRun returns a cached run report.
func (h *RunHistory) GetRun(ctx context.Context, id uuid.UUID) (*domain.RunReport, error) {
	return h.load(ctx, runKey(id), id.String())
}

// LastRun returns the most recently recorded run report.
func (h *RunHistory) LastRun(ctx context.Context) (*domain.RunReport, error) {
	return h.load(ctx, lastRunKey, "last")
}

// Clear forgets the latest run. Reports stay addressable by id until they expire.
func (h *RunHistory) Clear(ctx context.Context) error {
	return h.store.Delete(ctx, lastRunKey)
}

func (h *RunHistory) load(ctx context.Context, key, id string) (*domain.RunReport, error) {
	var report domain.RunReport
	err := GetJSON(ctx, h.store, key, &report)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrNotFound("run", id)
	}
	if err != nil {
		return nil, domain.ErrInternal("load run report", err)
	}
	return &report, nil
}
