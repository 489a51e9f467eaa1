package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/planwise/internal/cache"
	"github.com/kiranshivaraju/planwise/internal/events"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// ProgressWriter merges progress into the stored job payload.
type ProgressWriter interface {
	UpdateJobProgress(ctx context.Context, id string, p models.Progress) error
}

// ProgressFanout writes progress to the store and mirrors it to the status
// cache and the event stream. Only the store write can fail the update.
type ProgressFanout struct {
	store  ProgressWriter
	cache  cache.Cache
	events events.Publisher
	logger *slog.Logger
}

// NewProgressFanout returns a pipeline.ProgressSink. Nil cache and publisher are replaced by no-ops.
func NewProgressFanout(store ProgressWriter, c cache.Cache, pub events.Publisher, logger *slog.Logger) *ProgressFanout {
	if c == nil {
		c = cache.Noop{}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressFanout{store: store, cache: c, events: pub, logger: logger}
}

func (f *ProgressFanout) UpdateProgress(ctx context.Context, jobID string, p models.Progress) error {
	if err := f.store.UpdateJobProgress(ctx, jobID, p); err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}

	if err := f.cache.SetJobProgress(ctx, jobID, p); err != nil {
		f.logger.Warn("failed to mirror progress to cache", "job_id", jobID, "error", err)
	}

	e := events.Event{
		ID:         uuid.NewString(),
		Type:       events.TypeJobProgress,
		JobID:      jobID,
		Status:     models.JobStatusProcessing,
		Progress:   &p,
		OccurredAt: time.Now().UTC(),
	}
	if err := f.events.Publish(ctx, e); err != nil {
		f.logger.Warn("failed to publish progress event", "job_id", jobID, "error", err)
	}
	return nil
}
