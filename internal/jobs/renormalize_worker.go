package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/profile"
)

const (
	DefaultRenormalizeBatch = 200
	// maxBatchesPerRun bounds one tick; the rest is picked up next tick.
	maxBatchesPerRun = 50
)

// PassageStore is the subset of the passage repository the worker needs.
type PassageStore interface {
	ListStale(ctx context.Context, version string, limit int) ([]domain.Passage, error)
	UpdateNormalized(ctx context.Context, id, normalized, version string) (bool, error)
}

// SnapshotProvider returns the active profile.
type SnapshotProvider interface {
	Current() *profile.Snapshot
}

// RenormalizeStats summarizes one run.
type RenormalizeStats struct {
	Version string
	Scanned int
	Updated int
	Failed  int
}

// RenormalizeWorker re-derives normalized_content for passages written under
// an older normalizer, so stored text and queries always go through the same
// function.
type RenormalizeWorker struct {
	passages  PassageStore
	profiles  SnapshotProvider
	batchSize int
	logger    *zap.Logger
}

func NewRenormalizeWorker(passages PassageStore, profiles SnapshotProvider, batchSize int, logger *zap.Logger) *RenormalizeWorker {
	if batchSize <= 0 {
		batchSize = DefaultRenormalizeBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenormalizeWorker{passages: passages, profiles: profiles, batchSize: batchSize, logger: logger}
}

// ProcessJobs implements JobProcessor.
func (w *RenormalizeWorker) ProcessJobs(ctx context.Context) error {
	_, err := w.Run(ctx)
	return err
}

// Run processes stale passages in batches until none remain, the per-run
// batch cap is hit, or a whole batch fails.
func (w *RenormalizeWorker) Run(ctx context.Context) (RenormalizeStats, error) {
	normalizer := w.profiles.Current().Normalizer
	stats := RenormalizeStats{Version: normalizer.Version()}

	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		passages, err := w.passages.ListStale(ctx, stats.Version, w.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to list stale passages: %w", err)
		}
		if len(passages) == 0 {
			break
		}

		progressed := false
		for _, p := range passages {
			stats.Scanned++
			ok, err := w.passages.UpdateNormalized(ctx, p.ID, normalizer.Normalize(p.Content), stats.Version)
			if err != nil {
				stats.Failed++
				w.logger.Warn("renormalize failed", zap.String("passage_id", p.ID), zap.Error(err))
				continue
			}
			if ok {
				stats.Updated++
				progressed = true
			}
		}

		if !progressed || len(passages) < w.batchSize {
			break
		}
	}

	if stats.Scanned > 0 {
		w.logger.Info("renormalized passages",
			zap.String("version", stats.Version),
			zap.Int("scanned", stats.Scanned),
			zap.Int("updated", stats.Updated),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}
