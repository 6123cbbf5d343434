package activity

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UncategorizedLabel is the Stats bucket for records without a category
const UncategorizedLabel = "uncategorized"

// Stats aggregates the record store
func (uc *UseCase) Stats(ctx context.Context) (*model.Stats, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		return nil, ErrClosed
	}

	stats := &model.Stats{
		TotalActivities:     len(uc.records),
		Categories:          make(map[string]int),
		SimilarityThreshold: uc.threshold,
	}
	for _, rec := range uc.records {
		category := rec.Category
		if category == "" {
			category = UncategorizedLabel
		}
		stats.Categories[category]++
	}
	return stats, nil
}

// Cleanup removes every record not used within the last daysOld days,
// rebuilds the index from the survivors and commits. It returns the number
// of removed records.
func (uc *UseCase) Cleanup(ctx context.Context, daysOld int) (int, error) {
	if daysOld < 0 {
		return 0, goerr.Wrap(model.ErrValidation, "days must not be negative", goerr.V("days_old", daysOld))
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return 0, ErrClosed
	}

	cutoff := uc.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	survivors := make(map[model.ActivityID]*model.ActivityRecord, len(uc.records))
	for id, rec := range uc.records {
		if !rec.LastUsedAt.Before(cutoff) {
			survivors[id] = rec
		}
	}

	deleted := len(uc.records) - len(survivors)
	if deleted == 0 {
		return 0, nil
	}

	prevRecords, prevIndex := uc.records, uc.index.Clone()
	restore := func() {
		uc.records, uc.index = prevRecords, prevIndex
	}

	if err := uc.index.Rebuild(survivors); err != nil {
		return 0, goerr.Wrap(errors.Join(model.ErrIndexDesync, err), "failed to rebuild index for cleanup")
	}
	uc.records = survivors

	if err := uc.commit(ctx); err != nil {
		restore()
		return 0, err
	}

	uc.metrics.AddCleanupDeleted(deleted)
	logging.From(ctx).Info("old activities cleaned up",
		"deleted", deleted,
		"remaining", len(survivors),
		"days_old", daysOld,
	)
	return deleted, nil
}

// Rebuild reconstructs the index from the record store and commits
func (uc *UseCase) Rebuild(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return ErrClosed
	}

	prevIndex := uc.index.Clone()
	if err := uc.index.Rebuild(uc.records); err != nil {
		return goerr.Wrap(errors.Join(model.ErrIndexDesync, err), "failed to rebuild index")
	}
	if err := uc.commit(ctx); err != nil {
		uc.index = prevIndex
		return err
	}

	uc.metrics.IncRebuild("manual")
	logging.From(ctx).Info("vector index rebuilt", "records", len(uc.records))
	return nil
}
