package repository

import (
	"context"

	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
)

// Snapshot is the full persisted state: the vector index and the record store
// it mirrors. Records are the source of truth.
type Snapshot struct {
	Index   *index.Index
	Records map[model.ActivityID]*model.ActivityRecord

	// Repaired is set by Load when the stored index disagreed with the
	// records and was rebuilt.
	Repaired bool
}

// Repository defines the interface for activity store persistence
type Repository interface {
	// Load reads the stored snapshot, repairing the index if needed. An
	// absent store yields an empty snapshot.
	Load(ctx context.Context) (*Snapshot, error)

	// Save atomically replaces the stored snapshot
	Save(ctx context.Context, snapshot *Snapshot) error
}
