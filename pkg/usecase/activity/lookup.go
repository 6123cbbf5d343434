package activity

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Get returns a copy of the record for id
func (uc *UseCase) Get(ctx context.Context, id model.ActivityID) (*model.ActivityRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		return nil, ErrClosed
	}

	rec, ok := uc.records[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "no such activity", goerr.V("id", id))
	}
	return rec.Clone(), nil
}

// List returns copies of records ordered by id and the total record count.
// A non-positive limit returns every record from offset on.
func (uc *UseCase) List(ctx context.Context, offset, limit int) ([]*model.ActivityRecord, int, error) {
	if offset < 0 {
		return nil, 0, goerr.Wrap(model.ErrValidation, "offset must not be negative", goerr.V("offset", offset))
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		return nil, 0, ErrClosed
	}

	ids := make([]model.ActivityID, 0, len(uc.records))
	for id := range uc.records {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.ActivityID) int {
		return strings.Compare(string(a), string(b))
	})

	total := len(ids)
	if offset >= total {
		return []*model.ActivityRecord{}, total, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	result := make([]*model.ActivityRecord, len(ids))
	for i, id := range ids {
		result[i] = uc.records[id].Clone()
	}
	return result, total, nil
}
