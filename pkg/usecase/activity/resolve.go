package activity

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/normalize"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// candidate is an activity prepared for the decision step
type candidate struct {
	activity  model.Activity
	name      string
	location  string
	category  string
	signature string
	embedding []float32
	err       error
	reason    model.FallbackReason
}

func prepare(activity model.Activity) *candidate {
	c := &candidate{activity: activity}
	if err := activity.Validate(); err != nil {
		c.err, c.reason = err, model.FallbackValidation
		return c
	}

	c.name = normalize.Text(activity.Name())
	c.location = normalize.Text(activity.Location())
	c.category = normalize.Text(activity.Category())
	if c.name == "" || c.location == "" {
		c.err = goerr.Wrap(model.ErrValidation, "name and location must contain text after normalization",
			goerr.V("name", activity.Name()), goerr.V("location", activity.Location()))
		c.reason = model.FallbackValidation
		return c
	}

	c.signature = normalize.Signature(c.name, c.location, c.category)
	return c
}

// embed fills the candidate embedding, normalized to unit length
func (uc *UseCase) embed(ctx context.Context, c *candidate) {
	start := time.Now()
	vec, err := uc.embedder.Embed(ctx, c.signature)
	uc.metrics.ObserveEmbedding(time.Since(start), err)

	if err == nil && len(vec) != uc.dim {
		err = goerr.New("embedding has unexpected dimension",
			goerr.V("expected", uc.dim), goerr.V("actual", len(vec)))
	}
	if err == nil {
		var ok bool
		if vec, ok = index.Normalize(vec); !ok {
			err = goerr.New("embedding can not be normalized")
		}
	}

	if err != nil {
		c.err = goerr.Wrap(errors.Join(model.ErrEmbedding, err), "failed to embed signature", goerr.V("signature", c.signature))
		c.reason = model.FallbackEmbedding
		return
	}
	c.embedding = vec
}

// fallback returns an unrecorded resolution for a candidate that could not
// be resolved
func (uc *UseCase) fallback(ctx context.Context, c *candidate) *model.Resolution {
	id := model.NewActivityID()
	logging.From(ctx).Warn("activity resolved to unrecorded fallback id",
		"activity_id", id,
		"reason", c.reason,
		"error", c.err,
	)

	res := &model.Resolution{
		Activity: c.activity.WithID(id),
		ID:       id,
		Reason:   c.reason,
		Error:    c.err.Error(),
	}
	uc.metrics.ObserveResolution(res)
	return res
}

// ResolveActivity returns the canonical id for activity, creating a new
// record when no stored record is similar enough. An embedding failure yields
// an unrecorded fallback id instead of an error. Invalid input is rejected
// with model.ErrValidation and a failed commit with model.ErrPersistence.
func (uc *UseCase) ResolveActivity(ctx context.Context, activity model.Activity) (*model.Resolution, error) {
	c := prepare(activity)
	if c.err != nil {
		return nil, c.err
	}

	uc.embed(ctx, c)
	if c.err != nil {
		return uc.fallback(ctx, c), nil
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return nil, ErrClosed
	}
	return uc.decide(ctx, c)
}

// decide applies the match/create policy and commits. The write lock must be
// held.
func (uc *UseCase) decide(ctx context.Context, c *candidate) (*model.Resolution, error) {
	if err := uc.ensureConsistent(ctx); err != nil {
		return nil, err
	}

	hits, err := uc.index.Search(c.embedding, uc.searchK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search index")
	}

	now := uc.now()
	var (
		res  *model.Resolution
		undo func()
	)

	// Hits are ordered by distance then id, so the first one is the best
	// match when it clears the threshold.
	if len(hits) > 0 && hits[0].Similarity() >= uc.threshold {
		res, undo, err = uc.match(hits[0], c, now)
	} else {
		res, undo, err = uc.create(c, now)
	}
	if err != nil {
		return nil, err
	}

	if err := uc.commit(ctx); err != nil {
		undo()
		logging.From(ctx).Error("failed to persist resolution, rolled back",
			"activity_id", res.ID,
			"created", res.Created,
			"error", err,
		)
		return nil, err
	}

	logging.From(ctx).Debug("activity resolved",
		"activity_id", res.ID,
		"created", res.Created,
		"similarity", res.Similarity,
		"signature", c.signature,
	)
	uc.metrics.ObserveResolution(res)
	return res, nil
}

func (uc *UseCase) match(hit index.Hit, c *candidate, now time.Time) (*model.Resolution, func(), error) {
	current, ok := uc.records[hit.ID]
	if !ok {
		return nil, nil, goerr.Wrap(model.ErrIndexDesync, "matched id has no record", goerr.V("id", hit.ID))
	}

	updated := current.Clone()
	updated.Name = c.name
	updated.Location = c.location
	updated.Category = c.category
	updated.Embedding = c.embedding
	updated.LastUsedAt = now
	updated.Hits++

	if err := uc.index.Replace(hit.ID, c.embedding); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to replace vector", goerr.V("id", hit.ID))
	}
	uc.records[hit.ID] = updated

	undo := func() {
		uc.records[hit.ID] = current
		_ = uc.index.Replace(hit.ID, current.Embedding)
	}

	return &model.Resolution{
		Activity:   c.activity.WithID(hit.ID),
		ID:         hit.ID,
		Persisted:  true,
		MatchedID:  hit.ID,
		Similarity: hit.Similarity(),
	}, undo, nil
}

func (uc *UseCase) create(c *candidate, now time.Time) (*model.Resolution, func(), error) {
	id := model.NewActivityID()
	for uc.records[id] != nil {
		id = model.NewActivityID()
	}

	if err := uc.index.Insert(id, c.embedding); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to insert vector", goerr.V("id", id))
	}
	uc.records[id] = &model.ActivityRecord{
		ID:         id,
		Name:       c.name,
		Location:   c.location,
		Category:   c.category,
		Embedding:  c.embedding,
		CreatedAt:  now,
		LastUsedAt: now,
		Hits:       1,
	}

	undo := func() {
		delete(uc.records, id)
		_ = uc.index.Remove(id)
	}

	return &model.Resolution{
		Activity:  c.activity.WithID(id),
		ID:        id,
		Created:   true,
		Persisted: true,
	}, undo, nil
}
