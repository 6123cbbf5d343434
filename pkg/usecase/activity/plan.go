package activity

import (
	"context"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// ResolveTripPlan resolves every activity of every span and returns a copy of
// the plan annotated with activity ids. Embeddings are computed concurrently;
// decisions are applied one by one in plan order so that duplicates within
// the plan resolve to the same id. A validation or embedding failure only
// degrades that activity to a fallback id. A commit failure aborts the plan;
// activities resolved before it stay committed.
func (uc *UseCase) ResolveTripPlan(ctx context.Context, plan model.TripPlan) (model.TripPlan, *model.PlanReport, error) {
	activities, err := plan.Activities()
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]*candidate, len(activities))
	for i, a := range activities {
		candidates[i] = prepare(a)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.concurrency)
	for _, c := range candidates {
		if c.err != nil {
			continue
		}
		eg.Go(func() error {
			uc.embed(egCtx, c)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, goerr.Wrap(err, "trip plan resolution cancelled")
	}

	report := &model.PlanReport{}
	resolved := make([]model.Activity, len(candidates))

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return nil, nil, ErrClosed
	}

	for i, c := range candidates {
		var res *model.Resolution
		if c.err != nil {
			res = uc.fallback(ctx, c)
		} else {
			res, err = uc.decide(ctx, c)
			if err != nil {
				return nil, nil, goerr.Wrap(err, "failed to resolve trip plan", goerr.V("activity", i))
			}
		}
		report.Add(res)
		resolved[i] = res.Activity
	}

	annotated, err := plan.WithActivities(resolved)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("trip plan resolved",
		"activities", len(candidates),
		"created", report.Created,
		"matched", report.Matched,
		"degraded", report.Degraded,
	)
	return annotated, report, nil
}
