package activity_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/gt"
)

func tripPlan() model.TripPlan {
	return model.TripPlan{
		"title": "Tokyo and Paris",
		"spans": []any{
			map[string]any{
				"day": 1,
				"activities": []any{
					map[string]any{"name": "Tokyo Skytree", "location": "TYO", "category": "tour"},
					map[string]any{"name": "Ueno Park", "location": "TYO", "category": "park"},
					map[string]any{"name": "Senso-ji Temple", "location": "TYO", "category": "temple"},
				},
			},
			map[string]any{"day": 2},
			map[string]any{
				"day": 3,
				"activities": []any{
					map[string]any{"name": "Eiffel Tower", "location": "Paris", "category": "tour"},
					map[string]any{"name": "Louvre Museum", "location": "Paris", "category": "museum", "price": 22},
				},
			},
		},
	}
}

func planActivities(t *testing.T, plan model.TripPlan) []model.Activity {
	t.Helper()
	activities, err := plan.Activities()
	gt.NoError(t, err)
	return activities
}

func TestResolveTripPlan(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	annotated, report, err := e.uc.ResolveTripPlan(ctx, tripPlan())
	gt.NoError(t, err)
	gt.Equal(t, report.Created, 5)
	gt.Equal(t, report.Degraded, 0)
	gt.A(t, report.Resolutions).Length(5)

	gt.V(t, annotated["title"]).Equal("Tokyo and Paris")
	activities := planActivities(t, annotated)
	gt.A(t, activities).Length(5)
	for i, a := range activities {
		gt.Equal(t, a.ActivityID(), report.Resolutions[i].ID)
	}
	gt.Equal(t, activities[0].Name(), "Tokyo Skytree")
	gt.Equal(t, activities[4].Name(), "Louvre Museum")
	gt.V(t, activities[4]["price"]).Equal(22)

	spans := annotated["spans"].([]any)
	gt.V(t, spans[1].(map[string]any)["day"]).Equal(2)
	_, hasActivities := spans[1].(map[string]any)["activities"]
	gt.False(t, hasActivities)

	// The input plan is untouched
	for _, a := range planActivities(t, tripPlan()) {
		gt.Equal(t, a.ActivityID(), model.ActivityID(""))
	}

	t.Run("second run reuses every id", func(t *testing.T) {
		again, report2, err := e.uc.ResolveTripPlan(ctx, tripPlan())
		gt.NoError(t, err)
		gt.Equal(t, report2.Matched, 5)
		gt.Equal(t, report2.Created, 0)
		for i, a := range planActivities(t, again) {
			gt.Equal(t, a.ActivityID(), activities[i].ActivityID())
		}
	})
}

func TestResolveTripPlanFallbackIsolation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.embedder.FailOn = func(text string) bool { return strings.HasPrefix(text, "senso-ji") }

	annotated, report, err := e.uc.ResolveTripPlan(ctx, tripPlan())
	gt.NoError(t, err)
	gt.Equal(t, report.Created, 4)
	gt.Equal(t, report.Degraded, 1)

	failed := report.Resolutions[2]
	gt.False(t, failed.Persisted)
	gt.Equal(t, failed.Reason, model.FallbackEmbedding)
	gt.NoError(t, failed.ID.Validate())

	activities := planActivities(t, annotated)
	for _, a := range activities {
		gt.NoError(t, a.ActivityID().Validate())
	}

	stats, err := e.uc.Stats(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stats.TotalActivities, 4)

	_, err = e.uc.Get(ctx, failed.ID)
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestResolveTripPlanValidationFallback(t *testing.T) {
	e := setup(t)
	plan := model.TripPlan{
		"spans": []any{
			map[string]any{"activities": []any{
				map[string]any{"name": "Tokyo Skytree", "location": "TYO"},
				map[string]any{"name": "No Location"},
			}},
		},
	}

	annotated, report, err := e.uc.ResolveTripPlan(context.Background(), plan)
	gt.NoError(t, err)
	gt.Equal(t, report.Created, 1)
	gt.Equal(t, report.Degraded, 1)
	gt.Equal(t, report.Resolutions[1].Reason, model.FallbackValidation)
	gt.Equal(t, planActivities(t, annotated)[1].ActivityID(), report.Resolutions[1].ID)
	gt.Equal(t, e.embedder.Calls(), int64(1))
}

func TestResolveTripPlanDuplicatesShareID(t *testing.T) {
	e := setup(t)
	plan := model.TripPlan{
		"spans": []any{
			map[string]any{"activities": []any{
				map[string]any{"name": "Tokyo Skytree", "location": "TYO"},
			}},
			map[string]any{"activities": []any{
				map[string]any{"name": "TOKYO SKYTREE", "location": "tyo"},
			}},
		},
	}

	_, report, err := e.uc.ResolveTripPlan(context.Background(), plan)
	gt.NoError(t, err)
	gt.Equal(t, report.Created, 1)
	gt.Equal(t, report.Matched, 1)
	gt.Equal(t, report.Resolutions[0].ID, report.Resolutions[1].ID)
}

func TestResolveTripPlanPersistenceFailureAborts(t *testing.T) {
	e := setup(t)
	e.repo.fail.Store(true)

	_, _, err := e.uc.ResolveTripPlan(context.Background(), tripPlan())
	gt.True(t, errors.Is(err, model.ErrPersistence))

	stats, err := e.uc.Stats(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, stats.TotalActivities, 0)
}

func TestResolveTripPlanMalformed(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, _, err := e.uc.ResolveTripPlan(ctx, model.TripPlan{"spans": "not an array"})
	gt.True(t, errors.Is(err, model.ErrValidation))

	annotated, report, err := e.uc.ResolveTripPlan(ctx, model.TripPlan{"title": "empty"})
	gt.NoError(t, err)
	gt.A(t, report.Resolutions).Length(0)
	gt.V(t, annotated["title"]).Equal("empty")
}

func TestResolveTripPlanCancelled(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := e.uc.ResolveTripPlan(ctx, tripPlan())
	gt.Error(t, err)
}
