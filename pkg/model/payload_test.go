package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestActivityValidate(t *testing.T) {
	testCases := map[string]struct {
		activity model.Activity
		valid    bool
	}{
		"full": {
			activity: model.Activity{"name": "Tokyo Skytree", "location": "TYO", "category": "tour"},
			valid:    true,
		},
		"without category": {
			activity: model.Activity{"name": "Tokyo Skytree", "location": "TYO"},
			valid:    true,
		},
		"null category": {
			activity: model.Activity{"name": "Tokyo Skytree", "location": "TYO", "category": nil},
			valid:    true,
		},
		"nil": {
			activity: nil,
		},
		"missing name": {
			activity: model.Activity{"location": "TYO"},
		},
		"blank location": {
			activity: model.Activity{"name": "Tokyo Skytree", "location": "  "},
		},
		"numeric name": {
			activity: model.Activity{"name": 42, "location": "TYO"},
		},
		"numeric category": {
			activity: model.Activity{"name": "Tokyo Skytree", "location": "TYO", "category": 1},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.activity.Validate()
			if tc.valid {
				gt.NoError(t, err)
				return
			}
			gt.True(t, errors.Is(err, model.ErrValidation))
		})
	}
}

func TestActivityWithID(t *testing.T) {
	original := model.Activity{"name": "Tokyo Skytree", "location": "TYO", "price": 2100}
	id := model.NewActivityID()

	annotated := original.WithID(id)
	gt.Equal(t, annotated.ActivityID(), id)
	gt.V(t, annotated["price"]).Equal(2100)
	gt.Equal(t, original.ActivityID(), model.ActivityID(""))
	gt.Equal(t, []string{annotated.Name(), annotated.Location(), annotated.Category()},
		[]string{"Tokyo Skytree", "TYO", ""})
}

func TestTripPlanActivities(t *testing.T) {
	plan := model.TripPlan{
		"title": "Tokyo",
		"spans": []any{
			map[string]any{"activities": []any{
				map[string]any{"name": "a", "location": "x"},
				map[string]any{"name": "b", "location": "x"},
			}},
			map[string]any{"day": 2},
			map[string]any{"activities": nil},
			map[string]any{"activities": []any{
				map[string]any{"name": "c", "location": "y"},
			}},
		},
	}

	activities, err := plan.Activities()
	gt.NoError(t, err)
	gt.A(t, activities).Length(3)
	gt.Equal(t, activities[2].Name(), "c")

	t.Run("replace keeps layout", func(t *testing.T) {
		annotated := make([]model.Activity, len(activities))
		for i, a := range activities {
			annotated[i] = a.WithID(model.NewActivityID())
		}

		out, err := plan.WithActivities(annotated)
		gt.NoError(t, err)
		gt.V(t, out["title"]).Equal("Tokyo")

		spans := out["spans"].([]any)
		gt.A(t, spans).Length(4)
		_, ok := spans[1].(map[string]any)["activities"]
		gt.False(t, ok)
		gt.V(t, spans[2].(map[string]any)["activities"]).Equal(nil)

		again, err := out.Activities()
		gt.NoError(t, err)
		for i := range again {
			gt.Equal(t, again[i].ActivityID(), annotated[i].ActivityID())
		}

		// The source plan is not modified
		src, err := plan.Activities()
		gt.NoError(t, err)
		gt.Equal(t, src[0].ActivityID(), model.ActivityID(""))
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := plan.WithActivities(activities[:2])
		gt.Error(t, err)
	})
}

func TestTripPlanMalformed(t *testing.T) {
	for name, plan := range map[string]model.TripPlan{
		"spans not array":      {"spans": "x"},
		"span not object":      {"spans": []any{"x"}},
		"activities not array": {"spans": []any{map[string]any{"activities": 1}}},
		"activity not object":  {"spans": []any{map[string]any{"activities": []any{"x"}}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := plan.Activities()
			gt.True(t, errors.Is(err, model.ErrValidation))
		})
	}

	activities, err := model.TripPlan{}.Activities()
	gt.NoError(t, err)
	gt.A(t, activities).Length(0)
}
