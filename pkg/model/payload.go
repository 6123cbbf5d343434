package model

import (
	"maps"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Activity is a raw activity object as produced by the itinerary generator.
// Only the keys below are interpreted; everything else passes through.
type Activity map[string]any

const (
	KeyName        = "name"
	KeyDescription = "description"
	KeyLocation    = "location"
	KeyCategory    = "category"
	KeyStartTime   = "startTime"
	KeyEndTime     = "endTime"
	KeyActivityID  = "activityId"

	keySpans      = "spans"
	keyActivities = "activities"
)

func (a Activity) text(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Activity) Name() string     { return a.text(KeyName) }
func (a Activity) Location() string { return a.text(KeyLocation) }
func (a Activity) Category() string { return a.text(KeyCategory) }

// ActivityID returns the id annotated on the activity, if any
func (a Activity) ActivityID() ActivityID { return ActivityID(a.text(KeyActivityID)) }

// Validate checks that the fields used to build a signature are present
func (a Activity) Validate() error {
	if a == nil {
		return goerr.Wrap(ErrValidation, "activity is empty")
	}
	for _, key := range []string{KeyName, KeyLocation} {
		v, ok := a[key]
		if !ok {
			return goerr.Wrap(ErrValidation, "required field is missing", goerr.V("field", key))
		}
		s, ok := v.(string)
		if !ok {
			return goerr.Wrap(ErrValidation, "field must be a string", goerr.V("field", key))
		}
		if strings.TrimSpace(s) == "" {
			return goerr.Wrap(ErrValidation, "field must not be blank", goerr.V("field", key))
		}
	}
	if v, ok := a[KeyCategory]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return goerr.Wrap(ErrValidation, "field must be a string", goerr.V("field", KeyCategory))
		}
	}
	return nil
}

// WithID returns a shallow copy of the activity annotated with id
func (a Activity) WithID(id ActivityID) Activity {
	annotated := make(Activity, len(a)+1)
	maps.Copy(annotated, a)
	annotated[KeyActivityID] = string(id)
	return annotated
}

// TripPlan is a raw trip plan: an object whose "spans" array holds span
// objects, each with an optional "activities" array.
type TripPlan map[string]any

// Activities returns every activity of the plan in span order, then in
// activity order within a span.
func (p TripPlan) Activities() ([]Activity, error) {
	spans, err := p.spans()
	if err != nil {
		return nil, err
	}

	var result []Activity
	for i, span := range spans {
		items, err := spanActivities(span, i)
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	return result, nil
}

// WithActivities returns a copy of the plan where activities are replaced,
// in the same order as returned by Activities.
func (p TripPlan) WithActivities(activities []Activity) (TripPlan, error) {
	spans, err := p.spans()
	if err != nil {
		return nil, err
	}

	out := make(TripPlan, len(p))
	maps.Copy(out, p)
	if spans == nil {
		if len(activities) != 0 {
			return nil, goerr.New("activity count does not match plan", goerr.V("expected", 0), goerr.V("actual", len(activities)))
		}
		return out, nil
	}

	newSpans := make([]any, len(spans))
	cursor := 0
	for i, span := range spans {
		items, err := spanActivities(span, i)
		if err != nil {
			return nil, err
		}
		if cursor+len(items) > len(activities) {
			return nil, goerr.New("activity count does not match plan", goerr.V("span", i))
		}

		newSpan := make(map[string]any, len(span))
		maps.Copy(newSpan, span)
		if raw, ok := span[keyActivities]; ok && raw != nil {
			replaced := make([]any, len(items))
			for j := range items {
				replaced[j] = map[string]any(activities[cursor+j])
			}
			newSpan[keyActivities] = replaced
		}
		cursor += len(items)
		newSpans[i] = newSpan
	}
	if cursor != len(activities) {
		return nil, goerr.New("activity count does not match plan", goerr.V("expected", cursor), goerr.V("actual", len(activities)))
	}

	out[keySpans] = newSpans
	return out, nil
}

func (p TripPlan) spans() ([]map[string]any, error) {
	raw, ok := p[keySpans]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, goerr.Wrap(ErrValidation, "spans must be an array")
	}

	spans := make([]map[string]any, len(list))
	for i, item := range list {
		span, ok := item.(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrValidation, "span must be an object", goerr.V("span", i))
		}
		spans[i] = span
	}
	return spans, nil
}

func spanActivities(span map[string]any, idx int) ([]Activity, error) {
	raw, ok := span[keyActivities]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, goerr.Wrap(ErrValidation, "activities must be an array", goerr.V("span", idx))
	}

	result := make([]Activity, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrValidation, "activity must be an object", goerr.V("span", idx), goerr.V("activity", i))
		}
		result[i] = Activity(obj)
	}
	return result, nil
}
