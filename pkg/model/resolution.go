package model

// FallbackReason explains why a resolution was not persisted
type FallbackReason string

const (
	FallbackNone       FallbackReason = ""
	FallbackEmbedding  FallbackReason = "embedding_failure"
	FallbackValidation FallbackReason = "validation_failure"
)

// Resolution is the result of resolving one activity. When Persisted is
// false the ID is a freshly generated fallback that was never recorded and
// will not be deduplicated against in the future.
type Resolution struct {
	Activity   Activity       `json:"activity"`
	ID         ActivityID     `json:"activity_id"`
	Created    bool           `json:"created"`
	Persisted  bool           `json:"persisted"`
	MatchedID  ActivityID     `json:"matched_id,omitempty"`
	Similarity float64        `json:"similarity,omitempty"`
	Reason     FallbackReason `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Degraded reports whether the resolution fell back to an unrecorded ID
func (r *Resolution) Degraded() bool {
	return !r.Persisted
}

// PlanReport summarizes the resolutions of one trip plan
type PlanReport struct {
	Resolutions []*Resolution `json:"resolutions"`
	Created     int           `json:"created"`
	Matched     int           `json:"matched"`
	Degraded    int           `json:"degraded"`
}

// Add accumulates a resolution into the report
func (r *PlanReport) Add(res *Resolution) {
	r.Resolutions = append(r.Resolutions, res)
	switch {
	case !res.Persisted:
		r.Degraded++
	case res.Created:
		r.Created++
	default:
		r.Matched++
	}
}

// Stats is a read-only aggregation over the record store
type Stats struct {
	TotalActivities     int            `json:"total_activities"`
	Categories          map[string]int `json:"categories"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
}
