package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrValidation  = goerr.New("invalid activity")
	ErrEmbedding   = goerr.New("failed to embed activity signature")
	ErrPersistence = goerr.New("failed to persist activity state")
	ErrIndexDesync = goerr.New("vector index is out of sync with records")
	ErrNotFound    = goerr.New("activity not found")
)

// ActivityID is the canonical identity of an activity, "activity_" + 16 hex chars
type ActivityID string

const activityIDPrefix = "activity_"

var activityIDPattern = regexp.MustCompile(`^activity_[0-9a-f]{16}$`)

// NewActivityID generates a new unique ActivityID
func NewActivityID() ActivityID {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return ActivityID(activityIDPrefix + hex[:16])
}

func (x ActivityID) String() string { return string(x) }

// Validate checks the ID format
func (x ActivityID) Validate() error {
	if !activityIDPattern.MatchString(string(x)) {
		return goerr.Wrap(ErrValidation, "malformed activity id", goerr.V("id", x))
	}
	return nil
}

// ActivityRecord is the unit of canonical identity kept by the record store.
// Name, Location and Category hold the normalized values of the last
// submission that resolved to this record.
type ActivityRecord struct {
	ID         ActivityID `json:"activity_id"`
	Name       string     `json:"name"`
	Location   string     `json:"location"`
	Category   string     `json:"category"`
	Embedding  []float32  `json:"embedding"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	Hits       int64      `json:"hits"`
}

// Clone returns a deep copy of the record
func (r *ActivityRecord) Clone() *ActivityRecord {
	cloned := *r
	cloned.Embedding = append([]float32(nil), r.Embedding...)
	return &cloned
}
