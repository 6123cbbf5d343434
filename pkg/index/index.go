// Package index provides an exact nearest-neighbor index over fixed-dimension
// float32 vectors keyed by activity ID.
//
// Vectors live in a slot table; slot i belongs to IDs()[i]. Removed slots are
// tracked in a roaring bitmap and reused lowest-first, and vectors can be
// replaced in place, so updating a record never requires a full rebuild.
//
// Index is not safe for concurrent use. Callers serialize access.
package index

import (
	"cmp"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// MaxDistance normalizes a squared L2 distance into a similarity score. For
// unit-norm vectors squared L2 lies in [0, 4] and 1 - d/2 equals the cosine
// similarity.
const MaxDistance = 2.0

var (
	ErrDimensionMismatch = goerr.New("vector dimension mismatch")
	ErrDuplicateID       = goerr.New("id already indexed")
	ErrUnknownID         = goerr.New("id not indexed")
	ErrInvalidDimension  = goerr.New("dimension must be positive")
)

// Hit is a search result
type Hit struct {
	ID       model.ActivityID
	Distance float32
}

// Similarity converts the hit distance into a similarity score
func (h Hit) Similarity() float64 {
	return Similarity(h.Distance)
}

// Similarity converts a squared L2 distance into 1 - distance/MaxDistance
func Similarity(distance float32) float64 {
	return 1 - float64(distance)/MaxDistance
}

type Index struct {
	dim     int
	vectors [][]float32
	ids     []model.ActivityID
	slots   map[model.ActivityID]uint32
	free    *roaring.Bitmap
}

// New creates an empty index for vectors of dimension dim
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, goerr.Wrap(ErrInvalidDimension, "failed to create index", goerr.V("dim", dim))
	}
	return &Index{
		dim:   dim,
		slots: make(map[model.ActivityID]uint32),
		free:  roaring.New(),
	}, nil
}

// Dimension returns the vector dimension
func (x *Index) Dimension() int { return x.dim }

// Size returns the number of indexed vectors
func (x *Index) Size() int { return len(x.slots) }

// Contains reports whether id is indexed
func (x *Index) Contains(id model.ActivityID) bool {
	_, ok := x.slots[id]
	return ok
}

// IDs returns the indexed IDs in slot order (index_to_id)
func (x *Index) IDs() []model.ActivityID {
	ids := make([]model.ActivityID, 0, len(x.slots))
	for _, id := range x.ids {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Vector returns a copy of the vector stored for id
func (x *Index) Vector(id model.ActivityID) ([]float32, bool) {
	slot, ok := x.slots[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(x.vectors[slot]), true
}

func (x *Index) checkDim(vec []float32) error {
	if len(vec) != x.dim {
		return goerr.Wrap(ErrDimensionMismatch, "invalid vector", goerr.V("expected", x.dim), goerr.V("actual", len(vec)))
	}
	return nil
}

// Insert adds a vector for a new id. A freed slot is reused when available.
func (x *Index) Insert(id model.ActivityID, vec []float32) error {
	if err := x.checkDim(vec); err != nil {
		return err
	}
	if _, ok := x.slots[id]; ok {
		return goerr.Wrap(ErrDuplicateID, "failed to insert", goerr.V("id", id))
	}

	stored := slices.Clone(vec)
	if !x.free.IsEmpty() {
		slot := x.free.Minimum()
		x.free.Remove(slot)
		x.vectors[slot] = stored
		x.ids[slot] = id
		x.slots[id] = slot
		return nil
	}

	x.slots[id] = uint32(len(x.vectors))
	x.vectors = append(x.vectors, stored)
	x.ids = append(x.ids, id)
	return nil
}

// Replace overwrites the vector of an indexed id, keeping its slot
func (x *Index) Replace(id model.ActivityID, vec []float32) error {
	if err := x.checkDim(vec); err != nil {
		return err
	}
	slot, ok := x.slots[id]
	if !ok {
		return goerr.Wrap(ErrUnknownID, "failed to replace", goerr.V("id", id))
	}
	copy(x.vectors[slot], vec)
	return nil
}

// Remove frees the slot of id
func (x *Index) Remove(id model.ActivityID) error {
	slot, ok := x.slots[id]
	if !ok {
		return goerr.Wrap(ErrUnknownID, "failed to remove", goerr.V("id", id))
	}
	delete(x.slots, id)
	x.vectors[slot] = nil
	x.ids[slot] = ""
	x.free.Add(slot)

	// Trailing free slots are dropped so the table does not only grow
	for n := len(x.ids); n > 0 && x.ids[n-1] == ""; n-- {
		x.free.Remove(uint32(n - 1))
		x.ids = x.ids[:n-1]
		x.vectors = x.vectors[:n-1]
	}
	return nil
}

// Search returns up to k nearest vectors by squared L2 distance, closest
// first. Equal distances are ordered by ascending id.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if err := x.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 || len(x.slots) == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(x.slots))
	for slot, id := range x.ids {
		if id == "" {
			continue
		}
		hits = append(hits, Hit{ID: id, Distance: squaredL2(query, x.vectors[slot])})
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Rebuild discards the current state and inserts every record in ascending
// id order. On error the index is left unchanged.
func (x *Index) Rebuild(records map[model.ActivityID]*model.ActivityRecord) error {
	fresh, err := New(x.dim)
	if err != nil {
		return err
	}

	ids := make([]model.ActivityID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := fresh.Insert(id, records[id].Embedding); err != nil {
			return goerr.Wrap(err, "failed to rebuild index", goerr.V("id", id))
		}
	}

	*x = *fresh
	return nil
}

// Clone returns a deep copy of the index
func (x *Index) Clone() *Index {
	cloned := &Index{
		dim:     x.dim,
		vectors: make([][]float32, len(x.vectors)),
		ids:     slices.Clone(x.ids),
		slots:   make(map[model.ActivityID]uint32, len(x.slots)),
		free:    x.free.Clone(),
	}
	for i, v := range x.vectors {
		if v != nil {
			cloned.vectors[i] = slices.Clone(v)
		}
	}
	for id, slot := range x.slots {
		cloned.slots[id] = slot
	}
	return cloned
}

// Normalize returns vec scaled to unit L2 norm. It reports false for zero or
// non-finite vectors.
func Normalize(vec []float32) ([]float32, bool) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, false
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
