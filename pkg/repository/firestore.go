package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/status"
)

const (
	// DefaultCollection holds one document per activity record
	DefaultCollection = "activities"

	// Firestore rejects transactions with more writes than this
	maxTransactionWrites = 500
)

// firestoreRecord is the document layout of an activity record
type firestoreRecord struct {
	Name       string             `firestore:"name"`
	Location   string             `firestore:"location"`
	Category   string             `firestore:"category"`
	Embedding  firestore.Vector32 `firestore:"embedding"`
	CreatedAt  time.Time          `firestore:"created_at"`
	LastUsedAt time.Time          `firestore:"last_used_at"`
	Hits       int64              `firestore:"hits"`
}

func toFirestoreRecord(rec *model.ActivityRecord) *firestoreRecord {
	return &firestoreRecord{
		Name:       rec.Name,
		Location:   rec.Location,
		Category:   rec.Category,
		Embedding:  firestore.Vector32(rec.Embedding),
		CreatedAt:  rec.CreatedAt,
		LastUsedAt: rec.LastUsedAt,
		Hits:       rec.Hits,
	}
}

func (r *firestoreRecord) toModel(id model.ActivityID) *model.ActivityRecord {
	return &model.ActivityRecord{
		ID:         id,
		Name:       r.Name,
		Location:   r.Location,
		Category:   r.Category,
		Embedding:  []float32(r.Embedding),
		CreatedAt:  r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
		Hits:       r.Hits,
	}
}

// Firestore keeps activity records as documents of one collection. The
// vector index is not stored; Load rebuilds it from the records. Save writes
// only the records that changed since the last Load or Save.
//
// A Save of more than 500 changes spans several transactions and is not
// atomic: when a later transaction fails, the earlier ones stay committed
// while the caller rolls its in-memory state back. The next successful Save
// converges the collection to the snapshot it is given, but a process that
// restarts in between loads the partially written collection.
type Firestore struct {
	client     *firestore.Client
	collection string
	dim        int

	mu    sync.Mutex
	saved map[model.ActivityID]*model.ActivityRecord
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore creates a Firestore backed repository
func NewFirestore(ctx context.Context, projectID, databaseID string, dim int, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	if dim <= 0 {
		return nil, goerr.Wrap(index.ErrInvalidDimension, "failed to create firestore repository", goerr.V("dim", dim))
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: DefaultCollection,
		dim:        dim,
		saved:      make(map[model.ActivityID]*model.ActivityRecord),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Load(ctx context.Context) (*Snapshot, error) {
	docs, err := f.client.Collection(f.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read activity documents", goerr.V("collection", f.collection))
	}

	records := make(map[model.ActivityID]*model.ActivityRecord, len(docs))
	for _, doc := range docs {
		id := model.ActivityID(doc.Ref.ID)
		if err := id.Validate(); err != nil {
			return nil, goerr.Wrap(err, "unexpected document in activity collection", goerr.V("collection", f.collection))
		}

		var data firestoreRecord
		if err := doc.DataTo(&data); err != nil {
			return nil, goerr.Wrap(err, "failed to decode activity document", goerr.V("id", id))
		}
		if len(data.Embedding) != f.dim {
			return nil, goerr.New("activity embedding has unexpected dimension",
				goerr.V("id", id), goerr.V("expected", f.dim), goerr.V("actual", len(data.Embedding)))
		}
		records[id] = data.toModel(id)
	}

	idx, err := index.New(f.dim)
	if err != nil {
		return nil, err
	}
	if err := idx.Rebuild(records); err != nil {
		return nil, goerr.Wrap(err, "failed to build index from activity documents")
	}

	f.mu.Lock()
	f.saved = cloneRecords(records)
	f.mu.Unlock()

	return &Snapshot{Index: idx, Records: records}, nil
}

// docWrite is one pending document change; a nil record deletes the document
type docWrite struct {
	id     model.ActivityID
	record *model.ActivityRecord
}

func (f *Firestore) Save(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.Index == nil {
		return goerr.New("snapshot is incomplete")
	}
	if snapshot.Index.Dimension() != f.dim {
		return goerr.New("snapshot dimension does not match repository",
			goerr.V("expected", f.dim), goerr.V("actual", snapshot.Index.Dimension()))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var writes []docWrite
	for id, rec := range snapshot.Records {
		if prev, ok := f.saved[id]; ok && sameRecord(prev, rec) {
			continue
		}
		writes = append(writes, docWrite{id: id, record: rec})
	}
	for id := range f.saved {
		if _, ok := snapshot.Records[id]; !ok {
			writes = append(writes, docWrite{id: id})
		}
	}

	col := f.client.Collection(f.collection)
	for start := 0; start < len(writes); start += maxTransactionWrites {
		chunk := writes[start:min(start+maxTransactionWrites, len(writes))]

		err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, w := range chunk {
				ref := col.Doc(w.id.String())
				if w.record == nil {
					if err := tx.Delete(ref); err != nil {
						return err
					}
					continue
				}
				if err := tx.Set(ref, toFirestoreRecord(w.record)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return goerr.Wrap(err, "failed to write activity documents",
				goerr.V("collection", f.collection),
				goerr.V("written", start),
				goerr.V("pending", len(writes)-start),
				goerr.V("code", status.Code(err)))
		}

		// Later saves diff against what is actually stored, so a failure in
		// a following chunk is retried in full.
		for _, w := range chunk {
			if w.record == nil {
				delete(f.saved, w.id)
			} else {
				f.saved[w.id] = w.record.Clone()
			}
		}
	}

	return nil
}

func sameRecord(a, b *model.ActivityRecord) bool {
	if a.Name != b.Name || a.Location != b.Location || a.Category != b.Category ||
		a.Hits != b.Hits || !a.CreatedAt.Equal(b.CreatedAt) || !a.LastUsedAt.Equal(b.LastUsedAt) {
		return false
	}
	return slices.Equal(a.Embedding, b.Embedding)
}

func cloneRecords(records map[model.ActivityID]*model.ActivityRecord) map[model.ActivityID]*model.ActivityRecord {
	cloned := make(map[model.ActivityID]*model.ActivityRecord, len(records))
	for id, rec := range records {
		cloned[id] = rec.Clone()
	}
	return cloned
}
