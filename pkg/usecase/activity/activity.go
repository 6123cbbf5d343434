package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/metrics"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/repository"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultThreshold   = 0.85
	DefaultSearchK     = 5
	DefaultConcurrency = 4
)

var ErrClosed = goerr.New("activity use case is closed")

// UseCase resolves activities to canonical identities. It owns the vector
// index and the record store and keeps them in lockstep: every mutation is
// committed to the repository before it becomes visible, and rolled back if
// the commit fails.
type UseCase struct {
	repo        repository.Repository
	embedder    adapter.Embedder
	metrics     *metrics.Metrics
	threshold   float64
	searchK     int
	concurrency int
	dim         int
	now         func() time.Time

	mu      sync.RWMutex
	index   *index.Index
	records map[model.ActivityID]*model.ActivityRecord
	closed  bool
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithThreshold sets the minimum similarity for a match
func WithThreshold(threshold float64) Option {
	return func(uc *UseCase) {
		uc.threshold = threshold
	}
}

// WithSearchK sets how many nearest neighbors are considered
func WithSearchK(k int) Option {
	return func(uc *UseCase) {
		uc.searchK = k
	}
}

// WithConcurrency bounds concurrent embedder calls within one trip plan
func WithConcurrency(n int) Option {
	return func(uc *UseCase) {
		uc.concurrency = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(uc *UseCase) {
		uc.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New loads the stored state from repo and returns a ready UseCase
func New(ctx context.Context, repo repository.Repository, embedder adapter.Embedder, opts ...Option) (*UseCase, error) {
	if repo == nil {
		return nil, goerr.New("repository is required")
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}

	uc := &UseCase{
		repo:        repo,
		embedder:    embedder,
		threshold:   DefaultThreshold,
		searchK:     DefaultSearchK,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}

	if uc.threshold <= 0 || uc.threshold > 1 {
		return nil, goerr.New("similarity threshold must be in (0, 1]", goerr.V("threshold", uc.threshold))
	}
	if uc.searchK < 1 {
		return nil, goerr.New("search k must be positive", goerr.V("k", uc.searchK))
	}
	if uc.concurrency < 1 {
		return nil, goerr.New("concurrency must be positive", goerr.V("concurrency", uc.concurrency))
	}

	snapshot, err := repo.Load(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load activity store")
	}
	if snapshot.Repaired {
		uc.metrics.IncRebuild("load")
	}
	uc.index = snapshot.Index
	uc.dim = snapshot.Index.Dimension()
	uc.records = snapshot.Records
	uc.metrics.SetRecords(len(uc.records))

	logging.From(ctx).Info("activity store loaded",
		"records", len(uc.records),
		"dimension", uc.dim,
		"threshold", uc.threshold,
		"repaired", snapshot.Repaired,
	)
	return uc, nil
}

// Threshold returns the configured similarity threshold
func (uc *UseCase) Threshold() float64 { return uc.threshold }

// Dimension returns the embedding dimension of the store
func (uc *UseCase) Dimension() int { return uc.dim }

// Close stops the use case. Every completed operation is already persisted.
func (uc *UseCase) Close() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.closed = true
	return nil
}

// commit persists the current state. The write lock must be held.
func (uc *UseCase) commit(ctx context.Context) error {
	err := uc.repo.Save(ctx, &repository.Snapshot{Index: uc.index, Records: uc.records})
	if err != nil {
		uc.metrics.IncPersistFailure()
		return goerr.Wrap(errors.Join(model.ErrPersistence, err), "failed to commit activity store")
	}
	uc.metrics.SetRecords(len(uc.records))
	return nil
}

// ensureConsistent rebuilds the index when it disagrees with the records.
// The write lock must be held.
func (uc *UseCase) ensureConsistent(ctx context.Context) error {
	if uc.consistent() {
		return nil
	}

	logging.From(ctx).Warn("vector index out of sync with records, rebuilding",
		"index_size", uc.index.Size(),
		"records", len(uc.records),
	)
	uc.metrics.IncRebuild("desync")
	if err := uc.index.Rebuild(uc.records); err != nil {
		return goerr.Wrap(errors.Join(model.ErrIndexDesync, err), "failed to rebuild index")
	}
	return nil
}

func (uc *UseCase) consistent() bool {
	if uc.index.Size() != len(uc.records) {
		return false
	}
	for _, id := range uc.index.IDs() {
		if _, ok := uc.records[id]; !ok {
			return false
		}
	}
	return true
}
