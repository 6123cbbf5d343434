package repository_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/repository"
	"github.com/m-mizutani/gt"
)

const dim = 3

func newSnapshot(t *testing.T, records ...*model.ActivityRecord) *repository.Snapshot {
	t.Helper()
	idx, err := index.New(dim)
	gt.NoError(t, err)

	m := make(map[model.ActivityID]*model.ActivityRecord)
	for _, r := range records {
		m[r.ID] = r
	}
	gt.NoError(t, idx.Rebuild(m))
	return &repository.Snapshot{Index: idx, Records: m}
}

func record(id model.ActivityID, name string, vec ...float32) *model.ActivityRecord {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return &model.ActivityRecord{
		ID:         id,
		Name:       name,
		Location:   "tyo",
		Category:   "tour",
		Embedding:  vec,
		CreatedAt:  now,
		LastUsedAt: now,
		Hits:       1,
	}
}

func TestLoadEmpty(t *testing.T) {
	repo, err := repository.NewFile(filepath.Join(t.TempDir(), "db"), dim)
	gt.NoError(t, err)

	snap, err := repo.Load(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, snap.Index.Size(), 0)
	gt.Equal(t, len(snap.Records), 0)
	gt.False(t, snap.Repaired)
}

func TestNewFileValidation(t *testing.T) {
	_, err := repository.NewFile("", dim)
	gt.Error(t, err)
	_, err = repository.NewFile(t.TempDir(), 0)
	gt.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)

	snap := newSnapshot(t,
		record("activity_000000000000000a", "tokyo skytree", 1, 0, 0),
		record("activity_000000000000000b", "ueno park", 0, 1, 0),
	)
	gt.NoError(t, repo.Save(ctx, snap))

	// No temp files remain
	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.False(t, loaded.Repaired)
	gt.Equal(t, loaded.Index.IDs(), snap.Index.IDs())
	gt.Equal(t, len(loaded.Records), 2)

	rec := loaded.Records["activity_000000000000000a"]
	gt.NotNil(t, rec)
	gt.Equal(t, rec.Name, "tokyo skytree")
	gt.Equal(t, rec.Embedding, []float32{1, 0, 0})
	gt.True(t, rec.LastUsedAt.Equal(snap.Records["activity_000000000000000a"].LastUsedAt))
}

func TestLoadRepairsStaleIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)

	before := newSnapshot(t, record("activity_000000000000000a", "tokyo skytree", 1, 0, 0))
	gt.NoError(t, repo.Save(ctx, before))
	staleIndex, err := os.ReadFile(filepath.Join(dir, repository.IndexFile))
	gt.NoError(t, err)

	after := newSnapshot(t,
		record("activity_000000000000000a", "tokyo skytree", 1, 0, 0),
		record("activity_000000000000000b", "ueno park", 0, 1, 0),
	)
	gt.NoError(t, repo.Save(ctx, after))

	// Simulate a crash that left the old index next to the new records
	gt.NoError(t, os.WriteFile(filepath.Join(dir, repository.IndexFile), staleIndex, 0o644))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, loaded.Repaired)
	gt.Equal(t, loaded.Index.Size(), 2)
	gt.Equal(t, loaded.Index.IDs(), []model.ActivityID{"activity_000000000000000a", "activity_000000000000000b"})
}

func TestLoadRepairsReplacedVector(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)

	gt.NoError(t, repo.Save(ctx, newSnapshot(t, record("activity_000000000000000a", "tokyo skytree", 1, 0, 0))))
	older, err := os.ReadFile(filepath.Join(dir, repository.IndexFile))
	gt.NoError(t, err)

	gt.NoError(t, repo.Save(ctx, newSnapshot(t, record("activity_000000000000000a", "tokyo tower", 0, 0, 1))))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, repository.IndexFile), older, 0o644))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, loaded.Repaired)
	vec, ok := loaded.Index.Vector("activity_000000000000000a")
	gt.True(t, ok)
	gt.Equal(t, vec, []float32{0, 0, 1})
}

func TestLoadRepairsCorruptIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)
	gt.NoError(t, repo.Save(ctx, newSnapshot(t, record("activity_000000000000000a", "tokyo skytree", 1, 0, 0))))

	path := filepath.Join(dir, repository.IndexFile)
	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	data[len(data)-1] ^= 0xff
	gt.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, loaded.Repaired)
	gt.Equal(t, loaded.Index.Size(), 1)
}

func TestLoadRepairsMissingIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)
	gt.NoError(t, repo.Save(ctx, newSnapshot(t, record("activity_000000000000000a", "tokyo skytree", 1, 0, 0))))
	gt.NoError(t, os.Remove(filepath.Join(dir, repository.IndexFile)))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, loaded.Repaired)
	gt.Equal(t, loaded.Index.Size(), 1)
}

func TestLoadRejectsOtherDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)
	gt.NoError(t, repo.Save(ctx, newSnapshot(t, record("activity_000000000000000a", "tokyo skytree", 1, 0, 0))))

	other, err := repository.NewFile(dir, 4)
	gt.NoError(t, err)
	_, err = other.Load(ctx)
	gt.Error(t, err)
}

func TestLoadRejectsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, repository.RecordsFile), []byte("not zstd"), 0o644))

	repo, err := repository.NewFile(dir, dim)
	gt.NoError(t, err)
	_, err = repo.Load(context.Background())
	gt.Error(t, err)
}

func TestSaveCancelled(t *testing.T) {
	repo, err := repository.NewFile(t.TempDir(), dim)
	gt.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gt.Error(t, repo.Save(ctx, newSnapshot(t)))
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type memoryWriter struct {
	bytes.Buffer
	key     string
	storage *memoryStorage
}

func (w *memoryWriter) Close() error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()
	w.storage.objects[w.key] = w.Bytes()
	return nil
}

func (s *memoryStorage) Put(_ context.Context, key string) (io.WriteCloser, error) {
	return &memoryWriter{key: key, storage: s}, nil
}

func (s *memoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	storage := &memoryStorage{objects: make(map[string][]byte)}

	src, err := repository.NewFile(t.TempDir(), dim)
	gt.NoError(t, err)
	gt.NoError(t, src.Save(ctx, newSnapshot(t,
		record("activity_000000000000000a", "tokyo skytree", 1, 0, 0),
		record("activity_000000000000000b", "ueno park", 0, 1, 0),
	)))
	gt.NoError(t, src.Backup(ctx, storage, "backups/daily"))
	gt.Map(t, storage.objects).HasKey("backups/daily/" + repository.IndexFile)
	gt.Map(t, storage.objects).HasKey("backups/daily/" + repository.RecordsFile)

	dst, err := repository.NewFile(filepath.Join(t.TempDir(), "restored"), dim)
	gt.NoError(t, err)
	restored, err := dst.Restore(ctx, storage, "backups/daily")
	gt.NoError(t, err)
	gt.False(t, restored.Repaired)
	gt.Equal(t, len(restored.Records), 2)
	gt.Equal(t, restored.Index.Size(), 2)

	t.Run("missing backup", func(t *testing.T) {
		_, err := dst.Restore(ctx, storage, "backups/none")
		gt.Error(t, err)
	})

	t.Run("corrupt backup keeps local store", func(t *testing.T) {
		storage.objects["backups/broken/"+repository.IndexFile] = []byte("garbage")
		storage.objects["backups/broken/"+repository.RecordsFile] = []byte("garbage")
		_, err := dst.Restore(ctx, storage, "backups/broken")
		gt.Error(t, err)

		loaded, err := dst.Load(ctx)
		gt.NoError(t, err)
		gt.Equal(t, len(loaded.Records), 2)
		gt.Equal(t, loaded.Index.Size(), 2)

		entries, err := os.ReadDir(dst.Dir())
		gt.NoError(t, err)
		gt.A(t, entries).Length(2)
	})

	t.Run("backup of another dimension keeps local store", func(t *testing.T) {
		wide, err := repository.NewFile(t.TempDir(), dim+1)
		gt.NoError(t, err)
		idx, err := index.New(dim + 1)
		gt.NoError(t, err)
		records := map[model.ActivityID]*model.ActivityRecord{
			"activity_000000000000000c": record("activity_000000000000000c", "tokyo tower", 1, 0, 0, 0),
		}
		gt.NoError(t, idx.Rebuild(records))
		gt.NoError(t, wide.Save(ctx, &repository.Snapshot{Index: idx, Records: records}))
		gt.NoError(t, wide.Backup(ctx, storage, "backups/wide"))

		_, err = dst.Restore(ctx, storage, "backups/wide")
		gt.Error(t, err)

		loaded, err := dst.Load(ctx)
		gt.NoError(t, err)
		gt.Equal(t, len(loaded.Records), 2)
		gt.True(t, loaded.Records["activity_000000000000000a"] != nil)
	})

	t.Run("nothing to back up", func(t *testing.T) {
		empty, err := repository.NewFile(t.TempDir(), dim)
		gt.NoError(t, err)
		gt.Error(t, empty.Backup(ctx, storage, "backups/empty"))
	})
}
