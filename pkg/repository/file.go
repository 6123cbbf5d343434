package repository

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	baseName    = "activities"
	IndexFile   = baseName + ".index"
	RecordsFile = baseName + ".records"

	reasonIndexMissing = "index file is missing"
)

// File stores a snapshot as two artifacts in one directory. Both are written
// to temp files and renamed into place, index first, so a crash can leave at
// worst a newer index next to older records. Load repairs that case.
type File struct {
	dir string
	dim int
}

var _ Repository = (*File)(nil)

// NewFile creates a file repository rooted at dir for vectors of dimension dim
func NewFile(dir string, dim int) (*File, error) {
	if dir == "" {
		return nil, goerr.New("data directory is required")
	}
	if dim <= 0 {
		return nil, goerr.New("dimension must be positive", goerr.V("dim", dim))
	}
	return &File{dir: dir, dim: dim}, nil
}

// Dir returns the data directory
func (f *File) Dir() string { return f.dir }

func (f *File) indexPath() string   { return filepath.Join(f.dir, IndexFile) }
func (f *File) recordsPath() string { return filepath.Join(f.dir, RecordsFile) }

func (f *File) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "save cancelled")
	}
	if snapshot.Index.Dimension() != f.dim {
		return goerr.Wrap(index.ErrDimensionMismatch, "snapshot index has wrong dimension",
			goerr.V("expected", f.dim), goerr.V("actual", snapshot.Index.Dimension()))
	}

	return atomicSave(f.dir, []artifact{
		{name: IndexFile, write: snapshot.Index.Encode},
		{name: RecordsFile, write: func(w io.Writer) error {
			return encodeRecords(w, f.dim, snapshot.Records)
		}},
	})
}

func (f *File) Load(ctx context.Context) (*Snapshot, error) {
	logger := logging.From(ctx)

	records, err := f.loadRecords()
	if err != nil {
		return nil, err
	}

	idx, reason := f.loadIndex(records)
	if reason == "" {
		return &Snapshot{Index: idx, Records: records}, nil
	}

	if len(records) > 0 || reason != reasonIndexMissing {
		logger.Warn("rebuilding vector index from records",
			"reason", reason,
			"records", len(records),
			"dir", f.dir,
		)
	}

	idx, err = index.New(f.dim)
	if err != nil {
		return nil, err
	}
	if err := idx.Rebuild(records); err != nil {
		return nil, goerr.Wrap(err, "failed to rebuild index from records")
	}

	// An absent store is empty, not repaired
	repaired := !(len(records) == 0 && reason == reasonIndexMissing)
	return &Snapshot{Index: idx, Records: records, Repaired: repaired}, nil
}

func (f *File) loadRecords() (map[model.ActivityID]*model.ActivityRecord, error) {
	fd, err := os.Open(f.recordsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[model.ActivityID]*model.ActivityRecord), nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open records file", goerr.V("path", f.recordsPath()))
	}
	defer fd.Close()

	records, err := decodeRecords(fd, f.dim)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load records", goerr.V("path", f.recordsPath()))
	}
	return records, nil
}

// loadIndex returns the stored index, or a non-empty reason when it can not
// be trusted against records.
func (f *File) loadIndex(records map[model.ActivityID]*model.ActivityRecord) (*index.Index, string) {
	fd, err := os.Open(f.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, reasonIndexMissing
	}
	if err != nil {
		return nil, "failed to open index file: " + err.Error()
	}
	defer fd.Close()

	idx, err := index.Decode(fd)
	if err != nil {
		return nil, "failed to decode index file: " + err.Error()
	}
	if idx.Dimension() != f.dim {
		return nil, "index dimension differs from configuration"
	}
	if idx.Size() != len(records) {
		return nil, "index size differs from record count"
	}
	for _, id := range idx.IDs() {
		rec, ok := records[id]
		if !ok {
			return nil, "index holds an id without a record"
		}
		vec, _ := idx.Vector(id)
		if !slices.Equal(vec, rec.Embedding) {
			return nil, "index vector differs from record embedding"
		}
	}
	return idx, ""
}

type artifact struct {
	name  string
	write func(io.Writer) error
	// verify checks the written temp file before anything is renamed
	verify func(path string) error
}

// atomicSave writes every artifact to a temp file in dir, then renames them
// into place in order and syncs the directory. Nothing is renamed unless
// every artifact is written and verified.
func atomicSave(dir string, artifacts []artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dir))
	}

	var temps []string
	defer func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}()

	for _, a := range artifacts {
		tmp, err := os.CreateTemp(dir, a.name+".tmp-*")
		if err != nil {
			return goerr.Wrap(err, "failed to create temp file", goerr.V("name", a.name))
		}
		temps = append(temps, tmp.Name())

		if err := a.write(tmp); err != nil {
			_ = tmp.Close()
			return goerr.Wrap(err, "failed to write artifact", goerr.V("name", a.name))
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return goerr.Wrap(err, "failed to sync artifact", goerr.V("name", a.name))
		}
		if err := tmp.Close(); err != nil {
			return goerr.Wrap(err, "failed to close artifact", goerr.V("name", a.name))
		}
		if a.verify != nil {
			if err := a.verify(tmp.Name()); err != nil {
				return goerr.Wrap(err, "artifact failed verification", goerr.V("name", a.name))
			}
		}
	}

	for i, a := range artifacts {
		if err := os.Rename(temps[i], filepath.Join(dir, a.name)); err != nil {
			return goerr.Wrap(err, "failed to rename artifact", goerr.V("name", a.name))
		}
	}
	temps = nil

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
