package repository

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/actid/pkg/index"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var artifactNames = []string{IndexFile, RecordsFile}

// Backup copies both artifacts to storage under prefix. The store must not be
// written while the copy runs.
func (f *File) Backup(ctx context.Context, storage adapter.Storage, prefix string) error {
	for _, name := range artifactNames {
		if err := f.backupArtifact(ctx, storage, name, path.Join(prefix, name)); err != nil {
			return err
		}
		logging.From(ctx).Info("backed up artifact", "name", name, "prefix", prefix)
	}
	return nil
}

func (f *File) backupArtifact(ctx context.Context, storage adapter.Storage, name, key string) error {
	src, err := os.Open(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(model.ErrNotFound, "no artifact to back up", goerr.V("name", name), goerr.V("dir", f.dir))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to open artifact", goerr.V("name", name))
	}
	defer src.Close()

	dst, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open backup object", goerr.V("key", key))
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return goerr.Wrap(err, "failed to upload artifact", goerr.V("key", key))
	}
	if err := dst.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize backup object", goerr.V("key", key))
	}
	return nil
}

// Restore replaces the local artifacts with the ones stored under prefix.
// Downloaded artifacts are decoded before they replace anything, so a corrupt
// backup or one of another dimension leaves the local store untouched.
func (f *File) Restore(ctx context.Context, storage adapter.Storage, prefix string) (*Snapshot, error) {
	verifiers := map[string]func(string) error{
		IndexFile:   f.verifyIndexFile,
		RecordsFile: f.verifyRecordsFile,
	}

	artifacts := make([]artifact, 0, len(artifactNames))
	for _, name := range artifactNames {
		key := path.Join(prefix, name)
		artifacts = append(artifacts, artifact{name: name, verify: verifiers[name], write: func(w io.Writer) error {
			src, err := storage.Get(ctx, key)
			if err != nil {
				return goerr.Wrap(err, "failed to open backup object", goerr.V("key", key))
			}
			defer src.Close()
			if _, err := io.Copy(w, src); err != nil {
				return goerr.Wrap(err, "failed to download artifact", goerr.V("key", key))
			}
			return nil
		}})
	}

	if err := atomicSave(f.dir, artifacts); err != nil {
		return nil, err
	}

	snapshot, err := f.Load(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "restored store can not be loaded")
	}
	return snapshot, nil
}

func (f *File) verifyIndexFile(p string) error {
	fd, err := os.Open(p)
	if err != nil {
		return goerr.Wrap(err, "failed to open downloaded index")
	}
	defer fd.Close()

	idx, err := index.Decode(fd)
	if err != nil {
		return goerr.Wrap(err, "downloaded index can not be decoded")
	}
	if idx.Dimension() != f.dim {
		return goerr.Wrap(index.ErrDimensionMismatch, "downloaded index has wrong dimension",
			goerr.V("expected", f.dim), goerr.V("actual", idx.Dimension()))
	}
	return nil
}

func (f *File) verifyRecordsFile(p string) error {
	fd, err := os.Open(p)
	if err != nil {
		return goerr.Wrap(err, "failed to open downloaded records")
	}
	defer fd.Close()

	if _, err := decodeRecords(fd, f.dim); err != nil {
		return goerr.Wrap(err, "downloaded records can not be decoded")
	}
	return nil
}
