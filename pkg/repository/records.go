package repository

import (
	"encoding/json"
	"io"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const recordsVersion = 1

type recordsDocument struct {
	Version   int                     `json:"version"`
	Dimension int                     `json:"dimension"`
	Records   []*model.ActivityRecord `json:"records"`
}

// encodeRecords writes records sorted by id as zstd-compressed JSON
func encodeRecords(w io.Writer, dim int, records map[model.ActivityID]*model.ActivityRecord) error {
	doc := recordsDocument{
		Version:   recordsVersion,
		Dimension: dim,
		Records:   make([]*model.ActivityRecord, 0, len(records)),
	}
	for _, r := range records {
		doc.Records = append(doc.Records, r)
	}
	slices.SortFunc(doc.Records, func(a, b *model.ActivityRecord) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return goerr.Wrap(err, "failed to create zstd writer")
	}
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		_ = zw.Close()
		return goerr.Wrap(err, "failed to encode records")
	}
	if err := zw.Close(); err != nil {
		return goerr.Wrap(err, "failed to flush compressed records")
	}
	return nil
}

func decodeRecords(r io.Reader, dim int) (map[model.ActivityID]*model.ActivityRecord, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create zstd reader")
	}
	defer zr.Close()

	var doc recordsDocument
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode records")
	}
	if doc.Version != recordsVersion {
		return nil, goerr.New("unsupported records version", goerr.V("version", doc.Version))
	}
	if doc.Dimension != dim {
		return nil, goerr.New("records were built with another embedding dimension",
			goerr.V("stored", doc.Dimension), goerr.V("configured", dim))
	}

	records := make(map[model.ActivityID]*model.ActivityRecord, len(doc.Records))
	for _, rec := range doc.Records {
		if rec == nil {
			return nil, goerr.New("null record in store")
		}
		if err := rec.ID.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid record id")
		}
		if _, ok := records[rec.ID]; ok {
			return nil, goerr.New("duplicate record id", goerr.V("id", rec.ID))
		}
		if len(rec.Embedding) != dim {
			return nil, goerr.New("record embedding has wrong dimension", goerr.V("id", rec.ID), goerr.V("length", len(rec.Embedding)))
		}
		records[rec.ID] = rec
	}
	return records, nil
}
