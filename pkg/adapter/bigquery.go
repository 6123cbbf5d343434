package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

const bigqueryInsertBatch = 500

// activityRow is the BigQuery row of one exported activity record. The
// embedding is left out; the table is meant for reuse analytics.
type activityRow struct {
	ActivityID string    `bigquery:"activity_id"`
	Name       string    `bigquery:"name"`
	Location   string    `bigquery:"location"`
	Category   string    `bigquery:"category"`
	CreatedAt  time.Time `bigquery:"created_at"`
	LastUsedAt time.Time `bigquery:"last_used_at"`
	Hits       int64     `bigquery:"hits"`
	ExportedAt time.Time `bigquery:"exported_at"`
}

// BigQuery appends snapshots of activity records to a table
type BigQuery struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQuery creates a new BigQuery exporter for project.dataset.table
func NewBigQuery(ctx context.Context, projectID, datasetID, table string) (*BigQuery, error) {
	if projectID == "" || datasetID == "" || table == "" {
		return nil, goerr.New("bigquery project, dataset and table are required",
			goerr.V("project", projectID), goerr.V("dataset", datasetID), goerr.V("table", table))
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &BigQuery{
		client:  client,
		dataset: datasetID,
		table:   table,
	}, nil
}

func (bq *BigQuery) Close() error {
	return bq.client.Close()
}

// ensureTable creates the export table, partitioned by export time, when it
// does not exist yet
func (bq *BigQuery) ensureTable(ctx context.Context) (*bigquery.Table, error) {
	tbl := bq.client.Dataset(bq.dataset).Table(bq.table)

	_, err := tbl.Metadata(ctx)
	if err == nil {
		return tbl, nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return nil, goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", bq.dataset), goerr.V("table", bq.table))
	}

	schema, err := bigquery.InferSchema(activityRow{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer export schema")
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "exported_at",
		},
	}
	if err := tbl.Create(ctx, meta); err != nil {
		return nil, goerr.Wrap(err, "failed to create export table",
			goerr.V("dataset", bq.dataset), goerr.V("table", bq.table))
	}
	return tbl, nil
}

// Export appends records as rows stamped with exportedAt
func (bq *BigQuery) Export(ctx context.Context, records []*model.ActivityRecord, exportedAt time.Time) error {
	tbl, err := bq.ensureTable(ctx)
	if err != nil {
		return err
	}

	inserter := tbl.Inserter()
	for start := 0; start < len(records); start += bigqueryInsertBatch {
		batch := records[start:min(start+bigqueryInsertBatch, len(records))]

		rows := make([]*activityRow, len(batch))
		for i, rec := range batch {
			rows[i] = &activityRow{
				ActivityID: rec.ID.String(),
				Name:       rec.Name,
				Location:   rec.Location,
				Category:   rec.Category,
				CreatedAt:  rec.CreatedAt,
				LastUsedAt: rec.LastUsedAt,
				Hits:       rec.Hits,
				ExportedAt: exportedAt,
			}
		}

		if err := inserter.Put(ctx, rows); err != nil {
			return goerr.Wrap(err, "failed to insert rows",
				goerr.V("table", bq.table), goerr.V("offset", start), goerr.V("rows", len(rows)))
		}
	}
	return nil
}
