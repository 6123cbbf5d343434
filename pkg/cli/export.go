package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func exportCommand() *cli.Command {
	var (
		cfg     config
		project string
		dataset string
		table   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID of the export table",
			Sources:     cli.EnvVars("ACTID_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &project,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset of the export table",
			Sources:     cli.EnvVars("ACTID_BIGQUERY_DATASET"),
			Destination: &dataset,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table receiving activity rows, created when missing",
			Value:       "activities",
			Sources:     cli.EnvVars("ACTID_BIGQUERY_TABLE"),
			Destination: &table,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Append a snapshot of every activity record to BigQuery",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.load(c)
			if err != nil {
				return err
			}

			uc, closeUC, err := cfg.newUseCase(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			records, total, err := uc.List(ctx, 0, 0)
			if err != nil {
				return goerr.Wrap(err, "failed to list activities")
			}

			bq, err := adapter.NewBigQuery(ctx, project, dataset, table)
			if err != nil {
				return err
			}
			defer bq.Close()

			if err := bq.Export(ctx, records, time.Now().UTC()); err != nil {
				return goerr.Wrap(err, "failed to export activities")
			}

			logger.Info("activities exported", "dataset", dataset, "table", table, "rows", total)
			fmt.Fprintf(c.Root().Writer, "Exported %d activities to %s.%s.%s\n", total, project, dataset, table)
			return nil
		},
	}
}
