package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg        config
		activityID model.ActivityID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "activity-id",
			Aliases:     []string{"id"},
			Usage:       "Activity ID to show",
			Sources:     cli.EnvVars("ACTID_ACTIVITY_ID"),
			Destination: (*string)(&activityID),
			Required:    true,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show the record of a specific activity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.load(c); err != nil {
				return err
			}

			uc, closeUC, err := cfg.newUseCase(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			rec, err := uc.Get(ctx, activityID)
			if err != nil {
				return goerr.Wrap(err, "failed to show activity")
			}

			// Embeddings are long and not meaningful to read
			rec.Embedding = nil
			return writeJSON(c, rec)
		},
	}
}

func listCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:  "offset",
			Usage: "Number of records to skip",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of records, 0 for all",
			Value:   50,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List activity records ordered by id",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.load(c); err != nil {
				return err
			}

			uc, closeUC, err := cfg.newUseCase(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			records, total, err := uc.List(ctx, int(c.Int("offset")), int(c.Int("limit")))
			if err != nil {
				return goerr.Wrap(err, "failed to list activities")
			}

			w := c.Root().Writer
			for _, rec := range records {
				category := rec.Category
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					rec.ID, rec.Name, rec.Location, category, rec.Hits,
					rec.LastUsedAt.Format("2006-01-02"))
			}
			fmt.Fprintf(w, "%d of %d activities\n", len(records), total)
			return nil
		},
	}
}
