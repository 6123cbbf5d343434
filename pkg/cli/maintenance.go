package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func statsCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show record count per category",
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

			stats, err := uc.Stats(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to get stats")
			}
			return writeJSON(c, stats)
		},
	}
}

func cleanupCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:  "days",
			Usage: "Delete activities not used for this many days",
			Value: 30,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete activities that have not been used recently",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.load(c)
			if err != nil {
				return err
			}
			days := int(c.Int("days"))

			uc, closeUC, err := cfg.newUseCase(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			deleted, err := uc.Cleanup(ctx, days)
			if err != nil {
				return goerr.Wrap(err, "failed to clean up activities")
			}

			logger.Info("cleanup finished", "deleted", deleted, "days_old", days)
			fmt.Fprintf(c.Root().Writer, "Deleted %d activities\n", deleted)
			return nil
		},
	}
}

func rebuildCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, resolverFlags(&cfg)...)

	return &cli.Command{
		Name:  "rebuild",
		Usage: "Rebuild the vector index from the activity records",
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

			if err := uc.Rebuild(ctx); err != nil {
				return goerr.Wrap(err, "failed to rebuild index")
			}

			fmt.Fprintln(c.Root().Writer, "Index rebuilt")
			return nil
		},
	}
}
