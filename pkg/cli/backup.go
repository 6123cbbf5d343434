package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func prefixFlag(prefix *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "prefix",
		Usage:       "Object name prefix of the snapshot in the bucket",
		Value:       "actid/latest",
		Sources:     cli.EnvVars("ACTID_BACKUP_PREFIX"),
		Destination: prefix,
	}
}

func backupCommand() *cli.Command {
	var (
		cfg    config
		prefix string
	)

	flags := []cli.Flag{prefixFlag(&prefix)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, backupFlags(&cfg)...)

	return &cli.Command{
		Name:  "backup",
		Usage: "Upload the persisted snapshot to Cloud Storage. Stop the server first.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.load(c)
			if err != nil {
				return err
			}

			repo, err := cfg.newFileRepository()
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			defer storage.Close()

			if err := repo.Backup(ctx, storage, prefix); err != nil {
				return goerr.Wrap(err, "failed to back up snapshot")
			}

			logger.Info("snapshot backed up", "bucket", cfg.backupBucket, "prefix", prefix)
			fmt.Fprintf(c.Root().Writer, "Backed up %s to gs://%s/%s\n", repo.Dir(), cfg.backupBucket, prefix)
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	var (
		cfg    config
		prefix string
	)

	flags := []cli.Flag{prefixFlag(&prefix)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, backupFlags(&cfg)...)

	return &cli.Command{
		Name:  "restore",
		Usage: "Replace the persisted snapshot with one from Cloud Storage. Stop the server first.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.load(c)
			if err != nil {
				return err
			}

			repo, err := cfg.newFileRepository()
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			defer storage.Close()

			snapshot, err := repo.Restore(ctx, storage, prefix)
			if err != nil {
				return goerr.Wrap(err, "failed to restore snapshot")
			}

			logger.Info("snapshot restored",
				"bucket", cfg.backupBucket,
				"prefix", prefix,
				"records", len(snapshot.Records),
				"repaired", snapshot.Repaired,
			)
			fmt.Fprintf(c.Root().Writer, "Restored %d activities into %s\n", len(snapshot.Records), repo.Dir())
			return nil
		},
	}
}
