package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// readDocument reads a JSON or YAML object from path, or from the command
// input when path is empty or "-"
func readDocument(c *cli.Command, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(c.Root().Reader)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read input", goerr.V("path", path))
	}

	// YAML is a superset of JSON, so one decoder serves both
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input", goerr.V("path", path))
	}
	if doc == nil {
		return nil, goerr.New("input must be an object", goerr.V("path", path))
	}
	return doc, nil
}

func writeJSON(c *cli.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(c.Root().Writer, "%s\n", string(data))
	return nil
}

func inputFlag(path *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "input",
		Aliases:     []string{"i"},
		Usage:       "Path to a JSON or YAML file, \"-\" or empty for stdin",
		Destination: path,
	}
}

func resolveCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
	)

	flags := []cli.Flag{inputFlag(&inputPath)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)
	flags = append(flags, embedderFlags(&cfg)...)

	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve a single activity to its canonical id",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.load(c); err != nil {
				return err
			}

			doc, err := readDocument(c, inputPath)
			if err != nil {
				return err
			}

			embedder, err := cfg.newEmbedder(ctx)
			if err != nil {
				return err
			}
			uc, closeUC, err := cfg.newUseCase(ctx, embedder, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			res, err := uc.ResolveActivity(ctx, model.Activity(doc))
			if err != nil {
				return goerr.Wrap(err, "failed to resolve activity")
			}
			return writeJSON(c, res)
		},
	}
}

func planCommand() *cli.Command {
	var (
		cfg        config
		inputPath  string
		withReport bool
	)

	flags := []cli.Flag{
		inputFlag(&inputPath),
		&cli.BoolFlag{
			Name:        "report",
			Usage:       "Print the resolution report along with the annotated plan",
			Destination: &withReport,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, resolverFlags(&cfg)...)
	flags = append(flags, embedderFlags(&cfg)...)

	return &cli.Command{
		Name:  "plan",
		Usage: "Annotate every activity of a trip plan with its canonical id",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := cfg.load(c)
			if err != nil {
				return err
			}

			doc, err := readDocument(c, inputPath)
			if err != nil {
				return err
			}

			embedder, err := cfg.newEmbedder(ctx)
			if err != nil {
				return err
			}
			uc, closeUC, err := cfg.newUseCase(ctx, embedder, nil)
			if err != nil {
				return err
			}
			defer closeUC()

			plan, report, err := uc.ResolveTripPlan(ctx, model.TripPlan(doc))
			if err != nil {
				return goerr.Wrap(err, "failed to resolve trip plan")
			}

			logger.Info("trip plan resolved",
				"created", report.Created,
				"matched", report.Matched,
				"degraded", report.Degraded,
			)

			if withReport {
				return writeJSON(c, map[string]any{"plan": plan, "report": report})
			}
			return writeJSON(c, plan)
		},
	}
}
