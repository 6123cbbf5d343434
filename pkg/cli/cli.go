package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/actid/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	return run(ctx, argv, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) *Error {
	cmd := &cli.Command{
		Name:      "actid",
		Usage:     "Activity identity resolution engine",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Commands: []*cli.Command{
			serveCommand(),
			resolveCommand(),
			planCommand(),
			statsCommand(),
			cleanupCommand(),
			rebuildCommand(),
			showCommand(),
			listCommand(),
			exportCommand(),
			backupCommand(),
			restoreCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
