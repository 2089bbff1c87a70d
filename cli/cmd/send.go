package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/command"
	"github.com/davroz/fotolink/transfer"
)

// SendCommand returns the send command: ask the server to stream a file
// or its stored capture.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Ask the server to stream a file (or LAST for the stored capture)",
		ArgsUsage: "<remote-path|LAST>",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file (default: remote file name in the current directory)",
			},
			connectFlag(),
		),
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one remote path argument", 1)
	}
	remote := c.Args().First()

	client, cleanup, err := setupClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.String("out")
	if out == "" {
		if remote == command.StoredCaptureName {
			out = "last.jpg"
		} else {
			out = filepath.Base(remote)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.Download(ctx, remote)
	if err == nil || (res != nil && len(res.Data) > 0) {
		if werr := writeResult(out, res); werr != nil {
			return cli.Exit(fmt.Sprintf("write failed: %v", werr), 1)
		}
	}

	return reportOutcome(res, out, err)
}

func writeResult(path string, res *transfer.Result) error {
	if res == nil || len(res.Data) == 0 {
		return nil
	}

	return os.WriteFile(path, res.Data, 0o644)
}
