package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/logger"
)

// CaptureCommand returns the capture command: capture and store a photo
// on the server without downloading it.
func CaptureCommand() *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Capture a photo on the server and store it for a later send",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    "resolution",
				Aliases: []string{"r"},
				Usage:   "Capture resolution name",
				Value:   "THUMBNAIL",
			},
			connectFlag(),
		),
		Action: captureAction,
	}
}

func captureAction(c *cli.Context) error {
	client, cleanup, err := setupClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	size, err := client.Capture(ctx, c.String("resolution"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("capture failed: %v", err), 1)
	}

	logger.Info("capture stored on server", "bytes", size)

	return nil
}
