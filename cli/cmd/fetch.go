package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/camera"
	"github.com/davroz/fotolink/command"
	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/transfer"
)

// FetchCommand returns the fetch command: capture a photo on the server
// and receive it.
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Capture a photo on the server and download it",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    "resolution",
				Aliases: []string{"r"},
				Usage:   "Capture resolution name (THUMBNAIL, LOW_LIGHT, HD_READY, FULL_HD, ULTRA_WIDE)",
				Value:   "THUMBNAIL",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file (default photo_<timestamp>.jpg)",
			},
			connectFlag(),
		),
		Action: fetchAction,
	}
}

func connectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "connect",
		Usage: "TCP address of a fotolink server instead of a serial device",
	}
}

func fetchAction(c *cli.Context) error {
	client, cleanup, err := setupClient(c)
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.String("out")
	if out == "" {
		out = fmt.Sprintf("photo_%s.jpg", time.Now().Format("20060102_150405"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.FetchToFile(ctx, c.String("resolution"), out)
	return reportOutcome(res, out, err)
}

// setupClient builds the command client for a client-side action.
func setupClient(c *cli.Context) (*command.Client, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	if connect := c.String("connect"); connect != "" {
		cfg.Connect = connect
	}

	link, err := openClientLink(cfg)
	if err != nil {
		return nil, nil, err
	}

	tcfg, err := newTransferConfig(cfg, transfer.WithContentProbe(camera.ProbeJPEG))
	if err != nil {
		_ = link.Close()

		return nil, nil, err
	}

	var opts []command.ClientOption
	if cfg.ResponseTimeout > 0 {
		opts = append(opts, command.WithResponseTimeout(cfg.ResponseTimeout.Std()))
	}

	client, err := command.NewClient(link, tcfg, opts...)
	if err != nil {
		_ = link.Close()

		return nil, nil, err
	}

	return client, func() { _ = link.Close() }, nil
}

// reportOutcome translates a transfer result into CLI output and exit
// status. A partial download keeps its file on disk and still fails the
// command.
func reportOutcome(res *transfer.Result, out string, err error) error {
	if err == nil {
		logger.Info("photo saved", "path", out, "bytes", len(res.Data))

		return nil
	}

	if res != nil && len(res.Data) > 0 {
		logger.Warn("partial photo saved",
			"path", out,
			"received", len(res.Data),
			"declared", res.DeclaredSize,
		)
	}

	return cli.Exit(fmt.Sprintf("download failed: %v", err), 1)
}
