package cmd

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/camera"
	"github.com/davroz/fotolink/cli/config"
	"github.com/davroz/fotolink/command"
	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/serialport"
	"github.com/davroz/fotolink/transfer"
)

// ServeCommand returns the serve command: the photo server side of the
// link.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Answer photo commands on a serial device or TCP listener",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "TCP listen address instead of a serial device (bench testing)",
			},
			&cli.StringFlag{
				Name:  "fallback-image",
				Usage: "Image file served when the camera fails",
			},
			&cli.BoolFlag{
				Name:  "no-camera",
				Usage: "Disable the rpicam-still capture path",
			},
			&cli.StringFlag{
				Name:  "last-image",
				Usage: "Where the most recent capture is persisted",
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if listen := c.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	if fallback := c.String("fallback-image"); fallback != "" {
		cfg.Camera.FallbackImage = fallback
	}
	if c.Bool("no-camera") {
		disabled := false
		cfg.Camera.Hardware = &disabled
	}
	if last := c.String("last-image"); last != "" {
		cfg.LastImagePath = last
	}

	camOpts, err := cfg.CameraOptions()
	if err != nil {
		return err
	}
	cam, err := camera.New(camOpts...)
	if err != nil {
		return err
	}

	tcfg, err := newTransferConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.Listen != "":
		return serveTCP(ctx, cfg, cam, tcfg)
	case cfg.Device != "":
		return serveDevice(ctx, cfg, cam, tcfg)
	default:
		return errors.New("no link configured: set --device or --listen")
	}
}

func serveDevice(ctx context.Context, cfg *config.Config, cam *camera.Camera, tcfg *transfer.Config) error {
	port, err := serialport.Open(cfg.Device, cfg.SerialSettings(), logger.GetLogger())
	if err != nil {
		return err
	}
	defer port.Close()

	srv, err := newServer(port, cam, tcfg, cfg)
	if err != nil {
		return err
	}

	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("server stopped")

		return nil
	}

	return err
}

// serveTCP accepts connections one at a time; the protocol is
// single-peer by nature.
func serveTCP(ctx context.Context, cfg *config.Config, cam *camera.Camera, tcfg *transfer.Config) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("listening", "addr", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("server stopped")

				return nil
			}

			return err
		}

		logger.Info("peer connected", "remote", conn.RemoteAddr())

		srv, err := newServer(transfer.NewConnLink(conn), cam, tcfg, cfg)
		if err != nil {
			_ = conn.Close()

			return err
		}

		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("peer session ended", "error", err)
		}
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func newServer(link transfer.Link, cam *camera.Camera, tcfg *transfer.Config, cfg *config.Config) (*command.Server, error) {
	var opts []command.ServerOption
	if cfg.LastImagePath != "" {
		opts = append(opts, command.WithLastImagePath(cfg.LastImagePath))
	}

	return command.NewServer(link, cam, tcfg, opts...)
}
