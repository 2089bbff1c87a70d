// Package main provides the fotolink CLI entrypoint.
//
// fotolink moves captured photos over a half-duplex serial link using a
// marker-framed, acknowledgment-driven transfer protocol.
//
// Usage:
//
//	fotolink serve   --device /dev/ttyUSB0
//	fotolink fetch   --device /dev/ttyUSB0 --resolution FULL_HD
//	fotolink capture --device /dev/ttyUSB0 --resolution FULL_HD
//	fotolink send    LAST --device /dev/ttyUSB0
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/cli/cmd"
	"github.com/davroz/fotolink/logger"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "fotolink",
		Usage:   "Photo transfer over half-duplex serial links",
		Version: fmt.Sprintf("%s (commit: %s)", cmd.Version, commit),
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.FetchCommand(),
			cmd.CaptureCommand(),
			cmd.SendCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if _, ok := err.(cli.ExitCoder); !ok {
			logger.Error("command failed", "error", err)
			os.Exit(1)
		}
	}
}
