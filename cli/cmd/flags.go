// Package cmd provides the CLI commands for the fotolink binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/davroz/fotolink/cli/config"
	"github.com/davroz/fotolink/logger"
)

// Shared flags. Flag values override config file values.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a fotolink.yaml config file",
	}

	deviceFlag = &cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "Serial device path, e.g. /dev/ttyUSB0",
	}

	baudFlag = &cli.IntFlag{
		Name:  "baud",
		Usage: "Serial baud rate",
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		configFlag,
		deviceFlag,
		baudFlag,
		debugFlag,
	}
}

// loadConfig builds the effective configuration: the config file (when
// given), overridden by flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if device := c.String("device"); device != "" {
		cfg.Device = device
	}
	if baud := c.Int("baud"); baud > 0 {
		cfg.Serial.Baud = baud
	}

	if c.Bool("debug") {
		logger.SetLevel(logger.DebugLevel)
	}

	return cfg, nil
}
