package cmd

import (
	"errors"
	"fmt"
	"net"

	"github.com/davroz/fotolink/cli/config"
	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/serialport"
	"github.com/davroz/fotolink/transfer"
)

// openClientLink opens the link a client command talks on: a serial
// device, or a TCP connection when the config names one.
func openClientLink(cfg *config.Config) (transfer.Link, error) {
	if cfg.Connect != "" {
		conn, err := net.Dial("tcp", cfg.Connect)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Connect, err)
		}
		logger.Info("connected", "addr", cfg.Connect)

		return transfer.NewConnLink(conn), nil
	}

	if cfg.Device != "" {
		return serialport.Open(cfg.Device, cfg.SerialSettings(), logger.GetLogger())
	}

	return nil, errors.New("no link configured: set --device or connect: in the config file")
}

// newTransferConfig builds the transfer configuration for a command,
// applying extra options after the config file's.
func newTransferConfig(cfg *config.Config, extra ...transfer.Option) (*transfer.Config, error) {
	return transfer.NewConfig(append(cfg.TransferOptions(), extra...)...)
}
