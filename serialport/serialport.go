// Package serialport opens a serial device as a transfer.Link.
//
// It is a thin shim over go.bug.st/serial: the library's read-timeout
// semantics (a timed-out read returns 0 bytes and no error) are exactly
// the Link contract, so reads and writes pass straight through. Drain is
// adapted to honor a context.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/davroz/fotolink/logger"
	"github.com/davroz/fotolink/transfer"
)

// Default port settings, matching the reference deployment.
const (
	DefaultBaudRate    = 57600
	DefaultDataBits    = 8
	DefaultParity      = "none"
	DefaultStopBits    = 1
	DefaultScrubCycles = 5

	scrubInterval = 100 * time.Millisecond
)

// Settings configures a serial device.
type Settings struct {
	BaudRate int
	DataBits int

	// Parity is one of "none", "odd", "even".
	Parity string

	// StopBits is 1 or 2.
	StopBits int

	// ScrubCycles is how many times the input and output buffers are
	// reset after opening. Serial lines accumulate garbage while nothing
	// is attached; several spaced resets clear late arrivals too.
	ScrubCycles int
}

// DefaultSettings returns the default 57600 8N1 settings.
func DefaultSettings() Settings {
	return Settings{
		BaudRate:    DefaultBaudRate,
		DataBits:    DefaultDataBits,
		Parity:      DefaultParity,
		StopBits:    DefaultStopBits,
		ScrubCycles: DefaultScrubCycles,
	}
}

func (s Settings) mode() (*serial.Mode, error) {
	if s.BaudRate <= 0 {
		return nil, fmt.Errorf("serialport: baud rate must be positive, got %d", s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return nil, fmt.Errorf("serialport: data bits must be 5..8, got %d", s.DataBits)
	}

	parity, err := parseParity(s.Parity)
	if err != nil {
		return nil, err
	}

	stopBits, err := parseStopBits(s.StopBits)
	if err != nil {
		return nil, err
	}

	return &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

func parseParity(name string) (serial.Parity, error) {
	switch name {
	case "", "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	default:
		return serial.NoParity, fmt.Errorf("serialport: unknown parity %q", name)
	}
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("serialport: stop bits must be 1 or 2, got %d", n)
	}
}

// Port is an open serial device implementing transfer.Link.
type Port struct {
	port   serial.Port
	device string
	logger logger.Logger
}

var _ transfer.Link = (*Port)(nil)

// Open opens the serial device with the given settings and scrubs its
// buffers.
func Open(device string, settings Settings, l logger.Logger) (*Port, error) {
	if device == "" {
		return nil, errors.New("serialport: device must not be empty")
	}
	if l == nil {
		l = logger.GetLogger()
	}

	mode, err := settings.mode()
	if err != nil {
		return nil, err
	}

	raw, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", device, err)
	}

	p := &Port{port: raw, device: device, logger: l}
	p.scrub(settings.ScrubCycles)

	l.Info("serial port opened",
		"device", device,
		"baud", settings.BaudRate,
		"dataBits", settings.DataBits,
		"parity", settings.Parity,
		"stopBits", settings.StopBits,
	)

	return p, nil
}

// scrub repeatedly resets both buffers with a pause between cycles.
func (p *Port) scrub(cycles int) {
	for i := 0; i < cycles; i++ {
		if err := p.port.ResetInputBuffer(); err != nil {
			p.logger.Warn("input buffer reset failed", "error", err)
		}
		if err := p.port.ResetOutputBuffer(); err != nil {
			p.logger.Warn("output buffer reset failed", "error", err)
		}

		time.Sleep(scrubInterval)
	}
}

func (p *Port) Read(buf []byte) (int, error)  { return p.port.Read(buf) }
func (p *Port) Write(buf []byte) (int, error) { return p.port.Write(buf) }

func (p *Port) Close() error {
	p.logger.Info("serial port closed", "device", p.device)

	return p.port.Close()
}

// SetReadTimeout bounds subsequent reads. A timed-out read returns
// (0, nil), per the Link contract.
func (p *Port) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

// Drain blocks until the kernel's outbound buffer is physically
// transmitted, or ctx is done. The underlying drain cannot be
// interrupted; on cancellation it is left to finish in the background.
func (p *Port) Drain(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.port.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("serialport: drain %s: %w", p.device, err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Port) ResetInputBuffer() error  { return p.port.ResetInputBuffer() }
func (p *Port) ResetOutputBuffer() error { return p.port.ResetOutputBuffer() }
