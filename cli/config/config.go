// Package config loads the fotolink YAML configuration file.
//
// All values are optional and act as defaults for command-line flags;
// flags always override config values.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davroz/fotolink/camera"
	"github.com/davroz/fotolink/serialport"
	"github.com/davroz/fotolink/transfer"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "100ms" or "15s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents a fotolink.yaml configuration file.
type Config struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0. Mutually
	// exclusive with the TCP fields.
	Device string `yaml:"device"`

	// Listen is a TCP address the server accepts on instead of a serial
	// device. Intended for bench testing without hardware.
	Listen string `yaml:"listen"`

	// Connect is a TCP address the client dials instead of a serial
	// device.
	Connect string `yaml:"connect"`

	Serial   SerialConfig   `yaml:"serial"`
	Transfer TransferConfig `yaml:"transfer"`
	Camera   CameraConfig   `yaml:"camera"`

	// LastImagePath is where the server persists the most recent capture.
	LastImagePath string `yaml:"last_image_path"`

	// ResponseTimeout bounds the client's wait for an OK|/BAD| line.
	ResponseTimeout Duration `yaml:"response_timeout"`
}

// SerialConfig holds serial port defaults.
type SerialConfig struct {
	Baud        int    `yaml:"baud"`
	DataBits    int    `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    int    `yaml:"stop_bits"`
	ScrubCycles int    `yaml:"scrub_cycles"`
}

// TransferConfig holds transfer session defaults.
type TransferConfig struct {
	ChunkSize      int `yaml:"chunk_size"`
	RetryChunkSize int `yaml:"retry_chunk_size"`

	InterChunkDelay Duration `yaml:"inter_chunk_delay"`
	SettleDelay     Duration `yaml:"settle_delay"`

	MarkerTimeout     Duration `yaml:"marker_timeout"`
	InactivityTimeout Duration `yaml:"inactivity_timeout"`
	DrainTimeout      Duration `yaml:"drain_timeout"`
	AckTimeout        Duration `yaml:"ack_timeout"`

	MaxRetries *int `yaml:"max_retries"`

	Trailer    *bool `yaml:"trailer"`
	ReadyPhase *bool `yaml:"ready_phase"`
}

// CameraConfig holds capture defaults.
type CameraConfig struct {
	Hardware        *bool    `yaml:"hardware"`
	FallbackImage   string   `yaml:"fallback_image"`
	CaptureTimeout  Duration `yaml:"capture_timeout"`
	ResolutionsFile string   `yaml:"resolutions_file"`
}

// Default returns a Config carrying the built-in defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud:        serialport.DefaultBaudRate,
			DataBits:    serialport.DefaultDataBits,
			Parity:      serialport.DefaultParity,
			StopBits:    serialport.DefaultStopBits,
			ScrubCycles: serialport.DefaultScrubCycles,
		},
	}
}

// SerialSettings builds serial port settings from the config, falling
// back to package defaults for unset fields.
func (c *Config) SerialSettings() serialport.Settings {
	s := serialport.DefaultSettings()

	if c.Serial.Baud > 0 {
		s.BaudRate = c.Serial.Baud
	}
	if c.Serial.DataBits > 0 {
		s.DataBits = c.Serial.DataBits
	}
	if c.Serial.Parity != "" {
		s.Parity = c.Serial.Parity
	}
	if c.Serial.StopBits > 0 {
		s.StopBits = c.Serial.StopBits
	}
	if c.Serial.ScrubCycles > 0 {
		s.ScrubCycles = c.Serial.ScrubCycles
	}

	return s
}

// TransferOptions builds transfer options from the set fields. Unset
// fields keep the transfer package defaults.
func (c *Config) TransferOptions() []transfer.Option {
	var opts []transfer.Option

	t := c.Transfer
	if t.ChunkSize > 0 {
		opts = append(opts, transfer.WithChunkSize(t.ChunkSize))
	}
	if t.RetryChunkSize > 0 {
		opts = append(opts, transfer.WithRetryChunkSize(t.RetryChunkSize))
	}
	if t.InterChunkDelay > 0 {
		opts = append(opts, transfer.WithInterChunkDelay(t.InterChunkDelay.Std()))
	}
	if t.SettleDelay > 0 {
		opts = append(opts, transfer.WithSettleDelay(t.SettleDelay.Std()))
	}
	if t.MarkerTimeout > 0 {
		opts = append(opts, transfer.WithMarkerTimeout(t.MarkerTimeout.Std()))
	}
	if t.InactivityTimeout > 0 {
		opts = append(opts, transfer.WithInactivityTimeout(t.InactivityTimeout.Std()))
	}
	if t.DrainTimeout > 0 {
		opts = append(opts, transfer.WithDrainTimeout(t.DrainTimeout.Std()))
	}
	if t.AckTimeout > 0 {
		opts = append(opts, transfer.WithAckTimeout(t.AckTimeout.Std()))
	}
	if t.MaxRetries != nil {
		opts = append(opts, transfer.WithMaxRetries(*t.MaxRetries))
	}
	if t.Trailer != nil {
		opts = append(opts, transfer.WithTrailer(*t.Trailer))
	}
	if t.ReadyPhase != nil {
		opts = append(opts, transfer.WithReadyPhase(*t.ReadyPhase))
	}

	return opts
}

// CameraOptions builds camera options from the set fields.
func (c *Config) CameraOptions() ([]camera.Option, error) {
	var opts []camera.Option

	cam := c.Camera
	if cam.Hardware != nil {
		opts = append(opts, camera.WithHardware(*cam.Hardware))
	}
	if cam.FallbackImage != "" {
		opts = append(opts, camera.WithFallbackImage(cam.FallbackImage))
	}
	if cam.CaptureTimeout > 0 {
		opts = append(opts, camera.WithCaptureTimeout(cam.CaptureTimeout.Std()))
	}
	if cam.ResolutionsFile != "" {
		table, err := camera.LoadResolutions(cam.ResolutionsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, camera.WithResolutions(table))
	}

	return opts, nil
}
