// Package camera captures JPEG photos for transfer over the serial link.
//
// The primary capture path executes rpicam-still and collects the JPEG
// from its stdout. When the hardware path is disabled or fails, a
// configured fallback image file is served instead, so the rest of the
// pipeline can be exercised on machines without a camera.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/davroz/fotolink/logger"
)

// ErrNoImage indicates that neither the camera nor the fallback image
// produced any data.
var ErrNoImage = errors.New("camera: no image available")

// DefaultBinary is the capture executable invoked for hardware captures.
const DefaultBinary = "rpicam-still"

// DefaultCaptureTimeout bounds one rpicam-still invocation.
const DefaultCaptureTimeout = 8 * time.Second

// DefaultResolution is used when a requested size name is unknown.
const DefaultResolution = "THUMBNAIL"

// Camera captures photos at named resolutions. Create one with New.
type Camera struct {
	binary         string
	useHardware    bool
	fallbackImage  string
	captureTimeout time.Duration
	resolutions    map[string]Resolution
	logger         logger.Logger
}

// Option is a functional option for configuring a Camera.
type Option interface {
	apply(*Camera) error
}

type optFunc func(*Camera) error

func (f optFunc) apply(c *Camera) error { return f(c) }

// WithBinary sets the capture executable. Mostly useful for tests.
func WithBinary(path string) Option {
	return optFunc(func(c *Camera) error {
		if path == "" {
			return errors.New("camera: binary must not be empty")
		}
		c.binary = path

		return nil
	})
}

// WithHardware enables or disables the rpicam-still capture path. With
// hardware disabled only the fallback image is served.
func WithHardware(enabled bool) Option {
	return optFunc(func(c *Camera) error {
		c.useHardware = enabled

		return nil
	})
}

// WithFallbackImage sets the image file served when capture fails or the
// hardware path is disabled.
func WithFallbackImage(path string) Option {
	return optFunc(func(c *Camera) error {
		c.fallbackImage = path

		return nil
	})
}

// WithCaptureTimeout bounds one capture invocation.
func WithCaptureTimeout(d time.Duration) Option {
	return optFunc(func(c *Camera) error {
		if d <= 0 {
			return errors.New("camera: capture timeout must be positive")
		}
		c.captureTimeout = d

		return nil
	})
}

// WithResolutions replaces the resolution table.
func WithResolutions(table map[string]Resolution) Option {
	return optFunc(func(c *Camera) error {
		if len(table) == 0 {
			return errors.New("camera: resolution table must not be empty")
		}
		if _, ok := table[DefaultResolution]; !ok {
			return fmt.Errorf("camera: resolution table must define %s", DefaultResolution)
		}
		c.resolutions = table

		return nil
	})
}

// WithLogger sets the camera's logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(c *Camera) error {
		if l == nil {
			return errors.New("camera: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}

// New creates a Camera with the hardware path enabled and the default
// resolution table, then applies the given options.
func New(opts ...Option) (*Camera, error) {
	c := &Camera{
		binary:         DefaultBinary,
		useHardware:    true,
		captureTimeout: DefaultCaptureTimeout,
		resolutions:    DefaultResolutions(),
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Capture takes one photo at the named resolution and returns the JPEG
// bytes. Unknown size names fall back to the default resolution with a
// warning rather than failing: a stale client must still get a photo.
//
// Returns ErrNoImage when both the hardware and the fallback path come up
// empty.
func (c *Camera) Capture(ctx context.Context, sizeName string) ([]byte, error) {
	res, ok := LookupResolution(c.resolutions, sizeName)
	if !ok {
		c.logger.Warn("unknown resolution, using default",
			"requested", sizeName,
			"default", DefaultResolution,
		)
	}

	if c.useHardware {
		data, err := c.captureHardware(ctx, res)
		if err == nil {
			return data, nil
		}
		c.logger.Warn("hardware capture failed, trying fallback", "error", err)
	}

	if data := c.loadFallback(); data != nil {
		return data, nil
	}

	c.logger.Error("no image from camera or fallback")

	return nil, ErrNoImage
}

// CaptureToFile captures a photo and writes it to outPath, returning the
// number of bytes written.
func (c *Camera) CaptureToFile(ctx context.Context, outPath, sizeName string) (int, error) {
	data, err := c.Capture(ctx, sizeName)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("camera: write %s: %w", outPath, err)
	}

	c.logger.Info("image saved", "path", outPath, "bytes", len(data))

	return len(data), nil
}

func (c *Camera) captureHardware(ctx context.Context, res Resolution) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.captureTimeout)
	defer cancel()

	c.logger.Info("capturing photo",
		"width", res.Width,
		"height", res.Height,
		"timeout", c.captureTimeout,
	)

	cmd := exec.CommandContext(ctx, c.binary,
		"-n",
		"-t", "1",
		"--width", strconv.Itoa(res.Width),
		"--height", strconv.Itoa(res.Height),
		"-o", "-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera: %s: %w (stderr: %.120s)", c.binary, err, stderr.String())
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("camera: %s produced no output", c.binary)
	}

	return stdout.Bytes(), nil
}

func (c *Camera) loadFallback() []byte {
	if c.fallbackImage == "" {
		return nil
	}

	data, err := os.ReadFile(c.fallbackImage)
	if err != nil {
		c.logger.Warn("fallback image unreadable", "path", c.fallbackImage, "error", err)

		return nil
	}

	c.logger.Info("serving fallback image", "path", c.fallbackImage, "bytes", len(data))

	return data
}
