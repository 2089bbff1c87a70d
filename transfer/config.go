package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/davroz/fotolink/logger"
)

// Default tuning values. The defaults match the field-proven settings of
// the reference deployment (57600 baud UART between a Raspberry Pi camera
// server and a headless client).
const (
	DefaultChunkSize      = 512
	DefaultRetryChunkSize = 64

	DefaultInterChunkDelay = 1 * time.Millisecond
	DefaultSettleDelay     = 100 * time.Millisecond

	DefaultMarkerTimeout     = 60 * time.Second
	DefaultHeaderTimeout     = 15 * time.Second
	DefaultInactivityTimeout = 60 * time.Second
	DefaultDrainTimeout      = 15 * time.Second
	DefaultAckTimeout        = 60 * time.Second
	DefaultReadyTimeout      = 30 * time.Second
	DefaultTrailerTimeout    = 1 * time.Second

	DefaultMaxRetries = 2

	// DefaultMaxPayloadSize bounds the declared size a receiver will
	// allocate for. The size header is a full unsigned 32-bit field, but a
	// multi-gigabyte declaration on a 57600 baud link is always garbage.
	DefaultMaxPayloadSize = 64 << 20
)

// Validation limits.
const (
	MinChunkSize = 1
	MaxChunkSize = 64 << 10

	MaxRetryLimit = 10
)

// maxWriteStalls is the number of consecutive partial-write anomalies
// tolerated before a send is aborted.
const maxWriteStalls = 5

// pollInterval is the short read timeout used by the byte-level poll loops
// (marker scan, line reads, payload reads). It bounds how often elapsed
// wall-clock time is re-checked.
const pollInterval = 50 * time.Millisecond

// Config holds the tuning parameters for a transfer session. Create one
// with NewConfig and the With* options; zero values are not usable.
type Config struct {
	chunkSize      int
	retryChunkSize int

	interChunkDelay time.Duration
	settleDelay     time.Duration

	markerTimeout     time.Duration
	headerTimeout     time.Duration
	inactivityTimeout time.Duration
	drainTimeout      time.Duration
	ackTimeout        time.Duration
	readyTimeout      time.Duration
	trailerTimeout    time.Duration

	maxRetries     int
	maxPayloadSize int

	sendTrailer bool
	readyPhase  bool

	contentProbe func(data []byte) error

	metrics *Metrics
	logger  logger.Logger
}

// NewConfig creates a transfer configuration with defaults, then applies
// the given options in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		chunkSize:         DefaultChunkSize,
		retryChunkSize:    DefaultRetryChunkSize,
		interChunkDelay:   DefaultInterChunkDelay,
		settleDelay:       DefaultSettleDelay,
		markerTimeout:     DefaultMarkerTimeout,
		headerTimeout:     DefaultHeaderTimeout,
		inactivityTimeout: DefaultInactivityTimeout,
		drainTimeout:      DefaultDrainTimeout,
		ackTimeout:        DefaultAckTimeout,
		readyTimeout:      DefaultReadyTimeout,
		trailerTimeout:    DefaultTrailerTimeout,
		maxRetries:        DefaultMaxRetries,
		maxPayloadSize:    DefaultMaxPayloadSize,
		sendTrailer:       true,
		readyPhase:        true,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// ChunkSize returns the bulk-send chunk size in bytes.
func (cfg *Config) ChunkSize() int { return cfg.chunkSize }

// RetryChunkSize returns the chunk size used for suffix retransmissions.
// Smaller than the bulk chunk size, trading speed for reliability on a
// link that has already demonstrated loss.
func (cfg *Config) RetryChunkSize() int { return cfg.retryChunkSize }

// InterChunkDelay returns the constant pause between chunk writes.
func (cfg *Config) InterChunkDelay() time.Duration { return cfg.interChunkDelay }

// SettleDelay returns the fixed pause after writing each preamble field.
func (cfg *Config) SettleDelay() time.Duration { return cfg.settleDelay }

// MarkerTimeout returns the maximum wait for a synchronization marker.
func (cfg *Config) MarkerTimeout() time.Duration { return cfg.markerTimeout }

// HeaderTimeout returns the maximum wait for the 4-byte size header.
func (cfg *Config) HeaderTimeout() time.Duration { return cfg.headerTimeout }

// InactivityTimeout returns the maximum payload-read stall before the
// receiver gives up with a partial buffer.
func (cfg *Config) InactivityTimeout() time.Duration { return cfg.inactivityTimeout }

// DrainTimeout returns the maximum wait for the outbound buffer to empty.
func (cfg *Config) DrainTimeout() time.Duration { return cfg.drainTimeout }

// AckTimeout returns the maximum wait for an acknowledgment line.
func (cfg *Config) AckTimeout() time.Duration { return cfg.ackTimeout }

// ReadyTimeout returns the maximum wait for the receiver's ACK_READY.
func (cfg *Config) ReadyTimeout() time.Duration { return cfg.readyTimeout }

// TrailerTimeout returns the bound on the receiver's cosmetic trailer drain.
func (cfg *Config) TrailerTimeout() time.Duration { return cfg.trailerTimeout }

// MaxRetries returns the maximum number of correction cycles per session.
func (cfg *Config) MaxRetries() int { return cfg.maxRetries }

// MaxPayloadSize returns the largest declared size a receiver accepts.
func (cfg *Config) MaxPayloadSize() int { return cfg.maxPayloadSize }

// SendTrailer returns whether the advisory trailer is written after a
// successful drain.
func (cfg *Config) SendTrailer() bool { return cfg.sendTrailer }

// ReadyPhase returns whether the optional ACK_READY pre-phase is used.
func (cfg *Config) ReadyPhase() bool { return cfg.readyPhase }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a transfer Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithChunkSize sets the bulk-send chunk size in bytes.
func WithChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("transfer: chunk size %d out of range [%d, %d]", n, MinChunkSize, MaxChunkSize)
		}
		cfg.chunkSize = n

		return nil
	})
}

// WithRetryChunkSize sets the chunk size for suffix retransmissions.
func WithRetryChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("transfer: retry chunk size %d out of range [%d, %d]", n, MinChunkSize, MaxChunkSize)
		}
		cfg.retryChunkSize = n

		return nil
	})
}

// WithInterChunkDelay sets the constant pause between chunk writes. The
// pacing is deliberately flat: no proximity-to-end slowdown.
func WithInterChunkDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("transfer: inter-chunk delay must not be negative")
		}
		cfg.interChunkDelay = d

		return nil
	})
}

// WithSettleDelay sets the fixed pause after each preamble field. Not
// proportional to payload size.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("transfer: settle delay must not be negative")
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithMarkerTimeout sets the maximum wait for a synchronization marker.
func WithMarkerTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: marker timeout must be positive")
		}
		cfg.markerTimeout = d

		return nil
	})
}

// WithHeaderTimeout sets the maximum wait for the size header.
func WithHeaderTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: header timeout must be positive")
		}
		cfg.headerTimeout = d

		return nil
	})
}

// WithInactivityTimeout sets the payload-read inactivity bound.
func WithInactivityTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: inactivity timeout must be positive")
		}
		cfg.inactivityTimeout = d

		return nil
	})
}

// WithDrainTimeout sets the bound on the post-send drain wait.
func WithDrainTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: drain timeout must be positive")
		}
		cfg.drainTimeout = d

		return nil
	})
}

// WithAckTimeout sets the bound on the acknowledgment wait.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: ack timeout must be positive")
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithReadyTimeout sets the bound on the ACK_READY pre-phase wait.
func WithReadyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: ready timeout must be positive")
		}
		cfg.readyTimeout = d

		return nil
	})
}

// WithTrailerTimeout sets the bound on the receiver's trailer drain.
func WithTrailerTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: trailer timeout must be positive")
		}
		cfg.trailerTimeout = d

		return nil
	})
}

// WithMaxRetries sets the maximum number of correction cycles per session.
func WithMaxRetries(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("transfer: max retries %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.maxRetries = n

		return nil
	})
}

// WithMaxPayloadSize sets the largest declared size a receiver accepts.
func WithMaxPayloadSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("transfer: max payload size must be positive")
		}
		cfg.maxPayloadSize = n

		return nil
	})
}

// WithTrailer enables or disables the advisory end marker and trailer text.
func WithTrailer(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.sendTrailer = enabled

		return nil
	})
}

// WithReadyPhase enables or disables the optional ACK_READY pre-phase.
func WithReadyPhase(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.readyPhase = enabled

		return nil
	})
}

// WithContentProbe registers an advisory payload inspector. The receiver
// calls it on the assembled buffer and logs a warning if it returns an
// error. It never affects the session outcome; completion is decided
// solely by byte count.
func WithContentProbe(probe func(data []byte) error) Option {
	return optFunc(func(cfg *Config) error {
		cfg.contentProbe = probe

		return nil
	})
}

// WithMetrics attaches a shared Metrics collector. Sessions created from
// the same Config accumulate into it; without this option each session
// allocates its own.
func WithMetrics(m *Metrics) Option {
	return optFunc(func(cfg *Config) error {
		if m == nil {
			return errors.New("transfer: metrics must not be nil")
		}
		cfg.metrics = m

		return nil
	})
}

// WithLogger sets the logger for sessions using this configuration.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("transfer: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
