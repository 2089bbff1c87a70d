package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/davroz/fotolink/logger"
)

// transmitter writes frames and suffix retransmissions onto the link with
// constant-rate pacing and a verified drain before the acknowledgment wait.
//
// Not goroutine-safe; the session drives it from a single goroutine,
// consistent with the half-duplex link.
type transmitter struct {
	link    Link
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics
}

func newTransmitter(link Link, cfg *Config, l logger.Logger, m *Metrics) *transmitter {
	return &transmitter{
		link:    link,
		cfg:     cfg,
		logger:  l,
		metrics: m,
	}
}

// sendFrame transmits a complete frame: start marker, size header, chunked
// payload, verified drain, then the optional advisory trailer.
//
// The settle delays after the preamble fields are fixed; they do not scale
// with payload size or proximity to end of stream.
func (tx *transmitter) sendFrame(ctx context.Context, payload []byte) error {
	if err := tx.writeAll(StartMarker); err != nil {
		return fmt.Errorf("transfer: write start marker: %w", err)
	}
	tx.settle(ctx)

	if err := tx.writeAll(encodeSizeHeader(uint32(len(payload)))); err != nil { //nolint:gosec // length bounded by maxPayloadSize
		return fmt.Errorf("transfer: write size header: %w", err)
	}
	tx.settle(ctx)

	if err := tx.sendChunked(ctx, payload, tx.cfg.chunkSize); err != nil {
		return err
	}

	if err := tx.drain(ctx); err != nil {
		return err
	}

	tx.metrics.incFrameSendCount()

	if tx.cfg.sendTrailer {
		// Advisory only. Written after the drain so it cannot delay the
		// payload, and never relied on by the receiver for completion.
		if err := tx.writeAll(EndMarker); err != nil {
			return fmt.Errorf("transfer: write end marker: %w", err)
		}
		if err := tx.writeAll([]byte(TrailerText)); err != nil {
			return fmt.Errorf("transfer: write trailer text: %w", err)
		}
	}

	return nil
}

// sendSuffix transmits a correction: the retry marker followed by
// payload[offset:], using the smaller retry chunk size.
//
// No size header accompanies a correction; the length is implicit from the
// prior acknowledgment exchange.
func (tx *transmitter) sendSuffix(ctx context.Context, payload []byte, offset int) error {
	if offset < 0 || offset >= len(payload) {
		return fmt.Errorf("transfer: suffix offset %d out of range [0, %d)", offset, len(payload))
	}

	if err := tx.writeAll(RetryMarker); err != nil {
		return fmt.Errorf("transfer: write retry marker: %w", err)
	}
	tx.settle(ctx)

	tx.logger.Info("retransmitting payload suffix",
		"offset", offset,
		"bytes", len(payload)-offset,
	)

	if err := tx.sendChunked(ctx, payload[offset:], tx.cfg.retryChunkSize); err != nil {
		return err
	}

	if err := tx.drain(ctx); err != nil {
		return err
	}

	tx.metrics.incRetrySendCount()

	return nil
}

// sendChunked writes data in chunks of at most chunkSize bytes with a
// constant inter-chunk delay.
//
// The cursor advances only by the bytes the link actually accepted; a
// partial write is a warning and the remainder is retried on the next
// iteration. Five consecutive partial-write anomalies abort the send.
func (tx *transmitter) sendChunked(ctx context.Context, data []byte, chunkSize int) error {
	sent := 0
	stalls := 0
	lastPct := 0

	for sent < len(data) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := sent + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[sent:end]

		n, err := tx.link.Write(chunk)
		sent += n
		tx.metrics.addBytesSent(n)

		if err != nil {
			return fmt.Errorf("transfer: write payload at byte %d: %w", sent, err)
		}

		if n < len(chunk) {
			stalls++
			tx.logger.Warn("partial chunk write",
				"accepted", n,
				"chunk", len(chunk),
				"stalls", stalls,
			)
			if stalls >= maxWriteStalls {
				return fmt.Errorf("%w: %d consecutive partial writes at byte %d", ErrWriteStalled, stalls, sent)
			}
		} else {
			stalls = 0
		}

		if tx.cfg.interChunkDelay > 0 {
			tx.sleep(ctx, tx.cfg.interChunkDelay)
		}

		if pct := progressPct(sent, len(data)); pct-lastPct >= 10 {
			tx.logger.Debug("send progress", "sent", sent, "total", len(data), "pct", pct)
			lastPct = pct
		}
	}

	return nil
}

// drain blocks until the link's outbound buffer is physically empty, up to
// the configured drain timeout. Failing to drain is a transmission
// failure: proceeding to the acknowledgment wait before the peer has the
// bytes would mis-diagnose loss.
func (tx *transmitter) drain(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, tx.cfg.drainTimeout)
	defer cancel()

	if err := tx.link.Drain(dctx); err != nil {
		tx.metrics.incDrainTimeoutCount()

		return fmt.Errorf("%w: %w", ErrDrainTimeout, err)
	}

	return nil
}

func (tx *transmitter) writeAll(data []byte) error {
	for written := 0; written < len(data); {
		n, err := tx.link.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

func (tx *transmitter) settle(ctx context.Context) {
	if tx.cfg.settleDelay > 0 {
		tx.sleep(ctx, tx.cfg.settleDelay)
	}
}

func (tx *transmitter) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func progressPct(done, total int) int {
	if total == 0 {
		return 100
	}

	return done * 100 / total
}
