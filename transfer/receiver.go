package transfer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/davroz/fotolink/logger"
)

// readChunkSize is the receiver's per-read buffer size during the payload
// phase.
const readChunkSize = 4096

// receiver locates frames in the incoming byte stream and reads their
// payload by exact byte count.
//
// Not goroutine-safe; the session drives it from a single goroutine.
type receiver struct {
	link    Link
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics
}

func newReceiver(link Link, cfg *Config, l logger.Logger, m *Metrics) *receiver {
	return &receiver{
		link:    link,
		cfg:     cfg,
		logger:  l,
		metrics: m,
	}
}

// scanMarker consumes single bytes from the link, keeping a sliding window
// of the most recent bytes, until the window matches the start marker or
// the timeout elapses.
//
// When acceptRetry is true the 4-byte retry marker is also recognized, for
// a link that is mid-correction. A retry pattern arriving while
// acceptRetry is false is ordinary noise: corrections are only meaningful
// once a frame has been synchronized.
func (rx *receiver) scanMarker(ctx context.Context, acceptRetry bool, timeout time.Duration) (markerKind, error) {
	if err := rx.link.SetReadTimeout(pollInterval); err != nil {
		return markerNone, fmt.Errorf("transfer: set read timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	window := make([]byte, 0, startMarkerLen)
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return markerNone, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return markerNone, fmt.Errorf("%w: no marker within %v", ErrMarkerTimeout, timeout)
		}

		n, err := rx.link.Read(buf)
		if err != nil {
			return markerNone, fmt.Errorf("transfer: marker scan: %w", err)
		}
		if n == 0 {
			continue
		}

		window = append(window, buf[0])
		if len(window) > startMarkerLen {
			window = window[1:]
		}

		if len(window) == startMarkerLen && bytes.Equal(window, StartMarker) {
			return markerStart, nil
		}

		if acceptRetry && len(window) >= retryMarkerLen &&
			bytes.Equal(window[len(window)-retryMarkerLen:], RetryMarker) {
			return markerRetry, nil
		}
	}
}

// readSizeHeader accumulates exactly 4 bytes and decodes them as the
// big-endian payload length. Partial reads are allowed and looped; an
// under-read within the header timeout fails with ErrHeaderTimeout.
func (rx *receiver) readSizeHeader(ctx context.Context) (int, error) {
	if err := rx.link.SetReadTimeout(pollInterval); err != nil {
		return 0, fmt.Errorf("transfer: set read timeout: %w", err)
	}

	deadline := time.Now().Add(rx.cfg.headerTimeout)
	header := make([]byte, 0, sizeHeaderLen)
	buf := make([]byte, sizeHeaderLen)

	for len(header) < sizeHeaderLen {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: got %d of %d bytes", ErrHeaderTimeout, len(header), sizeHeaderLen)
		}

		n, err := rx.link.Read(buf[:sizeHeaderLen-len(header)])
		if err != nil {
			return 0, fmt.Errorf("transfer: read size header: %w", err)
		}

		header = append(header, buf[:n]...)
	}

	return int(decodeSizeHeader(header)), nil
}

// readPayload appends bytes to buf until it holds target bytes, using an
// inactivity-timeout strategy: every non-empty read resets the clock, and
// a silence longer than the inactivity timeout stops the read early with
// whatever arrived.
//
// The returned buffer is always valid, partial or not.
func (rx *receiver) readPayload(ctx context.Context, buf []byte, target int) ([]byte, error) {
	if err := rx.link.SetReadTimeout(pollInterval); err != nil {
		return buf, fmt.Errorf("transfer: set read timeout: %w", err)
	}

	scratch := make([]byte, readChunkSize)
	lastData := time.Now()
	lastPct := progressPct(len(buf), target)

	for len(buf) < target {
		select {
		case <-ctx.Done():
			return buf, ctx.Err()
		default:
		}

		want := target - len(buf)
		if want > readChunkSize {
			want = readChunkSize
		}

		n, err := rx.link.Read(scratch[:want])
		if n > 0 {
			buf = append(buf, scratch[:n]...)
			rx.metrics.addBytesRecv(n)
			lastData = time.Now()

			if pct := progressPct(len(buf), target); pct-lastPct >= 10 {
				rx.logger.Debug("receive progress", "received", len(buf), "total", target, "pct", pct)
				lastPct = pct
			}
		}

		if err != nil {
			return buf, fmt.Errorf("transfer: read payload: %w", err)
		}

		if n == 0 && time.Since(lastData) > rx.cfg.inactivityTimeout {
			return buf, fmt.Errorf("%w: stalled at %d of %d bytes", ErrInactivityTimeout, len(buf), target)
		}
	}

	return buf, nil
}

// drainTrailer reads and discards advisory trailer bytes after a complete
// payload. Purely cosmetic: it stops at the trailer text, at the first
// silent poll, or at the trailer timeout, whichever comes first, and never
// blocks the session outcome.
func (rx *receiver) drainTrailer(ctx context.Context) {
	if err := rx.link.SetReadTimeout(pollInterval); err != nil {
		return
	}

	deadline := time.Now().Add(rx.cfg.trailerTimeout)
	var extra []byte
	buf := make([]byte, 128)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := rx.link.Read(buf)
		if err != nil || n == 0 {
			break
		}

		extra = append(extra, buf[:n]...)
		if bytes.Contains(extra, []byte("<FIN_TRANSMISION>")) {
			break
		}
	}

	if len(extra) > 0 {
		rx.logger.Debug("drained trailer bytes", "count", len(extra))
	}
}

// probeContent runs the advisory content probe, if configured. A probe
// failure is logged and nothing else; byte count is the sole completion
// criterion.
func (rx *receiver) probeContent(data []byte) {
	if rx.cfg.contentProbe == nil {
		return
	}

	if err := rx.cfg.contentProbe(data); err != nil {
		rx.logger.Warn("payload content probe failed", "error", err, "bytes", len(data))
	}
}
