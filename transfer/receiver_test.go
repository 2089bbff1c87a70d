package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davroz/fotolink/logger"
)

func newTestReceiver(t *testing.T, link Link, opts ...Option) *receiver {
	t.Helper()

	cfg := newTestConfig(t, opts...)

	return newReceiver(link, cfg, logger.GetLogger(), &Metrics{})
}

func TestScanMarker_FindsStartInNoise(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	go func() {
		_, _ = remote.Write([]byte("garbage \xaa\xaa noise"))
		_, _ = remote.Write(StartMarker)
	}()

	kind, err := rx.scanMarker(testCtx(t), false, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, markerStart, kind)
}

func TestScanMarker_RetryIgnoredWhenNotAccepted(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	go func() {
		// A retry pattern before any frame is synchronized is noise; only
		// the start marker that follows may match.
		_, _ = remote.Write(RetryMarker)
		_, _ = remote.Write(StartMarker)
	}()

	kind, err := rx.scanMarker(testCtx(t), false, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, markerStart, kind)
}

func TestScanMarker_RetryAcceptedMidCorrection(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	go func() {
		_, _ = remote.Write([]byte{0x01, 0x02})
		_, _ = remote.Write(RetryMarker)
	}()

	kind, err := rx.scanMarker(testCtx(t), true, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, markerRetry, kind)
}

func TestScanMarker_Timeout(t *testing.T) {
	local, _ := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	_, err := rx.scanMarker(testCtx(t), false, 150*time.Millisecond)
	require.ErrorIs(t, err, ErrMarkerTimeout)
}

func TestScanMarker_PartialStartThenTimeout(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	go func() {
		// Nine of ten marker bytes never match.
		_, _ = remote.Write(StartMarker[:startMarkerLen-1])
	}()

	_, err := rx.scanMarker(testCtx(t), false, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrMarkerTimeout)
}

func TestReadSizeHeader_SplitAcrossWrites(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	header := encodeSizeHeader(50000)
	go func() {
		_, _ = remote.Write(header[:1])
		time.Sleep(20 * time.Millisecond)
		_, _ = remote.Write(header[1:3])
		time.Sleep(20 * time.Millisecond)
		_, _ = remote.Write(header[3:])
	}()

	size, err := rx.readSizeHeader(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 50000, size)
}

func TestReadSizeHeader_UnderRead(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	go func() {
		_, _ = remote.Write([]byte{0x00, 0x01})
	}()

	_, err := rx.readSizeHeader(testCtx(t))
	require.ErrorIs(t, err, ErrHeaderTimeout)
}

func TestReadPayload_Complete(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	payload := patternPayload(10000)
	go func() {
		for off := 0; off < len(payload); off += 1000 {
			_, _ = remote.Write(payload[off : off+1000])
		}
	}()

	buf, err := rx.readPayload(testCtx(t), nil, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestReadPayload_InactivityReturnsPartial(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	partial := patternPayload(1200)
	go func() {
		_, _ = remote.Write(partial)
		// then silence
	}()

	buf, err := rx.readPayload(testCtx(t), nil, 5000)
	require.ErrorIs(t, err, ErrInactivityTimeout)
	assert.Equal(t, partial, buf)
}

func TestReadPayload_AppendsToExistingBuffer(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	payload := patternPayload(2000)
	go func() {
		_, _ = remote.Write(payload[800:])
	}()

	buf := append([]byte(nil), payload[:800]...)
	buf, err := rx.readPayload(testCtx(t), buf, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestDrainTrailer_StopsAtTrailerText(t *testing.T) {
	local, remote := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = remote.Write(EndMarker)
		_, _ = remote.Write([]byte(TrailerText))
	}()

	rx.drainTrailer(testCtx(t))
	<-done

	// The stream beyond the trailer is untouched.
	go func() { _, _ = remote.Write([]byte("x")) }()
	_ = local.SetReadTimeout(200 * time.Millisecond)
	one := make([]byte, 1)
	n, err := local.Read(one)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainTrailer_SilentLink(t *testing.T) {
	local, _ := newPipeLinks(t)
	rx := newTestReceiver(t, local)

	start := time.Now()
	rx.drainTrailer(testCtx(t))

	// Stops at the first silent poll, well before the trailer timeout.
	assert.Less(t, time.Since(start), time.Second)
}

func TestClampToDeclared(t *testing.T) {
	mock := logger.NewMockLogger()
	mock.On("Warn", "truncating excess payload bytes", []any{"received", 5, "declared", 3}).Once()

	buf := clampToDeclared([]byte{1, 2, 3, 4, 5}, 3, mock)
	assert.Equal(t, []byte{1, 2, 3}, buf)
	mock.AssertExpectations(t)

	assert.Equal(t, []byte{1, 2}, clampToDeclared([]byte{1, 2}, 3, mock))
	assert.Equal(t, []byte{}, clampToDeclared(nil, 3, mock))
}

func TestProbeContent_FailureIsAdvisory(t *testing.T) {
	local, _ := newPipeLinks(t)

	mock := logger.NewMockLogger()
	mock.On("Warn", "payload content probe failed", []any{"error", assert.AnError, "bytes", 4}).Once()

	rx := newTestReceiver(t, local,
		WithLogger(mock),
		WithContentProbe(func([]byte) error { return assert.AnError }),
	)
	rx.logger = mock

	rx.probeContent([]byte{1, 2, 3, 4})
	mock.AssertExpectations(t)
}
