package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davroz/fotolink/logger"
)

// runPair runs a Send session and a Receive session over connected links
// and returns both outcomes.
func runPair(ctx context.Context, sendLink, recvLink Link, sendCfg, recvCfg *Config, payload []byte, expected int) (sendErr error, res *Result, recvErr error, sender, receiver *Session) {
	sender = NewSession(sendLink, sendCfg)
	receiver = NewSession(recvLink, recvCfg)

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- sender.Send(ctx, payload)
	}()

	res, recvErr = receiver.Receive(ctx, expected)
	sendErr = <-sendDone

	return sendErr, res, recvErr, sender, receiver
}

// consumeUntilSilence reads and discards from link until no bytes arrive
// for a few consecutive polls.
func consumeUntilSilence(link Link) {
	buf := make([]byte, 4096)
	_ = link.SetReadTimeout(20 * time.Millisecond)

	idle := 0
	for idle < 3 {
		n, err := link.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			idle++
		} else {
			idle = 0
		}
	}
}

func TestSession_Roundtrip(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	payload := patternPayload(10000)
	cfgTx := newTestConfig(t)
	cfgRx := newTestConfig(t)

	sendErr, res, recvErr, sender, receiver := runPair(ctx, local, remote, cfgTx, cfgRx, payload, len(payload))

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.True(t, res.Complete)
	assert.Equal(t, payload, res.Data)
	assert.Equal(t, len(payload), res.DeclaredSize)
	assert.Equal(t, PhaseComplete, sender.Phase())
	assert.Equal(t, PhaseComplete, receiver.Phase())

	assert.Equal(t, uint64(1), sender.Metrics().FrameSendCount.Load())
	assert.Equal(t, uint64(1), receiver.Metrics().FrameRecvCount.Load())
	assert.Equal(t, uint64(0), sender.Metrics().RetrySendCount.Load())
}

func TestSession_Roundtrip_EmptyPayload(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	sendErr, res, recvErr, _, _ := runPair(ctx, local, remote,
		newTestConfig(t), newTestConfig(t), nil, 0)

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.True(t, res.Complete)
	assert.Empty(t, res.Data)
	assert.Zero(t, res.DeclaredSize)
}

func TestSession_Roundtrip_PayloadContainingMarkers(t *testing.T) {
	// Marker byte sequences inside the payload must not confuse the
	// receiver: during the payload phase it reads by count, not by pattern.
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	var payload []byte
	payload = append(payload, patternPayload(300)...)
	payload = append(payload, StartMarker...)
	payload = append(payload, patternPayload(100)...)
	payload = append(payload, RetryMarker...)
	payload = append(payload, EndMarker...)
	payload = append(payload, []byte(TrailerText)...)
	payload = append(payload, patternPayload(200)...)

	sendErr, res, recvErr, _, _ := runPair(ctx, local, remote,
		newTestConfig(t), newTestConfig(t), payload, len(payload))

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.Equal(t, payload, res.Data)
}

func TestSession_TailLossRecovery(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	const size = 50000
	const lost = 800
	payload := patternPayload(size)

	// Swallow the last 800 payload bytes on the first pass. The payload
	// occupies write-stream offsets [14, 14+size) after the 10-byte start
	// marker and 4-byte size header. The trailer is disabled so no advisory
	// bytes can bleed into the receiver's partial buffer midsection.
	dropped := newTailDropLink(local, 14+size-lost, 14+size)

	cfgTx := newTestConfig(t, WithTrailer(false))
	cfgRx := newTestConfig(t, WithTrailer(false))

	sendErr, res, recvErr, sender, receiver := runPair(ctx, dropped, remote, cfgTx, cfgRx, payload, size)

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.True(t, res.Complete)
	assert.Equal(t, payload, res.Data)

	assert.Equal(t, uint64(1), sender.Metrics().RetrySendCount.Load())
	assert.Equal(t, uint64(1), receiver.Metrics().RetryRecvCount.Load())
}

func TestSession_Send_RetriesExhausted(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	payload := patternPayload(100)

	// A peer that is stuck at 10 bytes no matter how many corrections it
	// receives. 1 initial report + maxRetries correction reports.
	go func() {
		for i := 0; i < 3; i++ {
			consumeUntilSilence(remote)
			_, _ = remote.Write([]byte("ACK_MISSING:10\r\n"))
		}
	}()

	sender := NewSession(local, newTestConfig(t, WithReadyPhase(false), WithTrailer(false)))
	err := sender.Send(ctx, payload)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, PhaseFailed, sender.Phase())
	assert.Equal(t, uint64(2), sender.Metrics().RetrySendCount.Load())
	assert.Equal(t, uint64(1), sender.Metrics().SessionFailCount.Load())
}

func TestSession_Send_AckError(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	go func() {
		consumeUntilSilence(remote)
		_, _ = remote.Write([]byte("ACK_ERROR\r\n"))
	}()

	sender := NewSession(local, newTestConfig(t, WithReadyPhase(false), WithTrailer(false)))
	err := sender.Send(ctx, patternPayload(100))

	require.ErrorIs(t, err, ErrAckError)
	assert.Equal(t, PhaseFailed, sender.Phase())
}

func TestSession_Send_AckTimeout(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	go discardReads(remote)

	sender := NewSession(local, newTestConfig(t,
		WithReadyPhase(false),
		WithTrailer(false),
		WithAckTimeout(300*time.Millisecond),
	))
	err := sender.Send(ctx, patternPayload(100))

	require.ErrorIs(t, err, ErrAckTimeout)
	assert.Equal(t, uint64(1), sender.Metrics().AckTimeoutCount.Load())
}

func TestSession_Send_NoiseBeforeAck(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	go func() {
		consumeUntilSilence(remote)
		_, _ = remote.Write([]byte("spurious console output\r\n"))
		_, _ = remote.Write([]byte("ACK_READY\r\n")) // stale, skipped
		_, _ = remote.Write([]byte("ACK_OK\r\n"))
	}()

	sender := NewSession(local, newTestConfig(t, WithReadyPhase(false), WithTrailer(false)))
	require.NoError(t, sender.Send(ctx, patternPayload(100)))
}

func TestSession_Send_ReportAboveDeclaredIsComplete(t *testing.T) {
	// An untrusted peer reporting more bytes than were declared leaves
	// nothing to resend; the session completes with a warning instead of
	// retransmitting from a bogus offset.
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	go func() {
		consumeUntilSilence(remote)
		_, _ = remote.Write([]byte("ACK_MISSING:200\r\n"))
	}()

	sender := NewSession(local, newTestConfig(t, WithReadyPhase(false), WithTrailer(false)))
	err := sender.Send(ctx, patternPayload(100))

	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, sender.Phase())
	assert.Equal(t, uint64(0), sender.Metrics().RetrySendCount.Load())
}

func TestSession_Send_PayloadTooLarge(t *testing.T) {
	local, _ := newPipeLinks(t)

	sender := NewSession(local, newTestConfig(t, WithMaxPayloadSize(64)))
	err := sender.Send(testCtx(t), patternPayload(65))

	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, PhaseFailed, sender.Phase())
}

func TestSession_Receive_MarkerTimeout(t *testing.T) {
	local, _ := newPipeLinks(t)

	receiver := NewSession(local, newTestConfig(t,
		WithReadyPhase(false),
		WithMarkerTimeout(150*time.Millisecond),
	))
	res, err := receiver.Receive(testCtx(t), 0)

	require.ErrorIs(t, err, ErrMarkerTimeout)
	assert.False(t, res.Complete)
	assert.Empty(t, res.Data)
	assert.Equal(t, PhaseFailed, res.Phase)
}

func TestSession_Receive_HeaderTimeout(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	ackCh := make(chan string, 1)
	go func() {
		_, _ = remote.Write(StartMarker)
		_, _ = remote.Write([]byte{0x00, 0x01}) // header never completes

		line, _ := ReadLine(ctx, remote, 2*time.Second)
		ackCh <- line
	}()

	receiver := NewSession(local, newTestConfig(t, WithReadyPhase(false)))
	res, err := receiver.Receive(ctx, 0)

	require.ErrorIs(t, err, ErrHeaderTimeout)
	assert.False(t, res.Complete)

	// The sender is told nothing arrived so it can fail fast.
	assert.Equal(t, "ACK_MISSING:0", <-ackCh)
}

func TestSession_Receive_DeclaredTooLarge(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	ackCh := make(chan string, 1)
	go func() {
		_, _ = remote.Write(StartMarker)
		_, _ = remote.Write(encodeSizeHeader(1 << 30))

		line, _ := ReadLine(ctx, remote, 2*time.Second)
		ackCh <- line
	}()

	receiver := NewSession(local, newTestConfig(t, WithReadyPhase(false)))
	res, err := receiver.Receive(ctx, 0)

	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.False(t, res.Complete)
	assert.Equal(t, "ACK_ERROR", <-ackCh)
}

func TestSession_Receive_OutOfSyncDuringCorrection(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	partial := patternPayload(100)[:60]
	go func() {
		_, _ = remote.Write(StartMarker)
		_, _ = remote.Write(encodeSizeHeader(100))
		_, _ = remote.Write(partial)

		// Wait for the status report, then restart the frame instead of
		// sending a correction.
		_, _ = ReadLine(ctx, remote, 2*time.Second)
		_, _ = remote.Write(StartMarker)
	}()

	receiver := NewSession(local, newTestConfig(t, WithReadyPhase(false)))
	res, err := receiver.Receive(ctx, 100)

	require.ErrorIs(t, err, ErrOutOfSync)
	assert.False(t, res.Complete)
	assert.Equal(t, partial, res.Data)
	assert.Equal(t, PhaseFailed, res.Phase)
}

func TestSession_Receive_PartialAfterExhaustedCorrections(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	payload := patternPayload(100)
	go func() {
		_, _ = remote.Write(StartMarker)
		_, _ = remote.Write(encodeSizeHeader(100))
		_, _ = remote.Write(payload[:60])

		// Two correction cycles, each still short of the declared size.
		for _, upto := range []int{70, 80} {
			_, _ = ReadLine(ctx, remote, 2*time.Second)
			_, _ = remote.Write(RetryMarker)
			_, _ = remote.Write(payload[upto-10 : upto])
		}
		_, _ = ReadLine(ctx, remote, 2*time.Second)
	}()

	receiver := NewSession(local, newTestConfig(t, WithReadyPhase(false)))
	res, err := receiver.Receive(ctx, 100)

	require.Error(t, err)
	assert.False(t, res.Complete)

	// The partial buffer survives for diagnostics.
	assert.Equal(t, payload[:80], res.Data)
	assert.Equal(t, uint64(2), receiver.Metrics().RetryRecvCount.Load())
	assert.Equal(t, uint64(1), receiver.Metrics().SessionFailCount.Load())
}

func TestSession_Reuse(t *testing.T) {
	local, _ := newPipeLinks(t)

	s := NewSession(local, newTestConfig(t,
		WithReadyPhase(false),
		WithMarkerTimeout(50*time.Millisecond),
	))

	_, err := s.Receive(testCtx(t), 0)
	require.Error(t, err)

	_, err = s.Receive(testCtx(t), 0)
	require.ErrorIs(t, err, ErrSessionDone)

	err = s.Send(testCtx(t), nil)
	require.ErrorIs(t, err, ErrSessionDone)
}

func TestSession_CheckDeclaredSize(t *testing.T) {
	mock := logger.NewMockLogger()
	mock.On("Warn", "declared size diverges from expectation, using header value",
		[]any{"declared", 50000, "expected", 10000}).Once()

	s := &Session{logger: mock}

	s.checkDeclaredSize(50000, 10000) // warns
	s.checkDeclaredSize(10500, 10000) // within expected/10 threshold
	s.checkDeclaredSize(1800, 1000)   // within the 1KiB floor
	s.checkDeclaredSize(50000, 0)     // no expectation given

	mock.AssertExpectations(t)
}

func TestSession_ContentProbeInvoked(t *testing.T) {
	local, remote := newPipeLinks(t)
	ctx := testCtx(t)

	probed := make(chan int, 1)
	cfgRx := newTestConfig(t, WithContentProbe(func(data []byte) error {
		probed <- len(data)

		return nil
	}))

	payload := patternPayload(500)
	sendErr, res, recvErr, _, _ := runPair(ctx, local, remote, newTestConfig(t), cfgRx, payload, len(payload))

	require.NoError(t, sendErr)
	require.NoError(t, recvErr)
	assert.True(t, res.Complete)
	assert.Equal(t, 500, <-probed)
}
