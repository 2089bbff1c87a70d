package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davroz/fotolink/logger"
)

// Sentinel errors for the transfer protocol.
var (
	// Phase timeouts.
	ErrMarkerTimeout     = errors.New("transfer: start marker not seen")
	ErrHeaderTimeout     = errors.New("transfer: size header under-read")
	ErrInactivityTimeout = errors.New("transfer: payload read stalled")
	ErrDrainTimeout      = errors.New("transfer: outbound buffer never drained")
	ErrAckTimeout        = errors.New("transfer: no acknowledgment within deadline")
	ErrLineTimeout       = errors.New("transfer: no complete line within deadline")

	// Protocol failures.
	ErrAckError         = errors.New("transfer: peer reported ACK_ERROR")
	ErrRetriesExhausted = errors.New("transfer: correction cycles exhausted")
	ErrWriteStalled     = errors.New("transfer: consecutive partial writes")
	ErrOutOfSync        = errors.New("transfer: unexpected marker during correction")
	ErrPayloadTooLarge  = errors.New("transfer: declared size exceeds limit")

	// Session lifecycle.
	ErrSessionDone = errors.New("transfer: session already finished")
)

// Phase identifies where in the transfer state machine a session is.
type Phase int8

const (
	PhaseIdle Phase = iota
	PhaseAwaitStartMarker
	PhaseReadSizeHeader
	PhaseReadPayload
	PhaseDrain
	PhaseAwaitAck
	PhaseRetransmit
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitStartMarker:
		return "AwaitStartMarker"
	case PhaseReadSizeHeader:
		return "ReadSizeHeader"
	case PhaseReadPayload:
		return "ReadPayload"
	case PhaseDrain:
		return "Drain"
	case PhaseAwaitAck:
		return "AwaitAck"
	case PhaseRetransmit:
		return "Retransmit"
	case PhaseComplete:
		return "Complete"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int8(p))
	}
}

// Result is the outcome of a receive session.
//
// Data is always the best available buffer, partial or not: partial image
// data has diagnostic value and is never discarded. Complete is true only
// when Data holds exactly the declared number of bytes.
type Result struct {
	Data         []byte
	Complete     bool
	DeclaredSize int
	Phase        Phase
}

// Session runs one logical transfer attempt on a link: a single frame
// exchange plus up to MaxRetries correction cycles. A Session runs exactly
// one Send or one Receive and is not reused; Complete and Failed are
// terminal.
//
// Only one Session may be active on a link at a time. This is a property
// of the half-duplex link, enforced by the caller's serialized command
// handling rather than by a lock here.
type Session struct {
	link    Link
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics

	phase Phase
	done  bool
}

// NewSession creates a Session for one transfer attempt on the given link.
func NewSession(link Link, cfg *Config) *Session {
	m := cfg.metrics
	if m == nil {
		m = &Metrics{}
	}

	return &Session{
		link:    link,
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: m,
		phase:   PhaseIdle,
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase { return s.phase }

// Metrics returns the metrics collector this session reports into.
func (s *Session) Metrics() *Metrics { return s.metrics }

// --- Sender side ---

// Send transmits payload as one frame and coordinates the acknowledgment
// and suffix-retransmission cycle until the peer confirms full reception,
// the correction budget is exhausted, or an unrecoverable error occurs.
//
// On any failure the session ends in PhaseFailed; the caller decides
// whether to re-issue the whole command.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if err := s.begin(); err != nil {
		return err
	}

	declared := len(payload)
	if declared > s.cfg.maxPayloadSize {
		return s.fail(fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, declared, s.cfg.maxPayloadSize))
	}

	s.logger.Info("send session started",
		"bytes", declared,
		"chunkSize", s.cfg.chunkSize,
		"maxRetries", s.cfg.maxRetries,
	)

	tx := newTransmitter(s.link, s.cfg, s.logger, s.metrics)

	if s.cfg.readyPhase {
		if !s.awaitReady(ctx) {
			// The peer may simply not announce readiness; proceed anyway.
			s.logger.Warn("receiver did not announce ready, continuing")
		}
	}

	s.setPhase(PhaseDrain)
	if err := tx.sendFrame(ctx, payload); err != nil {
		return s.fail(err)
	}

	for cycle := 0; ; cycle++ {
		s.setPhase(PhaseAwaitAck)

		ack, err := s.awaitAck(ctx)
		if err != nil {
			return s.fail(err)
		}

		switch ack.Kind {
		case AckOK:
			s.setPhase(PhaseComplete)
			s.logger.Info("send session complete", "bytes", declared, "cycles", cycle)

			return nil

		case AckError:
			return s.fail(ErrAckError)

		case AckMissing:
			received := int(ack.Received)

			// The reported count is untrusted input: a receiver that
			// double-counted trailer bytes can report more than was sent.
			// Clamp; a clamp that leaves nothing to resend means the peer
			// holds at least the declared bytes.
			if received >= declared {
				s.logger.Warn("peer reported byte count at or above declared size, treating as complete",
					"reported", received,
					"declared", declared,
				)
				s.setPhase(PhaseComplete)

				return nil
			}

			if cycle >= s.cfg.maxRetries {
				return s.fail(fmt.Errorf("%w: still missing %d bytes after %d cycles",
					ErrRetriesExhausted, declared-received, cycle))
			}

			s.setPhase(PhaseRetransmit)
			if err := tx.sendSuffix(ctx, payload, received); err != nil {
				return s.fail(err)
			}

		default:
			return s.fail(fmt.Errorf("transfer: unexpected ack %v in send session", ack.Kind))
		}
	}
}

// awaitReady waits for the receiver's ACK_READY line, skipping noise.
// Returns false on timeout.
func (s *Session) awaitReady(ctx context.Context) bool {
	deadline := time.Now().Add(s.cfg.readyTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		line, err := ReadLine(ctx, s.link, remaining)
		if err != nil {
			return false
		}

		ack, ok := parseAckLine(line)
		if ok && ack.Kind == AckReady {
			s.logger.Debug("receiver ready")

			return true
		}

		if line != "" {
			s.logger.Debug("ignoring line while awaiting ready", "line", line)
		}
	}
}

// awaitAck reads line-oriented input until a recognized acknowledgment
// arrives or the ack timeout elapses. Unrecognized or empty lines within
// the deadline are noise and the wait continues. A stale ACK_READY is
// also skipped.
func (s *Session) awaitAck(ctx context.Context) (Ack, error) {
	deadline := time.Now().Add(s.cfg.ackTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.metrics.incAckTimeoutCount()

			return Ack{}, fmt.Errorf("%w: after %v", ErrAckTimeout, s.cfg.ackTimeout)
		}

		line, err := ReadLine(ctx, s.link, remaining)
		if errors.Is(err, ErrLineTimeout) {
			continue
		}
		if err != nil {
			return Ack{}, err
		}

		ack, ok := parseAckLine(line)
		if !ok || ack.Kind == AckReady {
			if line != "" {
				s.logger.Debug("ignoring line while awaiting ack", "line", line)
			}

			continue
		}

		s.logger.Debug("acknowledgment received", "kind", ack.Kind, "received", ack.Received)

		return ack, nil
	}
}

// --- Receiver side ---

// Receive reads one frame from the link, reporting reception status to
// the sender and consuming suffix retransmissions until the buffer is
// complete or the correction budget is exhausted.
//
// expectedSize is the size declared out of band (e.g. by a prior OK|<n>
// response line). It is a sanity check only; the size header inside the
// frame is ground truth.
//
// The returned Result always carries the best available buffer, truncated
// to the declared size. The error is non-nil exactly when the session
// ended in PhaseFailed.
func (s *Session) Receive(ctx context.Context, expectedSize int) (*Result, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}

	res := &Result{}
	rx := newReceiver(s.link, s.cfg, s.logger, s.metrics)

	if s.cfg.readyPhase {
		if err := writeLine(s.link, Ack{Kind: AckReady}.line()); err != nil {
			s.logger.Warn("failed to announce ready", "error", err)
		}
	}

	s.setPhase(PhaseAwaitStartMarker)
	if _, err := rx.scanMarker(ctx, false, s.cfg.markerTimeout); err != nil {
		// Nothing ever arrived; there is no peer to acknowledge to.
		return s.failResult(res, nil, err)
	}

	s.setPhase(PhaseReadSizeHeader)
	declared, err := rx.readSizeHeader(ctx)
	if err != nil {
		s.sendAck(Ack{Kind: AckMissing, Received: 0})

		return s.failResult(res, nil, err)
	}

	if declared > s.cfg.maxPayloadSize {
		s.sendAck(Ack{Kind: AckError})

		return s.failResult(res, nil, fmt.Errorf("%w: declared %d > %d",
			ErrPayloadTooLarge, declared, s.cfg.maxPayloadSize))
	}

	res.DeclaredSize = declared
	s.checkDeclaredSize(declared, expectedSize)

	s.setPhase(PhaseReadPayload)
	buf := make([]byte, 0, declared)
	buf, readErr := rx.readPayload(ctx, buf, declared)

	if len(buf) == declared {
		s.setPhase(PhaseDrain)
		rx.drainTrailer(ctx)
	} else if readErr != nil && !errors.Is(readErr, ErrInactivityTimeout) {
		// Broken link, not a stall; no correction cycle can help.
		s.sendAck(ackFor(buf, declared))

		return s.failResult(res, buf, readErr)
	}

	s.setPhase(PhaseAwaitAck)
	if err := s.sendAck(ackFor(buf, declared)); err != nil {
		return s.failResult(res, buf, err)
	}

	for cycle := 0; len(buf) < declared && cycle < s.cfg.maxRetries; cycle++ {
		s.setPhase(PhaseRetransmit)

		kind, err := rx.scanMarker(ctx, true, s.cfg.markerTimeout)
		if err != nil {
			return s.failResult(res, buf, err)
		}
		if kind != markerRetry {
			// A fresh start marker mid-correction means the peers disagree
			// about session state; this attempt cannot be reconciled.
			return s.failResult(res, buf, fmt.Errorf("%w: got %v marker", ErrOutOfSync, kind))
		}

		s.metrics.incRetryRecvCount()
		s.logger.Info("retransmission detected", "have", len(buf), "declared", declared)

		// No size header accompanies a correction; the expected length is
		// implicitly declared - len(buf), known from the ack exchange.
		buf, readErr = rx.readPayload(ctx, buf, declared)

		s.setPhase(PhaseAwaitAck)
		if err := s.sendAck(ackFor(buf, declared)); err != nil {
			return s.failResult(res, buf, err)
		}
	}

	res.Data = clampToDeclared(buf, declared, s.logger)
	rx.probeContent(res.Data)

	if len(res.Data) == declared {
		res.Complete = true
		s.setPhase(PhaseComplete)
		res.Phase = PhaseComplete
		s.metrics.incFrameRecvCount()
		s.logger.Info("receive session complete", "bytes", declared)

		return res, nil
	}

	err = readErr
	if err == nil {
		err = fmt.Errorf("%w: holding %d of %d bytes", ErrRetriesExhausted, len(buf), declared)
	}

	return s.failResult(res, res.Data, err)
}

// sendAck writes one acknowledgment line. On write failure it makes a
// best-effort ACK_ERROR report so the peer fails fast instead of waiting
// out its ack timeout.
func (s *Session) sendAck(ack Ack) error {
	if err := writeLine(s.link, ack.line()); err != nil {
		s.logger.Error("failed to send acknowledgment", "kind", ack.Kind, "error", err)
		_ = writeLine(s.link, Ack{Kind: AckError}.line())

		return fmt.Errorf("transfer: send acknowledgment: %w", err)
	}

	s.logger.Debug("acknowledgment sent", "kind", ack.Kind, "received", ack.Received)

	return nil
}

// checkDeclaredSize warns when the in-frame size header disagrees
// substantially with the out-of-band expectation. The header remains
// ground truth either way.
func (s *Session) checkDeclaredSize(declared, expected int) {
	if expected <= 0 {
		return
	}

	diff := declared - expected
	if diff < 0 {
		diff = -diff
	}

	threshold := expected / 10
	if threshold < 1024 {
		threshold = 1024
	}

	if diff > threshold {
		s.logger.Warn("declared size diverges from expectation, using header value",
			"declared", declared,
			"expected", expected,
		)
	}
}

// --- Lifecycle helpers ---

func (s *Session) begin() error {
	if s.done {
		return ErrSessionDone
	}
	s.done = true

	return nil
}

func (s *Session) setPhase(p Phase) {
	if s.phase != p {
		s.logger.Debug("session phase", "from", s.phase, "to", p)
		s.phase = p
	}
}

func (s *Session) fail(err error) error {
	s.setPhase(PhaseFailed)
	s.metrics.incSessionFailCount()
	s.logger.Error("send session failed", "error", err)

	return err
}

func (s *Session) failResult(res *Result, buf []byte, err error) (*Result, error) {
	s.setPhase(PhaseFailed)
	s.metrics.incSessionFailCount()

	res.Data = clampToDeclared(buf, res.DeclaredSize, s.logger)
	res.Complete = false
	res.Phase = PhaseFailed

	s.logger.Error("receive session failed",
		"error", err,
		"received", len(res.Data),
		"declared", res.DeclaredSize,
	)

	return res, err
}

// ackFor builds the status report for the current buffer state.
func ackFor(buf []byte, declared int) Ack {
	if len(buf) == declared {
		return Ack{Kind: AckOK}
	}

	return Ack{Kind: AckMissing, Received: uint32(len(buf))} //nolint:gosec // bounded by maxPayloadSize
}

// clampToDeclared truncates any bytes beyond the declared size. Excess
// indicates marker or trailer bytes misread as payload; it is logged as a
// symptom rather than silently accepted.
func clampToDeclared(buf []byte, declared int, l logger.Logger) []byte {
	if buf == nil {
		return []byte{}
	}

	if declared >= 0 && len(buf) > declared {
		l.Warn("truncating excess payload bytes",
			"received", len(buf),
			"declared", declared,
		)

		return buf[:declared]
	}

	return buf
}
