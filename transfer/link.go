package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Link is the byte channel the transfer protocol runs over, typically a
// serial port but equally a TCP stream (e.g. behind a ser2net bridge) or a
// net.Pipe in tests.
//
// Read semantics follow serial convention: a Read that sees no data within
// the configured read timeout returns (0, nil) rather than an error. A
// permanent failure (closed link) returns a non-nil error.
type Link interface {
	io.ReadWriter
	io.Closer

	// SetReadTimeout sets the timeout applied to subsequent Read calls.
	// Zero or negative means Read blocks until data arrives.
	SetReadTimeout(d time.Duration) error

	// Drain blocks until every byte accepted by Write has been physically
	// transmitted, or ctx is done. Links without transmit-queue visibility
	// (pure streams) return nil immediately.
	Drain(ctx context.Context) error

	// ResetInputBuffer discards unread received bytes, where supported.
	ResetInputBuffer() error

	// ResetOutputBuffer discards untransmitted written bytes, where supported.
	ResetOutputBuffer() error
}

// connLink adapts a net.Conn to the Link interface, mapping the read
// timeout onto per-call read deadlines.
type connLink struct {
	conn net.Conn

	mu          sync.Mutex
	readTimeout time.Duration
}

// NewConnLink wraps a net.Conn as a Link.
//
// Deadline-exceeded read errors are translated into the serial-style
// (0, nil) empty read, so protocol code behaves identically on serial
// ports and stream connections.
func NewConnLink(conn net.Conn) Link {
	return &connLink{conn: conn}
}

func (l *connLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	timeout := l.readTimeout
	l.mu.Unlock()

	if timeout > 0 {
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	} else {
		if err := l.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}

	n, err := l.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}

	return n, err
}

func (l *connLink) Write(p []byte) (int, error) {
	return l.conn.Write(p)
}

func (l *connLink) Close() error {
	return l.conn.Close()
}

func (l *connLink) SetReadTimeout(d time.Duration) error {
	l.mu.Lock()
	l.readTimeout = d
	l.mu.Unlock()

	return nil
}

// Drain is a no-op: a stream connection offers no visibility into the
// peer-side transmit queue, so bytes accepted by Write are considered sent.
func (l *connLink) Drain(_ context.Context) error {
	return nil
}

// ResetInputBuffer is a no-op on stream connections.
func (l *connLink) ResetInputBuffer() error {
	return nil
}

// ResetOutputBuffer is a no-op on stream connections.
func (l *connLink) ResetOutputBuffer() error {
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
