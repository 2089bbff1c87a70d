package transfer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithSettleDelay(time.Millisecond),
		WithInterChunkDelay(0),
		WithMarkerTimeout(500 * time.Millisecond),
		WithHeaderTimeout(300 * time.Millisecond),
		WithInactivityTimeout(150 * time.Millisecond),
		WithDrainTimeout(200 * time.Millisecond),
		WithAckTimeout(2 * time.Second),
		WithReadyTimeout(300 * time.Millisecond),
		WithTrailerTimeout(100 * time.Millisecond),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newPipeLinks creates a connected pair of Links over net.Pipe and
// registers cleanup.
func newPipeLinks(t *testing.T) (Link, Link) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return NewConnLink(local), NewConnLink(remote)
}

// patternPayload generates deterministic pseudo-random payload bytes.
func patternPayload(n int) []byte {
	buf := make([]byte, n)
	state := uint32(0x2F6E2B1)
	for i := range buf {
		state = state*1664525 + 1013904223
		buf[i] = byte(state >> 24)
	}

	return buf
}

// tailDropLink wraps a Link and silently swallows all written bytes whose
// absolute write-stream offset falls in [dropFrom, dropTo), simulating
// contiguous tail loss on the first pass. Bytes written after the drop
// window (e.g. a retransmission) are delivered normally.
type tailDropLink struct {
	Link

	mu       sync.Mutex
	written  int
	dropFrom int
	dropTo   int
}

func newTailDropLink(inner Link, dropFrom, dropTo int) *tailDropLink {
	return &tailDropLink{Link: inner, dropFrom: dropFrom, dropTo: dropTo}
}

func (l *tailDropLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	start := l.written
	l.written += len(p)
	l.mu.Unlock()

	end := start + len(p)

	deliver := func(from, to int) error {
		for from < to {
			n, err := l.Link.Write(p[from-start : to-start])
			from += n
			if err != nil {
				return err
			}
		}

		return nil
	}

	// Segment before the drop window.
	preEnd := end
	if preEnd > l.dropFrom {
		preEnd = l.dropFrom
	}
	if start < preEnd {
		if err := deliver(start, preEnd); err != nil {
			return 0, err
		}
	}

	// Segment after the drop window.
	postStart := start
	if postStart < l.dropTo {
		postStart = l.dropTo
	}
	if postStart < end {
		if err := deliver(postStart, end); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// discardReads consumes and discards everything readable from link until
// it is closed. Used by fake peers that only need to speak, not listen.
func discardReads(link Link) {
	buf := make([]byte, 4096)
	_ = link.SetReadTimeout(10 * time.Millisecond)
	for {
		if _, err := link.Read(buf); err != nil {
			return
		}
	}
}

// testCtx returns a context that expires with the test deadline margin.
func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	return ctx
}
