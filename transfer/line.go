package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxLineLen bounds accumulation while waiting for a line terminator.
// Anything longer is framing noise, not a status line.
const maxLineLen = 256

// ReadLine reads one newline-terminated line from the link, waiting up to
// timeout for it to complete. The returned line is stripped of its CR/LF
// terminator and surrounding whitespace.
//
// The read is a bounded poll loop: bytes are consumed one at a time with a
// short link read timeout so the deadline and ctx are re-checked between
// bytes. On deadline it returns ErrLineTimeout; any partially accumulated
// bytes are discarded as noise.
func ReadLine(ctx context.Context, link Link, timeout time.Duration) (string, error) {
	if err := link.SetReadTimeout(pollInterval); err != nil {
		return "", fmt.Errorf("transfer: set read timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	var sb strings.Builder
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return "", ErrLineTimeout
		}

		n, err := link.Read(buf)
		if err != nil {
			return "", fmt.Errorf("transfer: read line: %w", err)
		}
		if n == 0 {
			continue
		}

		if buf[0] == '\n' {
			return strings.TrimSpace(sb.String()), nil
		}

		if sb.Len() >= maxLineLen {
			// Overlong garbage; restart accumulation.
			sb.Reset()

			continue
		}

		sb.WriteByte(buf[0])
	}
}

// writeLine writes a CRLF-terminated line to the link.
func writeLine(link Link, line string) error {
	data := []byte(line)

	for written := 0; written < len(data); {
		n, err := link.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}
