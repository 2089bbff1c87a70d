package transfer

import (
	"fmt"
	"strconv"
	"strings"
)

// Acknowledgment line protocol: line-oriented, UTF-8, CRLF-terminated
// status reports sent by the receiver after attempting to read a frame.
const (
	ackReadyLine    = "ACK_READY"
	ackOKLine       = "ACK_OK"
	ackMissingToken = "ACK_MISSING:"
	ackErrorLine    = "ACK_ERROR"
)

// AckKind classifies an acknowledgment message.
type AckKind int8

const (
	// AckReady signals the receiver has allocated buffers and is listening.
	AckReady AckKind = iota + 1
	// AckOK confirms the received byte count equals the declared size.
	AckOK
	// AckMissing reports the receiver holds only a prefix of the payload.
	AckMissing
	// AckError signals an unrecoverable receiver-local fault.
	AckError
)

func (k AckKind) String() string {
	switch k {
	case AckReady:
		return "ACK_READY"
	case AckOK:
		return "ACK_OK"
	case AckMissing:
		return "ACK_MISSING"
	case AckError:
		return "ACK_ERROR"
	default:
		return fmt.Sprintf("AckKind(%d)", int8(k))
	}
}

// Ack is one acknowledgment message. Received is meaningful only for
// AckMissing, where it carries the receiver's held prefix length.
type Ack struct {
	Kind     AckKind
	Received uint32
}

// parseAckLine parses a received line as an acknowledgment. The line must
// already be stripped of its CRLF terminator. Unrecognized lines return
// ok=false and are treated as noise by callers.
func parseAckLine(line string) (Ack, bool) {
	line = strings.TrimSpace(line)

	switch {
	case line == ackReadyLine:
		return Ack{Kind: AckReady}, true

	case line == ackOKLine:
		return Ack{Kind: AckOK}, true

	case line == ackErrorLine:
		return Ack{Kind: AckError}, true

	case strings.HasPrefix(line, ackMissingToken):
		count, err := strconv.ParseUint(line[len(ackMissingToken):], 10, 32)
		if err != nil {
			return Ack{}, false
		}

		return Ack{Kind: AckMissing, Received: uint32(count)}, true
	}

	return Ack{}, false
}

// line renders the acknowledgment in its CRLF-terminated wire form.
func (a Ack) line() string {
	if a.Kind == AckMissing {
		return fmt.Sprintf("%s%d\r\n", ackMissingToken, a.Received)
	}

	return a.Kind.String() + "\r\n"
}
