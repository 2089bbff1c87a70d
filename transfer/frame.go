package transfer

import (
	"bytes"
	"encoding/binary"
)

// Wire framing constants.
//
// A frame on the wire is:
//
//	[StartMarker(10)][SizeHeader(4, big-endian)][Payload(SizeHeader bytes)]
//
// optionally followed by the advisory trailer [EndMarker(10)][TrailerText].
// A suffix retransmission is [RetryMarker(4)][CorrectionBytes].
const (
	startMarkerLen = 10
	endMarkerLen   = 10
	retryMarkerLen = 4

	// sizeHeaderLen is the fixed width of the payload size field.
	sizeHeaderLen = 4
)

// TrailerText is the human-readable terminator written after the end
// marker. It is advisory only; completion is decided solely by byte count.
const TrailerText = "<FIN_TRANSMISION>\r\n"

var (
	// StartMarker announces the beginning of a frame.
	StartMarker = bytes.Repeat([]byte{0xAA}, startMarkerLen)

	// EndMarker precedes the advisory trailer text.
	EndMarker = bytes.Repeat([]byte{0xBB}, endMarkerLen)

	// RetryMarker announces a suffix retransmission. It is deliberately
	// distinct from StartMarker so the two synchronization states cannot
	// be confused.
	RetryMarker = bytes.Repeat([]byte{0xCC}, retryMarkerLen)
)

// markerKind identifies which synchronization marker a scan located.
type markerKind int8

const (
	markerNone markerKind = iota
	markerStart
	markerRetry
)

func (k markerKind) String() string {
	switch k {
	case markerStart:
		return "start"
	case markerRetry:
		return "retry"
	default:
		return "none"
	}
}

// encodeSizeHeader encodes a payload length as the 4-byte big-endian size
// header.
func encodeSizeHeader(payloadLen uint32) []byte {
	buf := make([]byte, sizeHeaderLen)
	binary.BigEndian.PutUint32(buf, payloadLen)

	return buf
}

// decodeSizeHeader decodes the 4-byte big-endian size header.
// Panics if fewer than 4 bytes are supplied; callers read the fixed-width
// field in full before decoding.
func decodeSizeHeader(data []byte) uint32 {
	return binary.BigEndian.Uint32(data[:sizeHeaderLen])
}

// EncodeHeader produces the frame preamble for a payload of the given
// length: start marker followed by the big-endian size header.
func EncodeHeader(payloadLen uint32) []byte {
	buf := make([]byte, 0, startMarkerLen+sizeHeaderLen)
	buf = append(buf, StartMarker...)
	buf = append(buf, encodeSizeHeader(payloadLen)...)

	return buf
}
