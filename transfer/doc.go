// Package transfer implements a reliable chunked transfer protocol for
// moving a single binary payload (typically a captured photo) across a
// half-duplex, byte-oriented serial link that offers no native framing,
// checksums, or flow guarantees beyond raw byte delivery.
//
// # Wire Format
//
// One frame on the wire is:
//
//	[StartMarker 10×0xAA][SizeHeader 4 bytes big-endian][Payload]
//
// optionally followed by an advisory trailer (10×0xBB plus the text
// "<FIN_TRANSMISION>\r\n") that receivers must never rely on: completion
// is decided solely by byte count. A suffix retransmission is the 4×0xCC
// retry marker followed by the missing tail bytes, with no size header;
// the correction length is implicit from the acknowledgment exchange.
//
// # Acknowledgment Protocol
//
// After attempting to read a frame, the receiver reports its status on the
// same link as a CRLF-terminated line:
//
//   - ACK_READY: buffers allocated, listening (optional pre-phase)
//   - ACK_OK: received byte count equals the declared size
//   - ACK_MISSING:<n>: holding exactly n bytes of the payload
//   - ACK_ERROR: unrecoverable receiver-local fault
//
// On ACK_MISSING the sender retransmits only the missing suffix: the
// protocol never reorders bytes, so loss is always a contiguous tail and
// no sparse-gap representation is needed. The cycle is bounded by the
// configured retry budget.
//
// # Concurrency Model
//
// Everything is single-threaded, synchronous, blocking I/O. All waiting is
// deadline-based poll loops with short read timeouts. Cancellation is the
// caller's context plus closing the Link, which makes in-flight reads fail
// rather than hang.
//
// A Session is created per transfer attempt via NewSession and runs
// exactly one Send or one Receive. The partially assembled buffer is
// always handed back, even on failure: partial image data has diagnostic
// value.
package transfer
