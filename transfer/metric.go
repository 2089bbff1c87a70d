package transfer

import (
	"sync/atomic"
)

// Metrics contains atomic counters for transfer sessions. The fields can
// be used as the value source of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// FrameSendCount is the number of frames fully transmitted (drained).
	FrameSendCount atomic.Uint64
	// FrameRecvCount is the number of frames received to completion.
	FrameRecvCount atomic.Uint64

	// RetrySendCount is the number of suffix retransmissions written.
	RetrySendCount atomic.Uint64
	// RetryRecvCount is the number of suffix retransmissions consumed.
	RetryRecvCount atomic.Uint64

	// BytesSent is the number of payload bytes accepted by the link.
	BytesSent atomic.Uint64
	// BytesRecv is the number of payload bytes read from the link.
	BytesRecv atomic.Uint64

	// DrainTimeoutCount is the number of sends aborted by a drain timeout.
	DrainTimeoutCount atomic.Uint64
	// AckTimeoutCount is the number of acknowledgment waits that expired.
	AckTimeoutCount atomic.Uint64

	// SessionFailCount is the number of sessions that ended in Failed.
	SessionFailCount atomic.Uint64
}

func (m *Metrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *Metrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *Metrics) incRetrySendCount() {
	m.RetrySendCount.Add(1)
}

func (m *Metrics) incRetryRecvCount() {
	m.RetryRecvCount.Add(1)
}

func (m *Metrics) addBytesSent(n int) {
	m.BytesSent.Add(uint64(n)) //nolint:gosec // n is a non-negative write count
}

func (m *Metrics) addBytesRecv(n int) {
	m.BytesRecv.Add(uint64(n)) //nolint:gosec // n is a non-negative read count
}

func (m *Metrics) incDrainTimeoutCount() {
	m.DrainTimeoutCount.Add(1)
}

func (m *Metrics) incAckTimeoutCount() {
	m.AckTimeoutCount.Add(1)
}

func (m *Metrics) incSessionFailCount() {
	m.SessionFailCount.Add(1)
}
