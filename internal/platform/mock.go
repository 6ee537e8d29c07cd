package platform

import (
	"context"
	"sync"
)

// Mock is an in-memory Backend used by tests; it is the one backend the
// conformance suite runs against. It has a fixed pool of
// frame-sized buffers and a FIFO of pre-loaded "received" frames; SendBatch
// records what was sent instead of transmitting it anywhere.
type Mock struct {
	mu       sync.Mutex
	pool     [][]byte
	pending  [][]byte
	Sent     [][]byte
	released int
	cfg      Config

	// MaxSend, when non-zero, caps how many descriptors SendBatch accepts
	// per call, so tests can force the short-send path a full TX ring or
	// queue produces on a real backend.
	MaxSend int
	// RecvErr and SendErr, when set, are returned by RecvBatch/SendBatch
	// instead of their normal result, so tests can force the backend-level
	// failure path a real NIC driver or ring corruption would produce.
	RecvErr error
	SendErr error
	// ReleasedSent and ReleasedRejected record the exact descriptor slices
	// each Release* call received, so a test can assert the untransmitted
	// tail of a short send was included.
	ReleasedSent     [][]byte
	ReleasedRejected [][]byte
}

// NewMock returns a Mock backend with poolSize frame-sized buffers.
func NewMock(poolSize, frameSize int) *Mock {
	m := &Mock{}
	for i := 0; i < poolSize; i++ {
		m.pool = append(m.pool, make([]byte, frameSize))
	}
	return m
}

// Enqueue adds a frame to the queue RecvBatch will hand out, copying data
// into a pool buffer. It panics if the pool is exhausted, since that is a
// test-setup bug, not a runtime condition.
func (m *Mock) Enqueue(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pool) == 0 {
		panic("platform: mock pool exhausted")
	}
	buf := m.pool[len(m.pool)-1]
	m.pool = m.pool[:len(m.pool)-1]
	buf = buf[:copy(buf, data)]
	m.pending = append(m.pending, buf)
}

func (m *Mock) Init(_ context.Context, cfg *Config, _ int) error {
	m.cfg = *cfg
	return nil
}

func (m *Mock) Cleanup() error { return nil }

func (m *Mock) RecvBatch(out []FrameDesc) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecvErr != nil {
		return 0, m.RecvErr
	}

	n := 0
	for n < len(out) && len(m.pending) > 0 {
		out[n] = FrameDesc{Bytes: m.pending[0]}
		m.pending = m.pending[1:]
		n++
	}
	return n, nil
}

func (m *Mock) SendBatch(descs []FrameDesc) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return 0, m.SendErr
	}

	n := len(descs)
	if m.MaxSend > 0 && n > m.MaxSend {
		n = m.MaxSend
	}
	for _, d := range descs[:n] {
		m.Sent = append(m.Sent, append([]byte(nil), d.Bytes...))
	}
	return n, nil
}

func (m *Mock) ReleaseRejected(descs []FrameDesc) {
	m.mu.Lock()
	for _, d := range descs {
		m.ReleasedRejected = append(m.ReleasedRejected, d.Bytes)
	}
	m.mu.Unlock()
	m.release(descs)
}

func (m *Mock) ReleaseSent(descs []FrameDesc) {
	m.mu.Lock()
	for _, d := range descs {
		m.ReleasedSent = append(m.ReleasedSent, d.Bytes)
	}
	m.mu.Unlock()
	m.release(descs)
}

func (m *Mock) release(descs []FrameDesc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range descs {
		m.pool = append(m.pool, d.Bytes[:cap(d.Bytes)])
		m.released++
	}
}

// Released reports how many descriptors have been returned to the pool via
// either release method, for conformance-test accounting.
func (m *Mock) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}
