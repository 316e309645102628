package socket

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrMemoryTransportClosed is returned by Memory's Write after Close.
var ErrMemoryTransportClosed = errors.New("memory transport closed")

// pollInterval is how often Select re-checks readiness while waiting.
// Fine enough not to add perceptible latency to tests, coarse enough not
// to spin.
const pollInterval = time.Millisecond

// Memory is an in-memory Transport test double: bytes given to Feed are
// what a subsequent Read returns, and Write appends to an internal buffer
// retrievable via Written. It exists so handshake/dispatch/connection
// tests can drive a Socket without a real network listener.
type Memory struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
}

// NewMemory returns a ready-to-use in-memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Feed appends bytes that a subsequent Read will return, as if they had
// arrived over the wire. Safe to call concurrently with Read/Select.
func (m *Memory) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Write(data)
}

// Written returns a copy of everything written so far via Write.
func (m *Memory) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.out.Len())
	copy(out, m.out.Bytes())
	return out
}

func (m *Memory) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.mu.Lock()
		if m.in.Len() > 0 {
			n, err := m.in.Read(buf)
			m.mu.Unlock()
			return n, err
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return 0, nil
		}
		if time.Now().After(deadline) {
			return 0, errors.New("memory transport: Read timed out waiting for Feed")
		}
		time.Sleep(pollInterval)
	}
}

func (m *Memory) Write(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrMemoryTransportClosed
	}
	return m.out.Write(buf)
}

// Select blocks until data is available, the transport closes, or timeout
// elapses (Indefinite blocks up to an internal safety ceiling rather than
// truly forever, since this is a test double with no real peer to wake
// it; 0 polls once without blocking).
func (m *Memory) Select(timeout time.Duration) (bool, error) {
	readyNow := func() (bool, bool) { // (ready, closed)
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.in.Len() > 0, m.closed
	}

	// A closed transport reports readable so the following Read can
	// surface end-of-stream.
	ready, closed := readyNow()
	if ready || closed {
		return true, nil
	}
	if timeout == 0 {
		return false, nil
	}

	limit := timeout
	if timeout == Indefinite {
		limit = 30 * time.Second
	}
	deadline := time.Now().Add(limit)

	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		ready, closed = readyNow()
		if ready || closed {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
