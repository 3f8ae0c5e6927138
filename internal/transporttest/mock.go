// Package transporttest provides a scriptable in-memory ByteChannel for
// exercising the SBP and RKL engines without real hardware.
package transporttest

import (
	"fmt"

	"imxatk/internal/transport"
)

// MockChannel is a ByteChannel whose reads are served from a byte queue the
// test fills with QueueResponse, and whose writes are recorded for later
// assertions.
type MockChannel struct {
	kind transport.Kind

	rx      []byte
	Writes  [][]byte
	opened  bool
	closed  bool
	OpenErr error
}

// NewMockChannel returns a MockChannel reporting the given Kind.
func NewMockChannel(kind transport.Kind) *MockChannel {
	return &MockChannel{kind: kind}
}

func (m *MockChannel) Kind() transport.Kind { return m.kind }

func (m *MockChannel) Open() error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opened = true
	m.closed = false
	return nil
}

func (m *MockChannel) Close() error {
	m.closed = true
	m.opened = false
	return nil
}

func (m *MockChannel) Write(b []byte) error {
	if !m.opened {
		return transport.ErrClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.Writes = append(m.Writes, cp)
	return nil
}

// QueueResponse appends bytes that will be handed out by subsequent
// ReadExact calls, in order.
func (m *MockChannel) QueueResponse(b []byte) {
	m.rx = append(m.rx, b...)
}

// ReadExact returns exactly n queued bytes, or a transport.Error wrapping
// transport.ErrTimeout when fewer than n bytes are queued, the same
// contract a real channel gives.
func (m *MockChannel) ReadExact(n int) ([]byte, error) {
	if !m.opened {
		return nil, transport.ErrClosed
	}
	if len(m.rx) < n {
		return nil, &transport.Error{Op: "mock read", Err: fmt.Errorf("%w (wanted %d, have %d)", transport.ErrTimeout, n, len(m.rx))}
	}
	out := m.rx[:n]
	m.rx = m.rx[n:]
	return out, nil
}

// LastWrite returns the most recent bytes written, or nil if none.
func (m *MockChannel) LastWrite() []byte {
	if len(m.Writes) == 0 {
		return nil
	}
	return m.Writes[len(m.Writes)-1]
}

// AllWrites concatenates every Write call's bytes in order.
func (m *MockChannel) AllWrites() []byte {
	var out []byte
	for _, w := range m.Writes {
		out = append(out, w...)
	}
	return out
}
