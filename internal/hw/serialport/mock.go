package serialport

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/hsiscan/hsiscan/internal/debug"
)

// ErrPortClosed is returned by MockFirmware after Close.
var ErrPortClosed = errors.New("port closed")

// MockFirmware is an in-memory Port that behaves like the actuator
// firmware: every complete 2-byte command is acknowledged with Reply after
// Latency. It is used when hardware is mocked and in tests.
type MockFirmware struct {
	Reply   []byte
	Latency time.Duration

	mu       sync.Mutex
	pending  []byte
	commands []int16
	acks     chan []byte
	timeout  time.Duration
	closed   bool
}

// NewMockFirmware returns a mock that acknowledges with "ok\r\n".
func NewMockFirmware(latency time.Duration) *MockFirmware {
	return &MockFirmware{
		Reply:   []byte("ok\r\n"),
		Latency: latency,
		acks:    make(chan []byte, 64),
		timeout: time.Second,
	}
}

// Write records commands and schedules their acknowledgments.
func (m *MockFirmware) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	m.pending = append(m.pending, p...)
	for len(m.pending) >= 2 {
		cmd := int16(binary.LittleEndian.Uint16(m.pending[:2]))
		m.pending = m.pending[2:]
		m.commands = append(m.commands, cmd)
		debug.Trace("mock firmware: command %d", cmd)
		reply := append([]byte(nil), m.Reply...)
		latency := m.Latency
		go func() {
			time.Sleep(latency)
			m.acks <- reply
		}()
	}
	return len(p), nil
}

// Read returns the next acknowledgment, or 0 bytes once the read timeout
// passes, matching go.bug.st/serial semantics.
func (m *MockFirmware) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	timeout := m.timeout
	m.mu.Unlock()

	select {
	case ack := <-m.acks:
		return copy(p, ack), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

// SetReadTimeout sets how long Read blocks.
func (m *MockFirmware) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

// Commands returns every decoded command so far.
func (m *MockFirmware) Commands() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.commands...)
}

// Close marks the port closed.
func (m *MockFirmware) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
