package replay

import (
	"errors"
	"io"
	"sync"
	"time"
)

// PCAPPacket is one UDP bridge datagram recovered from a capture. The
// payload is the console text as it went over the wire.
type PCAPPacket struct {
	Payload   []byte
	Timestamp time.Time
}

// PCAPReader reads bridge datagrams from a capture file. The gopacket
// implementation lives behind the pcap build tag; this abstraction lets
// the pacing logic be tested without libpcap.
type PCAPReader interface {
	// Open opens a capture file for reading.
	Open(filename string) error

	// SetBPFFilter restricts which packets NextPacket yields.
	SetBPFFilter(filter string) error

	// NextPacket returns the next UDP payload in capture order, or
	// io.EOF when the capture is exhausted.
	NextPacket() (*PCAPPacket, error)

	// Close releases the underlying handle.
	Close()
}

// MockPCAPReader implements PCAPReader for testing.
type MockPCAPReader struct {
	mu sync.Mutex

	// Packets holds the packets to return from NextPacket.
	Packets []PCAPPacket

	// ReadIndex tracks the current position in Packets.
	ReadIndex int

	// OpenError is returned by Open if set.
	OpenError error

	// FilterError is returned by SetBPFFilter if set.
	FilterError error

	// OpenedFile records the filename passed to Open.
	OpenedFile string

	// AppliedFilter records the filter passed to SetBPFFilter.
	AppliedFilter string

	// Closed indicates whether Close was called.
	Closed bool
}

// NewMockPCAPReader creates a mock reader that will yield the given packets.
func NewMockPCAPReader(packets []PCAPPacket) *MockPCAPReader {
	return &MockPCAPReader{Packets: packets}
}

// Open records the filename and returns any configured error.
func (m *MockPCAPReader) Open(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenedFile = filename
	return m.OpenError
}

// SetBPFFilter records the filter and returns any configured error.
func (m *MockPCAPReader) SetBPFFilter(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppliedFilter = filter
	return m.FilterError
}

// NextPacket returns the next packet from the mock buffer.
func (m *MockPCAPReader) NextPacket() (*PCAPPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return nil, errors.New("reader closed")
	}
	if m.ReadIndex >= len(m.Packets) {
		return nil, io.EOF
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return &pkt, nil
}

// Close marks the reader as closed.
func (m *MockPCAPReader) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
}

// AddPacket appends a packet to the mock buffer.
func (m *MockPCAPReader) AddPacket(payload []byte, timestamp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Packets = append(m.Packets, PCAPPacket{
		Payload:   payload,
		Timestamp: timestamp,
	})
}
