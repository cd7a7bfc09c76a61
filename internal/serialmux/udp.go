package serialmux

import (
	"fmt"
	"net"
	"sync"
)

// UDPPort adapts a UDP socket to the SerialPorter interface so a
// serial-to-ethernet bridge can drive the same mux as a locally attached
// console. Reads surface datagram payloads; the mux's line scanner
// reassembles partial lines across datagrams. Writes go back to the
// bridge, whose address is learned from the most recent datagram unless
// pinned with SetPeer.
type UDPPort struct {
	conn *net.UDPConn

	mu   sync.Mutex
	peer *net.UDPAddr
}

// ListenUDPPort opens a UDP listener on addr (e.g. ":7301") and wraps it
// as a console port.
func ListenUDPPort(addr string) (*UDPPort, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}
	return &UDPPort{conn: conn}, nil
}

// NewUDPMux opens a UDP listener at addr and wraps it in a SerialMux.
func NewUDPMux(addr string) (*SerialMux[*UDPPort], error) {
	port, err := ListenUDPPort(addr)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

func (u *UDPPort) Read(p []byte) (int, error) {
	n, addr, err := u.conn.ReadFromUDP(p)
	if err != nil {
		return n, err
	}
	u.mu.Lock()
	u.peer = addr
	u.mu.Unlock()
	return n, nil
}

// Write sends p to the bridge the last datagram came from. Before the
// bridge has spoken there is nowhere to send; those writes are dropped,
// same as commands to a console that is not plugged in yet.
func (u *UDPPort) Write(p []byte) (int, error) {
	u.mu.Lock()
	peer := u.peer
	u.mu.Unlock()
	if peer == nil {
		return len(p), nil
	}
	return u.conn.WriteToUDP(p, peer)
}

// SetPeer pins the bridge address commands are written to, instead of
// learning it from inbound traffic.
func (u *UDPPort) SetPeer(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve bridge address %q: %w", addr, err)
	}
	u.mu.Lock()
	u.peer = udpAddr
	u.mu.Unlock()
	return nil
}

// Close closes the socket, unblocking any in-flight Read.
func (u *UDPPort) Close() error {
	return u.conn.Close()
}
