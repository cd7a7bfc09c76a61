//go:build pcap
// +build pcap

package replay

import (
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// gopacketReader reads UDP payloads out of a capture file via libpcap.
type gopacketReader struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
}

// NewPCAPFileReader returns a capture reader backed by libpcap.
func NewPCAPFileReader() (PCAPReader, error) {
	return &gopacketReader{}, nil
}

func (r *gopacketReader) Open(filename string) error {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", filename, err)
	}
	r.handle = handle
	return nil
}

func (r *gopacketReader) SetBPFFilter(filter string) error {
	if r.handle == nil {
		return fmt.Errorf("capture not open")
	}
	if err := r.handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}
	return nil
}

// NextPacket walks the capture to the next UDP datagram that carries a
// payload. Non-UDP and empty packets are skipped.
func (r *gopacketReader) NextPacket() (*PCAPPacket, error) {
	if r.handle == nil {
		return nil, fmt.Errorf("capture not open")
	}
	if r.source == nil {
		// Created lazily so the BPF filter is already applied.
		r.source = gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	}

	for {
		packet, err := r.source.NextPacket()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		return &PCAPPacket{
			Payload:   udp.Payload,
			Timestamp: packet.Metadata().Timestamp,
		}, nil
	}
}

func (r *gopacketReader) Close() {
	if r.handle != nil {
		r.handle.Close()
	}
}
