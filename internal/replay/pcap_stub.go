//go:build !pcap
// +build !pcap

package replay

import "fmt"

// NewPCAPFileReader is a stub that returns an error when pcap support
// is not compiled in. Build with -tags=pcap to read capture files.
func NewPCAPFileReader() (PCAPReader, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap")
}
