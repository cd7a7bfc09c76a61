package serialmux

import (
	"go.bug.st/serial"
)

// MuxOpener opens a mux over the console at the given path. The console
// reload manager takes one of these so tests can substitute fakes for
// real hardware.
type MuxOpener func(path string, opts PortOptions) (SerialMuxInterface, error)

// NewRealSerialMux creates a SerialMux instance backed by a real serial
// port at the given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux[serial.Port](port), nil
}

// OpenRealMux adapts NewRealSerialMux to the MuxOpener signature.
func OpenRealMux(path string, opts PortOptions) (SerialMuxInterface, error) {
	return NewRealSerialMux(path, opts)
}
