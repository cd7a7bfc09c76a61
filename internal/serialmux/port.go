package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a console port.
// This abstraction enables unit testing without real hardware and lets a
// UDP serial-bridge adapter stand in for a local serial device.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
