package transport

import (
	"fmt"
	"io"
	"strings"

	"github.com/jacobsa/go-serial/serial"

	"github.com/openlis/labwire/device"
)

// Port is a byte stream to a serial device.
type Port = io.ReadWriteCloser

// PortOpener opens the serial line described by t. Listeners take one as
// a dependency so tests can substitute an in-memory pipe.
type PortOpener func(t *device.Transport) (Port, error)

// OpenSerialPort opens a real serial port. Reads are polling: with no
// minimum read size the driver returns after the inter-character timeout
// even when no data arrived, surfacing io.EOF with a zero count.
func OpenSerialPort(t *device.Transport) (Port, error) {
	options := serial.OpenOptions{
		PortName:   t.PortName,
		BaudRate:   t.BaudRate,
		DataBits:   t.DataBits,
		StopBits:   t.StopBits,
		ParityMode: parityMode(t.Parity),

		// MinimumReadSize 0 requires an inter-character timeout of at
		// least 100ms; this pair makes Read a bounded poll.
		InterCharacterTimeout: 100,
		MinimumReadSize:       0,
	}
	if options.DataBits == 0 {
		options.DataBits = 8
	}
	if options.StopBits == 0 {
		options.StopBits = 1
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("%w: port %s: %v", ErrOpenFailed, t.PortName, err)
	}
	return port, nil
}

// parityMode maps the configuration spelling to the driver constant.
// Unrecognized values fall back to no parity.
func parityMode(parity string) serial.ParityMode {
	switch strings.ToUpper(strings.TrimSpace(parity)) {
	case "EVEN":
		return serial.PARITY_EVEN
	case "ODD":
		return serial.PARITY_ODD
	default:
		return serial.PARITY_NONE
	}
}
