// Package transport contains the per-device byte-level state machines:
// the passive ASTM serial handshake, the passive MLLP TCP framer and the
// active master-initiated block requester. Each turns a raw byte stream
// into complete frames for the dispatcher and writes framed replies where
// the protocol calls for them.
package transport

import (
	"errors"
	"fmt"

	"github.com/openlis/labwire/device"
)

// Control bytes shared by the wire protocols.
const (
	SOH byte = 0x01 // start of header (block protocol)
	STX byte = 0x02 // start of text
	ETX byte = 0x03 // end of text
	EOT byte = 0x04 // end of transmission
	ENQ byte = 0x05 // enquiry (handshake open)
	ACK byte = 0x06 // acknowledge
	LF  byte = 0x0a
	VT  byte = 0x0b // MLLP start of block
	CR  byte = 0x0d
	FS  byte = 0x1c // MLLP end of block
)

var (
	// ErrOpenFailed is returned when a port or socket cannot be opened.
	ErrOpenFailed = errors.New("transport: open failed")
	// ErrTimeout is returned when an active request gets no complete
	// reply within the configured window.
	ErrTimeout = errors.New("transport: timeout waiting for response")
	// ErrClosed is returned when an operation hits a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// Frame is one complete inbound message with the device it came from.
type Frame struct {
	Raw    string
	Device *device.Config
}

// Handler consumes a frame and returns the reply to transmit, or "" when
// nothing should be sent back.
type Handler interface {
	Handle(frame Frame) string
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(frame Frame) string

func (f HandlerFunc) Handle(frame Frame) string { return f(frame) }

// Listener is one device's transport endpoint. Start is non-blocking;
// Stop signals shutdown and releases the underlying port or socket.
type Listener interface {
	Start() error
	Stop()
}

// ActiveRequester is a Listener for master-initiated devices: it holds
// the line open and exchanges request/response pairs on demand.
type ActiveRequester interface {
	Listener
	SendRequest(request string) (string, error)
}

// Checksum renders the sum of data modulo 256 as two uppercase hex
// digits, the trailer the serial handshake appends to reply frames.
func Checksum(data []byte) string {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return fmt.Sprintf("%02X", sum)
}
