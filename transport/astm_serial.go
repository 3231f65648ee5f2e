package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openlis/labwire/audit"
	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/internal/task"
	"github.com/openlis/labwire/logger"
)

// replyPause is the settle time between handshake phases of a framed
// reply. Analyzers on slow serial lines drop bytes without it.
const replyPause = 100 * time.Millisecond

// ASTMSerialListener serves one passive serial device speaking the ASTM
// handshake. The instrument drives the exchange:
//
//	ENQ           clear buffer, answer ACK
//	STX           consumed, never buffered
//	EOT           finalize the buffered text, reply if the handler says so
//	anything else appended verbatim, per-line frame bytes included
//
// Only the outer ENQ..EOT envelope is stripped here; record structure is
// the codec's concern. I/O errors drop the frame in progress and the
// instrument's next ENQ starts over.
type ASTMSerialListener struct {
	device  *device.Config
	handler Handler
	audit   *audit.Service
	logger  logger.Logger

	open  PortOpener
	pause time.Duration

	tasks *task.Manager
	port  Port
	buf   bytes.Buffer
}

// NewASTMSerialListener creates a listener for dev. The audit service
// receives every finalized inbound message before it is handled. l may be
// nil, in which case the package default logger is used.
func NewASTMSerialListener(dev *device.Config, handler Handler, auditSvc *audit.Service, l logger.Logger) *ASTMSerialListener {
	if l == nil {
		l = logger.GetLogger()
	}
	return &ASTMSerialListener{
		device:  dev,
		handler: handler,
		audit:   auditSvc,
		logger:  l.With("device", dev.ID),
		open:    OpenSerialPort,
		pause:   replyPause,
	}
}

// Start opens the serial port and begins the read loop.
func (l *ASTMSerialListener) Start() error {
	port, err := l.open(&l.device.Transport)
	if err != nil {
		return err
	}
	l.port = port

	l.logger.Info("serial port open, waiting for handshake",
		"port", l.device.Transport.PortName)

	l.tasks = task.NewManager(context.Background(), l.logger)
	l.tasks.Loop("astm-serial-read", l.readChunk, func() {
		_ = l.port.Close()
	})

	return nil
}

// Stop ends the read loop and closes the port. It returns once the loop
// goroutine finished or the shutdown grace period passed.
func (l *ASTMSerialListener) Stop() {
	if l.tasks == nil {
		return
	}
	l.tasks.Stop()
	// Closing unblocks a read in progress.
	_ = l.port.Close()
	l.tasks.WaitTimeout(2 * time.Second)
}

// readChunk performs one polling read. A zero-count io.EOF only means
// the poll window elapsed with no data.
func (l *ASTMSerialListener) readChunk() bool {
	chunk := make([]byte, 256)

	n, err := l.port.Read(chunk)
	for _, b := range chunk[:n] {
		l.handleByte(b)
	}

	if err != nil {
		if err == io.EOF && n == 0 {
			return !l.tasks.Stopping()
		}
		if !l.tasks.Stopping() {
			l.logger.Error("serial read failed", "error", err)
		}
		return false
	}
	return true
}

func (l *ASTMSerialListener) handleByte(b byte) {
	switch b {
	case ENQ:
		l.logger.Debug("ENQ received, acknowledging")
		l.buf.Reset()
		l.write([]byte{ACK})
	case STX:
	case EOT:
		l.logger.Debug("EOT received, transmission complete")
		if l.buf.Len() == 0 {
			return
		}
		raw := l.buf.String()
		l.buf.Reset()

		l.audit.Record(raw, l.device)
		if reply := l.handler.Handle(Frame{Raw: raw, Device: l.device}); reply != "" {
			l.sendReply(reply)
		}
	default:
		l.buf.WriteByte(b)
	}
}

// sendReply transmits a framed response: ENQ, then the STX-framed
// payload '1' + reply + ETX with its checksum and CR LF, then EOT, with
// settle pauses between the phases.
func (l *ASTMSerialListener) sendReply(reply string) {
	l.logger.Info("sending query response to instrument")

	if !l.write([]byte{ENQ}) {
		return
	}
	time.Sleep(l.pause)

	frame := make([]byte, 0, len(reply)+2)
	frame = append(frame, '1')
	frame = append(frame, reply...)
	frame = append(frame, ETX)
	checksum := Checksum(frame)

	if !l.write([]byte{STX}) ||
		!l.write(frame) ||
		!l.write([]byte(checksum)) ||
		!l.write([]byte{CR, LF}) {
		return
	}
	time.Sleep(l.pause)

	if l.write([]byte{EOT}) {
		l.logger.Info("query response sent", "checksum", checksum)
	}
}

func (l *ASTMSerialListener) write(data []byte) bool {
	if _, err := l.port.Write(data); err != nil {
		l.logger.Error("serial write failed", "error", err)
		return false
	}
	return true
}

// String identifies the listener in manager logs.
func (l *ASTMSerialListener) String() string {
	return fmt.Sprintf("astm-serial[%s]", l.device.ID)
}
