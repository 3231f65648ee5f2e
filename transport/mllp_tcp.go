package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/internal/task"
	"github.com/openlis/labwire/logger"
)

// MLLPListener serves one passive TCP device sending MLLP-wrapped HL7.
// Each accepted connection gets its own handler goroutine so a slow peer
// never blocks the accept loop or the other connections.
//
// Per-connection framing: VT clears the buffer and opens a block; FS
// inside a block is final only when the next byte is CR, otherwise the FS
// is spurious and that next byte is buffered as payload; everything else
// inside a block is payload. Bytes outside a block are discarded.
type MLLPListener struct {
	device  *device.Config
	handler Handler
	logger  logger.Logger

	tasks    *task.Manager
	listener net.Listener

	nextConnID atomic.Uint64
	conns      *xsync.MapOf[uint64, net.Conn]
}

// NewMLLPListener creates a listener for dev. l may be nil, in which case
// the package default logger is used.
func NewMLLPListener(dev *device.Config, handler Handler, l logger.Logger) *MLLPListener {
	if l == nil {
		l = logger.GetLogger()
	}
	return &MLLPListener{
		device:  dev,
		handler: handler,
		logger:  l.With("device", dev.ID),
		conns:   xsync.NewMapOf[uint64, net.Conn](),
	}
}

// Start binds the listening socket and begins accepting connections.
func (l *MLLPListener) Start() error {
	listener, err := net.Listen("tcp", l.device.Transport.Addr())
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrOpenFailed, l.device.Transport.Addr(), err)
	}
	l.listener = listener

	l.logger.Info("tcp server started", "addr", listener.Addr().String())

	l.tasks = task.NewManager(context.Background(), l.logger)
	l.tasks.Run("mllp-accept", l.acceptLoop, func() {
		_ = l.listener.Close()
	})

	return nil
}

// Stop closes the listening socket and every open connection, then waits
// for the handlers up to the shutdown grace period.
func (l *MLLPListener) Stop() {
	if l.tasks == nil {
		return
	}
	l.tasks.Stop()
	_ = l.listener.Close()
	l.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})
	l.tasks.WaitTimeout(2 * time.Second)
}

// Addr returns the bound listen address, useful when the configured port
// is 0.
func (l *MLLPListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *MLLPListener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !l.tasks.Stopping() && !errors.Is(err, net.ErrClosed) {
				l.logger.Error("accept failed", "error", err)
			}
			return
		}

		l.logger.Info("client connected", "remote", conn.RemoteAddr().String())

		id := l.nextConnID.Add(1)
		l.conns.Store(id, conn)
		l.tasks.Run(fmt.Sprintf("mllp-conn-%d", id), func() {
			l.serveConn(conn)
		}, func() {
			l.conns.Delete(id)
			_ = conn.Close()
			l.logger.Info("client connection closed", "remote", conn.RemoteAddr().String())
		})
	}
}

func (l *MLLPListener) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	var buf bytes.Buffer
	inBlock := false

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return
		}

		switch {
		case b == VT:
			inBlock = true
			buf.Reset()
		case b == FS && inBlock:
			next, err := reader.ReadByte()
			if err != nil {
				return
			}
			if next != CR {
				// Spurious end-of-block: drop the FS, keep the payload byte.
				buf.WriteByte(next)
				continue
			}

			inBlock = false
			raw := buf.String()
			buf.Reset()

			l.logger.Info("hl7 message received", "bytes", len(raw))
			l.handler.Handle(Frame{Raw: raw, Device: l.device})
			// TODO: reply with an MLLP-framed HL7 ACK once the analyzers
			// are confirmed to wait for one.
		case inBlock:
			buf.WriteByte(b)
		}
	}
}

// String identifies the listener in manager logs.
func (l *MLLPListener) String() string {
	return fmt.Sprintf("mllp-tcp[%s]", l.device.ID)
}
