package transport

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/logger"
)

const (
	// requestTimeout bounds how long one request waits for its reply.
	requestTimeout = 15 * time.Second
	// pollInterval spaces the reads while waiting for reply bytes.
	pollInterval = 20 * time.Millisecond
)

// IntegraRequester drives one active serial device: the middleware is
// the master and the instrument only speaks when spoken to. Start opens
// the line and holds it; all traffic happens inside SendRequest, one
// exchange at a time.
type IntegraRequester struct {
	device *device.Config
	logger logger.Logger

	open    PortOpener
	timeout time.Duration
	poll    time.Duration

	mu   sync.Mutex
	port Port
}

// NewIntegraRequester creates a requester for dev. l may be nil, in which
// case the package default logger is used.
func NewIntegraRequester(dev *device.Config, l logger.Logger) *IntegraRequester {
	if l == nil {
		l = logger.GetLogger()
	}
	return &IntegraRequester{
		device:  dev,
		logger:  l.With("device", dev.ID),
		open:    OpenSerialPort,
		timeout: requestTimeout,
		poll:    pollInterval,
	}
}

// Start opens the serial line. The port is kept open across requests; a
// failed open is retried by the next SendRequest.
func (r *IntegraRequester) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked()
}

// Stop closes the line.
func (r *IntegraRequester) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		_ = r.port.Close()
		r.port = nil
		r.logger.Info("serial port closed", "port", r.device.Transport.PortName)
	}
}

// IsOpen reports whether the line is currently open.
func (r *IntegraRequester) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port != nil
}

// SendRequest writes request and accumulates reply bytes until the EOT
// terminator (kept in the returned text) or the request timeout. Only one
// request is in flight at a time; a timeout leaves the port open for the
// next attempt.
func (r *IntegraRequester) SendRequest(request string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		r.logger.Warn("port not open, reopening before request")
		if err := r.openLocked(); err != nil {
			return "", err
		}
	}

	if _, err := r.port.Write([]byte(request)); err != nil {
		return "", fmt.Errorf("transport: write request: %w", err)
	}
	r.logger.Info("request sent", "bytes", len(request))

	var response strings.Builder
	chunk := make([]byte, 256)
	deadline := time.Now().Add(r.timeout)

	for time.Now().Before(deadline) {
		n, err := r.port.Read(chunk)
		for _, b := range chunk[:n] {
			response.WriteByte(b)
			if b == EOT {
				r.logger.Info("complete response received", "bytes", response.Len())
				return response.String(), nil
			}
		}
		if err != nil && !(err == io.EOF && n == 0) {
			return "", fmt.Errorf("transport: read response: %w", err)
		}
		time.Sleep(r.poll)
	}

	r.logger.Warn("timed out waiting for instrument response")
	return "", ErrTimeout
}

func (r *IntegraRequester) openLocked() error {
	if r.port != nil {
		return nil
	}

	port, err := r.open(&r.device.Transport)
	if err != nil {
		r.logger.Error("serial open failed",
			"port", r.device.Transport.PortName, "error", err)
		return err
	}
	r.port = port

	r.logger.Info("serial port open for active communication",
		"port", r.device.Transport.PortName)
	return nil
}

// String identifies the requester in manager logs.
func (r *IntegraRequester) String() string {
	return fmt.Sprintf("integra-serial[%s]", r.device.ID)
}
