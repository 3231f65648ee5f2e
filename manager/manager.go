// Package manager owns the lifecycle of every device transport: one
// listener per enabled device, started together at boot and stopped
// together at shutdown, plus the entry point for master-initiated
// request/response exchanges.
package manager

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openlis/labwire/audit"
	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/logger"
	"github.com/openlis/labwire/transport"
)

var (
	// ErrUnknownDevice is returned for device ids with no running listener.
	ErrUnknownDevice = errors.New("manager: unknown device")
	// ErrUnsupportedOperation is returned when an active request targets
	// a passive device.
	ErrUnsupportedOperation = errors.New("manager: device does not support active requests")
)

// Factory builds the transport listener for one device, or nil when the
// configuration names no usable transport.
type Factory func(dev *device.Config) transport.Listener

// Manager starts and stops the per-device listeners. All methods are safe
// for concurrent use.
type Manager struct {
	devices   map[string]*device.Config
	factory   Factory
	logger    logger.Logger
	listeners *xsync.MapOf[string, transport.Listener]
}

// New creates a Manager for devices. The default factory picks the
// transport by protocol and wire type: active block devices get a serial
// requester, TCP devices an MLLP listener, serial devices an ASTM
// handshake listener. l may be nil, in which case the package default
// logger is used.
func New(devices map[string]*device.Config, handler transport.Handler, auditSvc *audit.Service, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	m := &Manager{
		devices:   devices,
		logger:    l,
		listeners: xsync.NewMapOf[string, transport.Listener](),
	}
	m.factory = func(dev *device.Config) transport.Listener {
		if dev.IsActive() {
			return transport.NewIntegraRequester(dev, l)
		}
		switch dev.Transport.Type {
		case device.TransportTCP:
			return transport.NewMLLPListener(dev, handler, l)
		case device.TransportSerial:
			return transport.NewASTMSerialListener(dev, handler, auditSvc, l)
		default:
			return nil
		}
	}
	return m
}

// Start builds and starts a listener for every enabled device. A listener
// that fails to start is logged and stays registered: active devices
// reopen on the next request, passive ones surface the problem in the log
// for the operator.
func (m *Manager) Start() {
	m.logger.Info("manager: starting device listeners", "devices", len(m.devices))

	for id, dev := range m.devices {
		if !dev.Enabled {
			m.logger.Info("manager: device disabled, skipping", "device", id)
			continue
		}

		listener := m.factory(dev)
		if listener == nil {
			m.logger.Warn("manager: no transport for device",
				"device", id, "type", dev.Transport.Type.String())
			continue
		}

		m.logger.Info("manager: starting listener",
			"device", id, "name", dev.Name, "protocol", dev.Protocol.String())
		if err := listener.Start(); err != nil {
			m.logger.Error("manager: listener start failed", "device", id, "error", err)
		}
		m.listeners.Store(id, listener)
	}
}

// Stop shuts every listener down. Each listener bounds its own shutdown
// wait, so a stuck device worker is abandoned rather than blocking the
// process exit.
func (m *Manager) Stop() {
	m.logger.Info("manager: stopping device listeners")

	m.listeners.Range(func(id string, listener transport.Listener) bool {
		listener.Stop()
		m.listeners.Delete(id)
		return true
	})

	m.logger.Info("manager: all listeners stopped")
}

// SendActiveRequest performs one request/response exchange with an active
// device and returns the raw response.
func (m *Manager) SendActiveRequest(deviceID, request string) (string, error) {
	listener, ok := m.listeners.Load(deviceID)
	if !ok {
		return "", ErrUnknownDevice
	}

	requester, ok := listener.(transport.ActiveRequester)
	if !ok {
		m.logger.Error("manager: active request to passive device", "device", deviceID)
		return "", ErrUnsupportedOperation
	}

	return requester.SendRequest(request)
}

// DeviceConfig returns the configuration for deviceID, or nil when the
// id is not configured.
func (m *Manager) DeviceConfig(deviceID string) *device.Config {
	return m.devices[deviceID]
}

// ListenerCount reports how many listeners are currently registered.
func (m *Manager) ListenerCount() int {
	return m.listeners.Size()
}
