// Package device defines the static configuration of the analyzer
// instruments labwire talks to. A Config is immutable after load and is
// shared read-only between the listener manager, the transports and the
// dispatcher.
package device

import (
	"fmt"
	"strings"
)

// Protocol identifies the message family a device speaks. The set is
// closed: each protocol has exactly one codec and adding one means adding
// a variant here, a codec package, and a case at the dispatch points.
type Protocol uint8

const (
	// ProtocolUnknown is the zero value; it never appears in a loaded Config.
	ProtocolUnknown Protocol = iota
	// ProtocolASTM is the line/record-oriented lab convention with
	// |-delimited fields and ^-delimited components.
	ProtocolASTM
	// ProtocolHL7 is segment-oriented HL7 v2.x, MLLP-wrapped on TCP.
	ProtocolHL7
	// ProtocolIntegra is the SOH/STX/ETX/EOT block protocol spoken by the
	// Roche Integra analyzer family over a master-initiated serial link.
	ProtocolIntegra
)

// String returns the canonical configuration spelling of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolASTM:
		return "ASTM"
	case ProtocolHL7:
		return "HL7"
	case ProtocolIntegra:
		return "INTEGRA"
	default:
		return "UNKNOWN"
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so Protocol values can
// be written as plain strings in the TOML device file.
func (p *Protocol) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "ASTM":
		*p = ProtocolASTM
	case "HL7":
		*p = ProtocolHL7
	case "INTEGRA", "CUSTOM_BLOCK":
		*p = ProtocolIntegra
	default:
		return fmt.Errorf("device: unknown protocol %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	if p == ProtocolUnknown {
		return nil, fmt.Errorf("device: cannot marshal unknown protocol")
	}
	return []byte(p.String()), nil
}

// TransportType selects how bytes reach the device.
type TransportType uint8

const (
	TransportUnknown TransportType = iota
	// TransportTCP listens on (or dials) a TCP host:port.
	TransportTCP
	// TransportSerial opens a local serial port.
	TransportSerial
)

func (t TransportType) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportSerial:
		return "SERIAL"
	default:
		return "UNKNOWN"
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TransportType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "TCP":
		*t = TransportTCP
	case "SERIAL":
		*t = TransportSerial
	default:
		return fmt.Errorf("device: unknown transport type %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t TransportType) MarshalText() ([]byte, error) {
	if t == TransportUnknown {
		return nil, fmt.Errorf("device: cannot marshal unknown transport type")
	}
	return []byte(t.String()), nil
}

// Transport holds the wire parameters for one device. TCP devices use
// Host/Port; serial devices use PortName plus the line settings.
type Transport struct {
	Type TransportType `toml:"type"`

	// TCP.
	Host string `toml:"host,omitempty"`
	Port int    `toml:"port,omitempty"`

	// Serial.
	PortName string `toml:"port_name,omitempty"`
	BaudRate uint   `toml:"baud_rate,omitempty"`
	DataBits uint   `toml:"data_bits,omitempty"`
	StopBits uint   `toml:"stop_bits,omitempty"`
	Parity   string `toml:"parity,omitempty"` // NONE, EVEN or ODD
}

// Addr returns "host:port" for TCP transports.
func (t *Transport) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Config is the identity and behavior of one instrument.
type Config struct {
	// ID is the unique key the device is registered and addressed by.
	// It is filled from the TOML table key during Load.
	ID string `toml:"-"`

	Name      string    `toml:"name"`
	Enabled   bool      `toml:"enabled"`
	Protocol  Protocol  `toml:"protocol"`
	Transport Transport `toml:"transport"`

	// ParserHints carries protocol-specific parsing knobs, e.g. where the
	// sample id lives in this device's HL7 messages ("sampleIdLocation").
	ParserHints map[string]string `toml:"parser_hints,omitempty"`
}

// Hint returns the named parser hint, or def when absent or blank.
func (c *Config) Hint(key, def string) string {
	if c.ParserHints == nil {
		return def
	}
	if v, ok := c.ParserHints[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// IsActive reports whether this device uses a master-initiated transport,
// i.e. the middleware opens the line and polls rather than listening.
func (c *Config) IsActive() bool {
	return c.Protocol == ProtocolIntegra
}

func (c *Config) validate() error {
	if c.Protocol == ProtocolUnknown {
		return fmt.Errorf("device %q: protocol is required", c.ID)
	}

	switch c.Transport.Type {
	case TransportTCP:
		if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
			return fmt.Errorf("device %q: tcp port %d out of range", c.ID, c.Transport.Port)
		}
	case TransportSerial:
		if c.Transport.PortName == "" {
			return fmt.Errorf("device %q: serial port name is required", c.ID)
		}
		if c.Transport.BaudRate == 0 {
			return fmt.Errorf("device %q: baud rate is required", c.ID)
		}
	default:
		return fmt.Errorf("device %q: transport type is required", c.ID)
	}

	return nil
}
