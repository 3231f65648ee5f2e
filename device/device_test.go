package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[devices.abbott-c8000]
name = "Abbott Architect c8000"
enabled = true
protocol = "ASTM"

[devices.abbott-c8000.transport]
type = "SERIAL"
port_name = "/dev/ttyUSB0"
baud_rate = 9600
data_bits = 8
stop_bits = 1
parity = "NONE"

[devices.maglumi-x3]
name = "MAGLUMI X3"
enabled = true
protocol = "HL7"

[devices.maglumi-x3.transport]
type = "TCP"
host = "0.0.0.0"
port = 5001

[devices.maglumi-x3.parser_hints]
sampleIdLocation = "OBR_3"

[devices.integra-400]
name = "COBAS INTEGRA 400 plus"
enabled = false
protocol = "INTEGRA"

[devices.integra-400.transport]
type = "SERIAL"
port_name = "/dev/ttyUSB1"
baud_rate = 9600
data_bits = 8
stop_bits = 1
parity = "EVEN"
`

func TestParse_FullConfig(t *testing.T) {
	devices, err := Parse(sampleConfig)
	require.NoError(t, err)
	require.Len(t, devices, 3)

	astm := devices["abbott-c8000"]
	require.NotNil(t, astm)
	assert.Equal(t, "abbott-c8000", astm.ID)
	assert.Equal(t, "Abbott Architect c8000", astm.Name)
	assert.True(t, astm.Enabled)
	assert.Equal(t, ProtocolASTM, astm.Protocol)
	assert.Equal(t, TransportSerial, astm.Transport.Type)
	assert.Equal(t, uint(9600), astm.Transport.BaudRate)

	hl7 := devices["maglumi-x3"]
	require.NotNil(t, hl7)
	assert.Equal(t, ProtocolHL7, hl7.Protocol)
	assert.Equal(t, TransportTCP, hl7.Transport.Type)
	assert.Equal(t, "0.0.0.0:5001", hl7.Transport.Addr())
	assert.Equal(t, "OBR_3", hl7.Hint("sampleIdLocation", "SPM_2"))

	integra := devices["integra-400"]
	require.NotNil(t, integra)
	assert.False(t, integra.Enabled)
	assert.True(t, integra.IsActive())
}

func TestParse_DefaultsNameToID(t *testing.T) {
	devices, err := Parse(`
[devices.dev1]
enabled = true
protocol = "HL7"
[devices.dev1.transport]
type = "TCP"
host = "127.0.0.1"
port = 6000
`)
	require.NoError(t, err)
	assert.Equal(t, "dev1", devices["dev1"].Name)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "unknown protocol",
			src: `
[devices.d]
protocol = "DICOM"
[devices.d.transport]
type = "TCP"
port = 6000
`,
		},
		{
			name: "missing transport type",
			src: `
[devices.d]
protocol = "HL7"
`,
		},
		{
			name: "tcp port out of range",
			src: `
[devices.d]
protocol = "HL7"
[devices.d.transport]
type = "TCP"
port = 123456
`,
		},
		{
			name: "serial without port name",
			src: `
[devices.d]
protocol = "ASTM"
[devices.d.transport]
type = "SERIAL"
baud_rate = 9600
`,
		},
		{
			name: "serial without baud rate",
			src: `
[devices.d]
protocol = "ASTM"
[devices.d.transport]
type = "SERIAL"
port_name = "/dev/ttyUSB0"
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	devices, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, devices, 3)
}

func TestHint_FallsBackToDefault(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "SPM_2", cfg.Hint("sampleIdLocation", "SPM_2"))

	cfg.ParserHints = map[string]string{"sampleIdLocation": "   "}
	assert.Equal(t, "SPM_2", cfg.Hint("sampleIdLocation", "SPM_2"))
}

func TestProtocol_Text(t *testing.T) {
	var p Protocol
	require.NoError(t, p.UnmarshalText([]byte("custom_block")))
	assert.Equal(t, ProtocolIntegra, p)

	text, err := ProtocolHL7.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "HL7", string(text))

	_, err = ProtocolUnknown.MarshalText()
	assert.Error(t, err)
}
