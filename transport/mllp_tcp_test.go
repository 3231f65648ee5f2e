package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlis/labwire/device"
)

func tcpDevice() *device.Config {
	return &device.Config{
		ID:       "maglumi",
		Name:     "Maglumi X8",
		Protocol: device.ProtocolHL7,
		Transport: device.Transport{
			Type: device.TransportTCP,
			Host: "127.0.0.1",
			Port: 0,
		},
	}
}

func startMLLPListener(t *testing.T, handler Handler) *MLLPListener {
	t.Helper()

	listener := NewMLLPListener(tcpDevice(), handler, nil)
	require.NoError(t, listener.Start())
	t.Cleanup(listener.Stop)

	return listener
}

func dial(t *testing.T, listener *MLLPListener) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestMLLP_DeliversFramedMessage(t *testing.T) {
	recorder := &frameRecorder{}
	listener := startMLLPListener(t, recorder)

	conn := dial(t, listener)
	_, err := conn.Write([]byte{VT, 'A', 'B', FS, CR})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 1 },
		time.Second, time.Millisecond)

	frame := recorder.last()
	assert.Equal(t, "AB", frame.Raw)
	assert.Equal(t, "maglumi", frame.Device.ID)
}

func TestMLLP_SpuriousFSKeepsBuffering(t *testing.T) {
	recorder := &frameRecorder{}
	listener := startMLLPListener(t, recorder)

	conn := dial(t, listener)
	_, err := conn.Write([]byte{VT, 'A', FS, 'Z'})
	require.NoError(t, err)

	// No frame yet: the lone FS was dropped and 'Z' buffered.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, recorder.count())

	_, err = conn.Write([]byte{FS, CR})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, "AZ", recorder.last().Raw)
}

func TestMLLP_BytesOutsideBlockDiscarded(t *testing.T) {
	recorder := &frameRecorder{}
	listener := startMLLPListener(t, recorder)

	conn := dial(t, listener)
	_, err := conn.Write([]byte("noise before block"))
	require.NoError(t, err)
	_, err = conn.Write([]byte{VT, 'M', 'S', 'H', FS, CR})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, "MSH", recorder.last().Raw)
}

func TestMLLP_MultipleMessagesOnOneConnection(t *testing.T) {
	recorder := &frameRecorder{}
	listener := startMLLPListener(t, recorder)

	conn := dial(t, listener)
	_, err := conn.Write([]byte{VT, '1', FS, CR, VT, '2', FS, CR})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, "2", recorder.last().Raw)
}

func TestMLLP_ConcurrentConnections(t *testing.T) {
	recorder := &frameRecorder{}
	listener := startMLLPListener(t, recorder)

	first := dial(t, listener)
	second := dial(t, listener)

	_, err := first.Write([]byte{VT, 'a'})
	require.NoError(t, err)
	_, err = second.Write([]byte{VT, 'b', FS, CR})
	require.NoError(t, err)
	_, err = first.Write([]byte{FS, CR})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recorder.count() == 2 },
		time.Second, time.Millisecond)
}

func TestMLLP_StopClosesListenerAndConnections(t *testing.T) {
	recorder := &frameRecorder{}
	listener := NewMLLPListener(tcpDevice(), recorder, nil)
	require.NoError(t, listener.Start())

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	listener.Stop()

	_, err = net.Dial("tcp", listener.Addr().String())
	assert.Error(t, err)
}

func TestMLLP_StartFailsOnBusyPort(t *testing.T) {
	first := startMLLPListener(t, &frameRecorder{})

	dev := tcpDevice()
	dev.Transport.Port = first.Addr().(*net.TCPAddr).Port

	second := NewMLLPListener(dev, &frameRecorder{}, nil)
	assert.ErrorIs(t, second.Start(), ErrOpenFailed)
}
