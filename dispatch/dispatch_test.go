package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/order"
	"github.com/openlis/labwire/transport"
)

func testDispatcher(t *testing.T) (*Dispatcher, *order.Store) {
	t.Helper()

	store, err := order.OpenStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(order.NewService(store, nil), nil), store
}

func seed(t *testing.T, store *order.Store, sampleID, testType string) *order.LabOrder {
	t.Helper()

	o := &order.LabOrder{SampleID: sampleID, PatientName: "DOE^JOHN", TestType: testType}
	require.NoError(t, store.Create(context.Background(), o))
	return o
}

func astmFrame(raw string) transport.Frame {
	return transport.Frame{Raw: raw, Device: &device.Config{
		ID: "architect", Name: "Architect", Protocol: device.ProtocolASTM,
	}}
}

func hl7Frame(raw string) transport.Frame {
	return transport.Frame{Raw: raw, Device: &device.Config{
		ID: "maglumi", Name: "Maglumi", Protocol: device.ProtocolHL7,
	}}
}

func integraFrame(raw string) transport.Frame {
	return transport.Frame{Raw: raw, Device: &device.Config{
		ID: "integra", Name: "Integra 400", Protocol: device.ProtocolIntegra,
	}}
}

func TestHandle_ASTMQueryAnsweredWithPendingOrders(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "SAMPLE42", "GLUCOSE")
	seed(t, store, "SAMPLE42", "TSH")

	reply := d.Handle(astmFrame("Q|1|^SAMPLE42^ALL\r"))

	assert.True(t, strings.HasPrefix(reply, "H|\\^&"))
	assert.Contains(t, reply, "O|1|SAMPLE42||^^^GLUCOSE|")
	assert.Contains(t, reply, "O|2|SAMPLE42||^^^TSH|")
	assert.Contains(t, reply, "P|1|||DOE^JOHN")
	assert.True(t, strings.HasSuffix(reply, "L|1|N\r"))
}

func TestHandle_ASTMQueryWithoutPendingOrders(t *testing.T) {
	d, _ := testDispatcher(t)

	assert.Equal(t, "", d.Handle(astmFrame("Q|1|^NOSUCH^ALL\r")))
}

func TestHandle_ASTMResultApplied(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "SAMPLE42", "GLUCOSE")

	raw := "P|1||12345||DOE^JOHN\r" +
		"O|1|SAMPLE42||^^^GLUCOSE\r" +
		"R|1|^^^GLUCOSE|105.7|mg/dL\r"
	reply := d.Handle(astmFrame(raw))

	assert.Equal(t, "", reply)

	got, err := store.BySampleAndTest(context.Background(), "SAMPLE42", "GLUCOSE")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.Equal(t, "105.7", got.ResultValue)
}

func TestHandle_HL7QueryAnswered(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "S77", "FT4")

	raw := "MSH|^~\\&|ANALYZER|LAB|||20250807||QBP^Q11|Q1|P|2.5|TSREQ|\r" +
		"QPD|TSREQ|Q1|S77\r"
	reply := d.Handle(hl7Frame(raw))

	assert.Contains(t, reply, "OUL^R22")
	assert.Contains(t, reply, "PID|1||S77||DOE^JOHN\r")
	assert.Contains(t, reply, "|FT4|")
}

func TestHandle_HL7ResultApplied(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "105", "GLUCOSE")

	raw := "\x0bMSH|^~\\&|ANALYZER|LAB|||20250807||ORU^R01|1|P|2.5\r" +
		"PID|1||12345||DOE^JOHN\r" +
		"SPM|1|105\r" +
		"OBX|1|NM|GLUCOSE^Glucose|1|98|mg/dL|70-110|N\r\x1c\x0d"
	reply := d.Handle(hl7Frame(raw))

	assert.Equal(t, "", reply)

	got, err := store.BySampleAndTest(context.Background(), "105", "GLUCOSE")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.Equal(t, "98", got.ResultValue)
	assert.Equal(t, "mg/dL", got.ResultUnits)
}

func TestHandle_HL7UnmatchedResultLeavesStoreUntouched(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "S1", "GLUCOSE")

	raw := "MSH|^~\\&|A|B|||20250807||ORU^R01|1|P|2.5\r" +
		"PID|1||12345\r" +
		"SPM|1|OTHERSAMPLE\r" +
		"OBX|1|NM|GLUCOSE^Glucose|1|98|mg/dL\r"
	d.Handle(hl7Frame(raw))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, order.StatusPending, all[0].Status)
	assert.Empty(t, all[0].ResultValue)
}

func TestHandle_IntegraResultApplied(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "SAMPLE123", "GLUCOSE")

	raw := "\x01HDR\n\x0254_SAMPLE123\n55_GLUCOSE\n00_105.7 mg/dL\n\x031\n625\n\x04"
	reply := d.Handle(integraFrame(raw))

	assert.Equal(t, "", reply)

	got, err := store.BySampleAndTest(context.Background(), "SAMPLE123", "GLUCOSE")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
}

func TestHandle_IntegraMalformedBlockDropped(t *testing.T) {
	d, store := testDispatcher(t)
	seed(t, store, "S1", "GLUCOSE")

	assert.Equal(t, "", d.Handle(integraFrame("no block markers here")))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, all[0].Status)
}

func TestHandle_UnknownProtocolDropped(t *testing.T) {
	d, _ := testDispatcher(t)

	frame := transport.Frame{Raw: "anything", Device: &device.Config{
		ID: "x", Name: "X", Protocol: device.ProtocolUnknown,
	}}
	assert.Equal(t, "", d.Handle(frame))
}

func TestHandle_QueryBeforeResultParsing(t *testing.T) {
	// A message containing both a Q record and result records is treated
	// as a query; the results in it are not applied.
	d, store := testDispatcher(t)
	seed(t, store, "S9", "TSH")

	raw := "Q|1|^S9^ALL\rP|1||1\rO|1|S9||^^^TSH\rR|1|^^^TSH|9.9|uIU/mL\r"
	reply := d.Handle(astmFrame(raw))

	assert.NotEmpty(t, reply)

	got, err := store.BySampleAndTest(context.Background(), "S9", "TSH")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Empty(t, got.ResultValue)
}
