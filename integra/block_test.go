package integra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ResultBlock(t *testing.T) {
	raw := "\x0109_COBAS_INTEGRA_RESULT_09\n" +
		"\x0254_SAMPLE123\n55_GLUCOSE\n00_105.7 mg/dL\n" +
		"\x031\n625\n\x04"

	block, err := Parse(raw)

	require.NoError(t, err)
	assert.Equal(t, "09_COBAS_INTEGRA_RESULT_09", block.Header)
	assert.Equal(t, []string{"54_SAMPLE123", "55_GLUCOSE", "00_105.7 mg/dL"}, block.DataLines)
	assert.Equal(t, "625", block.Checksum)
}

func TestParse_TrailingBytesAfterEOTIgnored(t *testing.T) {
	raw := "\x01H\n\x0254_S1\n\x031\n99\n\x04junk after frame"

	block, err := Parse(raw)

	require.NoError(t, err)
	assert.Equal(t, []string{"54_S1"}, block.DataLines)
	assert.Equal(t, "99", block.Checksum)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "missing SOH", raw: "09_HDR\n\x02data\x031\x04"},
		{name: "missing EOT", raw: "\x01H\n\x02data\x031"},
		{name: "missing STX", raw: "\x01H\ndata\x031\n99\n\x04"},
		{name: "ETX before STX", raw: "\x01H\n\x031\n\x02data\x04"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			block, err := Parse(tc.raw)
			assert.ErrorIs(t, err, ErrMalformedBlock)
			assert.Nil(t, block)
		})
	}
}

func TestBuildResultsRequest_ParsesAsBlock(t *testing.T) {
	block, err := Parse(BuildResultsRequest())

	require.NoError(t, err)
	assert.Equal(t, "09_COBAS_INTEGRA..._09", block.Header)
	assert.Equal(t, []string{"10_01"}, block.DataLines)
	assert.Equal(t, "625", block.Checksum)
}

func TestFields(t *testing.T) {
	id, value := Fields("54_SAMPLE123")
	assert.Equal(t, "54", id)
	assert.Equal(t, "SAMPLE123", value)

	id, value = Fields("09_COBAS_INTEGRA_RESULT_09")
	assert.Equal(t, "09", id)
	assert.Equal(t, "COBAS_INTEGRA_RESULT_09", value)

	id, value = Fields("noseparator")
	assert.Equal(t, "noseparator", id)
	assert.Equal(t, "", value)
}
