// Package integra implements the framed block protocol spoken by Roche
// COBAS INTEGRA analyzers over serial lines. A block is a control-byte
// sandwich: SOH, a header, STX, newline-separated data lines, ETX, a
// trailer whose last line is the checksum, and EOT.
package integra

import (
	"errors"
	"strings"
)

// Block control bytes.
const (
	SOH = 0x01
	STX = 0x02
	ETX = 0x03
	EOT = 0x04
)

// ErrMalformedBlock is returned when input does not carry the SOH..EOT
// frame shape.
var ErrMalformedBlock = errors.New("integra: malformed block")

// Block is one decoded instrument block. Header and Checksum are kept
// verbatim; DataLines holds the payload between STX and ETX with blank
// lines dropped.
type Block struct {
	Header    string
	DataLines []string
	Checksum  string
}

// Parse decodes raw into a Block. The frame must start with SOH and
// contain an EOT; anything else is malformed.
func Parse(raw string) (*Block, error) {
	if len(raw) == 0 || raw[0] != SOH {
		return nil, ErrMalformedBlock
	}
	end := strings.IndexByte(raw, EOT)
	if end == -1 {
		return nil, ErrMalformedBlock
	}
	raw = raw[:end]

	stx := strings.IndexByte(raw, STX)
	etx := strings.IndexByte(raw, ETX)
	if stx == -1 || etx == -1 || etx < stx {
		return nil, ErrMalformedBlock
	}

	block := &Block{
		Header: strings.TrimSpace(raw[1:stx]),
	}

	for _, line := range strings.Split(strings.TrimSpace(raw[stx+1:etx]), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			block.DataLines = append(block.DataLines, line)
		}
	}

	trailer := strings.TrimSpace(raw[etx+1:])
	if trailer != "" {
		lines := strings.Split(trailer, "\n")
		block.Checksum = strings.TrimSpace(lines[len(lines)-1])
	}

	return block, nil
}

// Fields splits a data line into its line id and value. Lines use "_" as
// separator; the value may itself contain further underscores.
func Fields(line string) (id, value string) {
	id, value, _ = strings.Cut(line, "_")
	return id, value
}

// BuildResultsRequest encodes the poll block that asks the analyzer to
// transmit its queued results.
func BuildResultsRequest() string {
	return "\x01\n09_COBAS_INTEGRA..._09\n" +
		"\x02\n10_01\n" +
		"\x03\n1\n625\n" +
		"\x04\n"
}
