package astm

import (
	"fmt"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

// PendingOrder is the slice of a lab order the encoder needs to announce
// pending work to an analyzer.
type PendingOrder struct {
	TestType    string
	PatientName string
}

// Builder encodes ASTM order-download messages sent in reply to an
// instrument query.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder using the wall clock for order timestamps.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// BuildOrderMessage encodes the pending orders for sampleID as an ASTM
// order-download: an H record, one P record (patient data taken from the
// first order), one O record per order with sequence numbers starting at
// 1, and an L terminator. Every record is CR-terminated.
//
// An empty order list yields ""; the caller treats that as nothing to send.
func (b *Builder) BuildOrderMessage(sampleID string, orders []PendingOrder) string {
	if len(orders) == 0 {
		return ""
	}

	var msg strings.Builder

	msg.WriteString(`H|\^&|||||||||||P|LIS2-A` + recordSep)
	msg.WriteString("P|1|||" + orders[0].PatientName + "||||||||||" + recordSep)

	for i, order := range orders {
		timestamp := b.now().Format(timestampLayout)
		fmt.Fprintf(&msg, "O|%d|%s||^^^%s||%s|||||||||F%s",
			i+1, sampleID, order.TestType, timestamp, recordSep)
	}

	msg.WriteString("L|1|N" + recordSep)

	return msg.String()
}
