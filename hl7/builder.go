package hl7

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const timestampLayout = "20060102150405"

// PendingOrder is the slice of a lab order the encoder needs to answer a
// test-selection query.
type PendingOrder struct {
	ID          int64
	TestType    string
	PatientName string
}

// Builder encodes HL7 OUL^R22 order replies. Control ids are unique per
// process: an atomic counter seeded from the builder's creation time.
type Builder struct {
	controlID atomic.Int64
	now       func() time.Time
}

// NewBuilder creates a Builder using the wall clock for message timestamps.
func NewBuilder() *Builder {
	b := &Builder{now: time.Now}
	b.controlID.Store(time.Now().UnixMilli())
	return b
}

// BuildOrderMessage encodes the pending orders for sampleID as an
// OUL^R22 message: an MSH segment, one PID segment (patient data taken
// from the first order) and one OBR segment per order with sequence
// numbers starting at 1. Every segment is CR-terminated.
//
// An empty order list yields ""; the caller treats that as nothing to send.
func (b *Builder) BuildOrderMessage(sampleID string, orders []PendingOrder) string {
	if len(orders) == 0 {
		return ""
	}

	var msg strings.Builder

	fmt.Fprintf(&msg, "MSH|^~\\&|LIS|LAB|%s|Device|%s||OUL^R22|%d|P|2.5\r",
		orders[0].TestType, b.now().Format(timestampLayout), b.nextControlID())
	fmt.Fprintf(&msg, "PID|1||%s||%s\r", sampleID, orders[0].PatientName)

	for i, order := range orders {
		fmt.Fprintf(&msg, "OBR|%d||%d|%s|||||||||||||||||||%s\r",
			i+1, order.ID, order.TestType, sampleID)
	}

	return msg.String()
}

func (b *Builder) nextControlID() int64 {
	return b.controlID.Add(1)
}
