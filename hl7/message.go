// Package hl7 implements the HL7 v2.x subset used by the configured
// immunoassay analyzers: decoding ORU result uploads (with a tolerant
// fallback for malformed input) and encoding OUL order replies. Transport
// framing (MLLP) is handled by the transport package; this package only
// strips a leftover envelope when present.
package hl7

import "strings"

// MLLP envelope bytes. The TCP framer removes these before dispatch, but
// messages arriving through other paths may still carry them.
const (
	startBlock     = 0x0b // VT
	endBlock       = 0x1c // FS
	carriageReturn = 0x0d // CR
)

// Patient holds the PID fields this integration reads.
type Patient struct {
	PatientID string
	LastName  string
	FirstName string
	BirthDate string
}

// Order holds the SPM/OBR fields this integration reads.
type Order struct {
	SpecimenID           string
	UniversalServiceID   string
	UniversalServiceText string
}

// Result is one OBX observation.
type Result struct {
	TestID         string
	TestName       string
	Value          string
	Units          string
	ReferenceRange string
	AbnormalFlags  string
}

// Message is one decoded HL7 message. It is built by exactly one of the
// two parse strategies; the strategies are never merged.
type Message struct {
	ControlID          string
	SendingApplication string
	Patient            *Patient
	Order              *Order
	Results            []Result
}

// empty reports whether the message carries no usable data: no patient
// id, no specimen id and no results. An empty primary-strategy result
// triggers the fallback strategy.
func (m *Message) empty() bool {
	hasPatient := m.Patient != nil && strings.TrimSpace(m.Patient.PatientID) != ""
	hasOrder := m.Order != nil && strings.TrimSpace(m.Order.SpecimenID) != ""
	return !hasPatient && !hasOrder && len(m.Results) == 0
}

// UnwrapMLLP strips the MLLP block envelope from raw. When either marker
// is absent the input is treated as already unwrapped and returned as is.
func UnwrapMLLP(raw string) string {
	start := strings.IndexByte(raw, startBlock)
	end := strings.LastIndexByte(raw, endBlock)
	if start != -1 && end != -1 && end > start {
		return raw[start+1 : end]
	}
	return raw
}
