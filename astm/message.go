// Package astm implements the record-oriented ASTM message subset spoken
// by the configured chemistry analyzers: decoding result uploads and
// encoding order (query reply) downloads. Records are CR-delimited, fields
// |-delimited and components ^-delimited.
package astm

// HeaderRecord is the H record.
type HeaderRecord struct {
	EquipmentName string
}

// PatientRecord is the P record.
type PatientRecord struct {
	SequenceNumber string
	PatientID      string
	PatientName    string
}

// OrderRecord is the O record carried in a result upload.
type OrderRecord struct {
	SequenceNumber  string
	SpecimenID      string
	UniversalTestID string
}

// ResultRecord is the R record.
type ResultRecord struct {
	SequenceNumber  string
	UniversalTestID string
	Value           string
	Units           string
	ReferenceRange  string
	AbnormalFlags   string
	Status          string
}

// TerminatorRecord is the L record.
type TerminatorRecord struct {
	SequenceNumber  string
	TerminationCode string
}

// Message is one decoded ASTM message. Record order within the Orders and
// Results slices matches the wire order. Absent optional records are nil
// or empty slices, never synthesized.
type Message struct {
	Header     *HeaderRecord
	Patient    *PatientRecord
	Orders     []OrderRecord
	Results    []ResultRecord
	Terminator *TerminatorRecord
}

// SampleID returns the specimen id of the first order record, which is
// where the analyzers place the sample identifier in result uploads.
// It returns "" when the message carries no order record.
func (m *Message) SampleID() string {
	if len(m.Orders) == 0 {
		return ""
	}
	return m.Orders[0].SpecimenID
}
