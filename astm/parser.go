package astm

import (
	"strings"

	"github.com/openlis/labwire/logger"
)

// Record and component delimiters per the ASTM convention.
const (
	recordSep    = "\r"
	fieldSep     = "|"
	componentSep = "^"
)

// Parser decodes raw ASTM text into a Message.
type Parser struct {
	logger logger.Logger
}

// NewParser creates a Parser. l may be nil, in which case the package
// default logger is used.
func NewParser(l logger.Logger) *Parser {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Parser{logger: l}
}

// Parse decodes rawMessage into a Message.
//
// The decoder is tolerant by design: unrecognized record types are
// skipped, and a record that cannot be fully extracted contributes its
// readable fields with the rest resolving to "" rather than aborting the
// whole message.
func (p *Parser) Parse(rawMessage string) *Message {
	msg := &Message{}

	for _, record := range strings.Split(rawMessage, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		fields := strings.Split(record, fieldSep)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}

		switch fields[0][0] {
		case 'H':
			msg.Header = &HeaderRecord{EquipmentName: field(fields, 4)}
		case 'P':
			msg.Patient = &PatientRecord{
				SequenceNumber: field(fields, 1),
				PatientID:      field(fields, 3),
				PatientName:    field(fields, 5),
			}
		case 'O':
			msg.Orders = append(msg.Orders, OrderRecord{
				SequenceNumber:  field(fields, 1),
				SpecimenID:      field(fields, 2),
				UniversalTestID: component(field(fields, 4), 3),
			})
		case 'R':
			msg.Results = append(msg.Results, ResultRecord{
				SequenceNumber:  field(fields, 1),
				UniversalTestID: component(field(fields, 2), 3),
				Value:           field(fields, 3),
				Units:           field(fields, 4),
				ReferenceRange:  field(fields, 5),
				AbnormalFlags:   field(fields, 6),
				Status:          field(fields, 8),
			})
		case 'L':
			msg.Terminator = &TerminatorRecord{
				SequenceNumber:  field(fields, 1),
				TerminationCode: field(fields, 2),
			}
		default:
			p.logger.Debug("astm: skipping unsupported record type", "type", fields[0])
		}
	}

	p.logger.Debug("astm: message parsed",
		"has_patient", msg.Patient != nil,
		"orders", len(msg.Orders),
		"results", len(msg.Results))

	return msg
}

// QuerySampleID scans rawMessage for a Q (query) record and returns the
// sample id it asks about: the first non-blank ^-component of the record's
// field 2 that is not the "ALL" wildcard. It returns "" when the message
// contains no usable query record.
func QuerySampleID(rawMessage string) string {
	for _, record := range strings.Split(rawMessage, recordSep) {
		record = strings.TrimSpace(record)
		if !strings.HasPrefix(record, "Q"+fieldSep) {
			continue
		}

		fields := strings.Split(record, fieldSep)
		if len(fields) < 3 {
			return ""
		}

		components := strings.Split(fields[2], componentSep)
		for i := 1; i < len(components); i++ {
			c := strings.TrimSpace(components[i])
			if c != "" && !strings.EqualFold(c, "ALL") {
				return c
			}
		}

		return ""
	}

	return ""
}

// field returns the trimmed field at index, or "" when out of range.
func field(fields []string, index int) string {
	if index < len(fields) {
		return strings.TrimSpace(fields[index])
	}
	return ""
}

// component returns the 1-based-ish component at index of a ^-composite
// field, or "" when out of range. Index 3 selects the 4th component, where
// the analyzers put the universal test id (e.g. "^^^GLUCOSE").
func component(f string, index int) string {
	parts := strings.Split(f, componentSep)
	if index < len(parts) {
		return strings.TrimSpace(parts[index])
	}
	return ""
}
