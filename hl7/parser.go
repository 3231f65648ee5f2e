package hl7

import (
	"regexp"
	"strings"

	"github.com/openlis/labwire/logger"
)

const (
	fieldSep     = "|"
	componentSep = "^"
)

// Parser hint keys and the recognized values of HintSampleIDLocation.
const (
	HintSampleIDLocation = "sampleIdLocation"

	SampleIDSPM1 = "SPM_1"
	SampleIDSPM2 = "SPM_2"
	SampleIDOBR2 = "OBR_2"
	SampleIDOBR3 = "OBR_3"
)

// segmentStart matches a three-letter segment id followed by the field
// separator. It locates segment boundaries in messages whose separators
// were stripped in transit.
var segmentStart = regexp.MustCompile(`[A-Z]{3}\|`)

// lineSplit splits a message on any run of segment separators.
var lineSplit = regexp.MustCompile(`[\r\n]+`)

// Parser decodes raw HL7 text into a Message.
//
// Two strategies run in order. The primary one is standards-aware: it
// splits the message into segments, honors the MSH field-numbering offset
// and resolves the sample id location from per-device hints. When the
// primary pass yields nothing usable the positional fallback re-reads the
// raw text, recovering segments even when separators are missing. The
// strategies never merge: a message is decoded by exactly one of them.
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

// Parse decodes rawMessage into a Message. hints carries per-device
// parser settings; it may be nil.
func (p *Parser) Parse(rawMessage string, hints map[string]string) *Message {
	raw := UnwrapMLLP(rawMessage)

	msg := p.parseStructured(raw, hints)
	if !msg.empty() {
		return msg
	}

	p.logger.Debug("hl7: structured parse yielded no data, using positional fallback")
	return p.parsePositional(raw)
}

// parseStructured is the primary strategy.
func (p *Parser) parseStructured(raw string, hints map[string]string) *Message {
	segments := splitSegments(preprocess(raw))
	msg := &Message{}

	if msh := segments.first("MSH"); msh != nil {
		msg.SendingApplication = msh.component(3, 1)
		msg.ControlID = msh.component(10, 1)
	}

	if pid := segments.first("PID"); pid != nil {
		msg.Patient = &Patient{
			PatientID: pid.component(3, 1),
			LastName:  pid.component(5, 1),
			FirstName: pid.component(5, 2),
			BirthDate: pid.component(7, 1),
		}
	}

	sampleID := sampleIDFromHint(segments, hints)
	obr := segments.first("OBR")
	if sampleID != "" || obr != nil {
		msg.Order = &Order{SpecimenID: sampleID}
		if obr != nil {
			msg.Order.UniversalServiceID = obr.component(4, 1)
			msg.Order.UniversalServiceText = obr.component(4, 2)
		}
	}

	// Observations are read in occurrence order; the first OBX without a
	// test id ends the run.
	for _, obx := range segments.all("OBX") {
		testID := obx.component(3, 1)
		if testID == "" {
			testID = obx.component(3, 2)
		}
		if testID == "" {
			break
		}
		msg.Results = append(msg.Results, Result{
			TestID:         testID,
			TestName:       obx.component(3, 2),
			Value:          obx.component(5, 1),
			Units:          obx.component(6, 1),
			ReferenceRange: obx.component(7, 1),
			AbnormalFlags:  obx.component(8, 1),
		})
	}

	return msg
}

// parsePositional is the fallback strategy. It indexes fields directly on
// the split arrays, without the MSH offset, and ignores parser hints. The
// sample id is taken from SPM-2, then OBR-2, then OBR-3.
func (p *Parser) parsePositional(raw string) *Message {
	segments := splitSegments(raw)
	msg := &Message{}

	if msh := segments.first("MSH"); msh != nil {
		msg.SendingApplication = msh.field(3)
		msg.ControlID = msh.field(10)
	}

	msg.Patient = &Patient{}
	if pid := segments.first("PID"); pid != nil {
		msg.Patient = &Patient{
			PatientID: firstComponent(pid.field(3)),
			LastName:  firstComponent(pid.field(5)),
			FirstName: nthComponent(pid.field(5), 2),
			BirthDate: firstComponent(pid.field(7)),
		}
	}

	sampleID := ""
	if spm := segments.first("SPM"); spm != nil {
		sampleID = firstComponent(spm.field(2))
	}
	obr := segments.first("OBR")
	if sampleID == "" && obr != nil {
		sampleID = firstComponent(obr.field(2))
		if sampleID == "" {
			sampleID = firstComponent(obr.field(3))
		}
	}
	msg.Order = &Order{SpecimenID: sampleID}
	if obr != nil {
		msg.Order.UniversalServiceID = firstComponent(obr.field(4))
		msg.Order.UniversalServiceText = nthComponent(obr.field(4), 2)
	}

	for _, obx := range segments.all("OBX") {
		testID := firstComponent(obx.field(3))
		if testID == "" {
			testID = nthComponent(obx.field(3), 2)
		}
		if testID == "" {
			continue
		}
		msg.Results = append(msg.Results, Result{
			TestID:         testID,
			TestName:       nthComponent(obx.field(3), 2),
			Value:          firstComponent(obx.field(5)),
			Units:          firstComponent(obx.field(6)),
			ReferenceRange: firstComponent(obx.field(7)),
			AbnormalFlags:  firstComponent(obx.field(8)),
		})
	}

	p.logger.Debug("hl7: positional fallback parse",
		"results", len(msg.Results), "sample_id", sampleID)

	return msg
}

// QuerySampleID reports whether rawMessage is a test-selection query and,
// if so, which sample id it asks about (QPD field 3). A query is
// recognized by the presence of an MSH segment, the TSREQ query name and
// a QPD segment.
func QuerySampleID(rawMessage string) string {
	raw := UnwrapMLLP(rawMessage)
	if !strings.Contains(raw, "MSH"+fieldSep) ||
		!strings.Contains(raw, fieldSep+"TSREQ"+fieldSep) {
		return ""
	}

	idx := strings.Index(raw, "QPD"+fieldSep)
	if idx == -1 {
		return ""
	}

	qpd := raw[idx:]
	if end := strings.IndexAny(qpd, "\r\n"); end != -1 {
		qpd = qpd[:end]
	}

	fields := strings.Split(qpd, fieldSep)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimSpace(fields[3])
}

// segment is one decoded HL7 segment.
type segment struct {
	fields []string
}

// field returns the trimmed raw field n, counted on the split array, or
// "" when out of range.
func (s *segment) field(n int) string {
	if n < len(s.fields) {
		return strings.TrimSpace(s.fields[n])
	}
	return ""
}

// component returns component comp (1-based) of field n using standard
// HL7 numbering, where the field separator after "MSH" counts as MSH-1
// and shifts every MSH field left by one array slot.
func (s *segment) component(n, comp int) string {
	idx := n
	if s.id() == "MSH" {
		idx = n - 1
	}
	return nthComponent(s.field(idx), comp)
}

func (s *segment) id() string {
	if len(s.fields) == 0 {
		return ""
	}
	return s.fields[0]
}

// segmentList preserves segment order so repeating segments keep their
// occurrence numbers.
type segmentList []*segment

func (l segmentList) first(id string) *segment {
	for _, s := range l {
		if s.id() == id {
			return s
		}
	}
	return nil
}

func (l segmentList) all(id string) []*segment {
	var out []*segment
	for _, s := range l {
		if s.id() == id {
			out = append(out, s)
		}
	}
	return out
}

// splitSegments breaks raw into segments. Input with CR or LF separators
// splits on those; otherwise segment boundaries are recovered from the
// three-letter-id pattern.
func splitSegments(raw string) segmentList {
	var lines []string
	if strings.ContainsAny(raw, "\r\n") {
		lines = lineSplit.Split(raw, -1)
	} else {
		locs := segmentStart.FindAllStringIndex(raw, -1)
		for i, loc := range locs {
			end := len(raw)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			lines = append(lines, raw[loc[0]:end])
		}
	}

	var segments segmentList
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 4 || !isSegmentID(line[:3]) || line[3] != fieldSep[0] {
			continue
		}
		segments = append(segments, &segment{fields: strings.Split(line, fieldSep)})
	}
	return segments
}

// preprocess restores segment separators on single-line input so the
// structured pass can split it. Input that already has separators is
// returned untouched.
func preprocess(raw string) string {
	if strings.ContainsAny(raw, "\r\n") {
		return raw
	}
	restored := segmentStart.ReplaceAllString(raw, "\r$0")
	return strings.TrimPrefix(restored, "\r")
}

// sampleIDFromHint resolves the specimen id from the location named by
// the device hints, defaulting to SPM-2. When the hinted field is blank
// the chain SPM-2, OBR-2, OBR-3 is tried in order.
func sampleIDFromHint(segments segmentList, hints map[string]string) string {
	location := SampleIDSPM2
	if hints != nil && hints[HintSampleIDLocation] != "" {
		location = hints[HintSampleIDLocation]
	}

	read := func(id string, field int) string {
		if s := segments.first(id); s != nil {
			return s.component(field, 1)
		}
		return ""
	}

	var sampleID string
	switch location {
	case SampleIDSPM1:
		sampleID = read("SPM", 1)
	case SampleIDOBR2:
		sampleID = read("OBR", 2)
	case SampleIDOBR3:
		sampleID = read("OBR", 3)
	default:
		sampleID = read("SPM", 2)
	}
	if sampleID != "" {
		return sampleID
	}

	for _, fallback := range []struct {
		id    string
		field int
	}{{"SPM", 2}, {"OBR", 2}, {"OBR", 3}} {
		if v := read(fallback.id, fallback.field); v != "" {
			return v
		}
	}
	return ""
}

func isSegmentID(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// firstComponent returns the first ^-component of f.
func firstComponent(f string) string {
	return nthComponent(f, 1)
}

// nthComponent returns the n-th (1-based) ^-component of f, or "" when f
// has fewer components.
func nthComponent(f string, n int) string {
	parts := strings.Split(f, componentSep)
	if n-1 < len(parts) {
		return strings.TrimSpace(parts[n-1])
	}
	return ""
}
