package order

import (
	"context"
	"errors"
	"strings"

	"github.com/openlis/labwire/astm"
	"github.com/openlis/labwire/hl7"
	"github.com/openlis/labwire/integra"
	"github.com/openlis/labwire/logger"
)

// Integra data line ids carrying order-relevant values.
const (
	integraLineSampleID = "54"
	integraLineTestType = "55"
	integraLineResult   = "00"
)

// Service applies decoded instrument messages to stored orders and
// answers host queries for pending work.
//
// Result application shares one rule across protocols: a result updates
// the order matching its (sample id, test type) pair, sets the value and
// units and completes the order. Results without a matching order are
// logged and dropped, never stored.
type Service struct {
	store  *Store
	logger logger.Logger
}

// NewService creates a Service. l may be nil, in which case the package
// default logger is used.
func NewService(store *Store, l logger.Logger) *Service {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Service{store: store, logger: l}
}

// Create registers a new order coming from the LIS.
func (s *Service) Create(ctx context.Context, o *LabOrder) error {
	s.logger.Info("order: new order received",
		"sample_id", o.SampleID, "test_type", o.TestType)
	return s.store.Create(ctx, o)
}

// All lists every stored order.
func (s *Service) All(ctx context.Context) ([]LabOrder, error) {
	return s.store.All(ctx)
}

// PendingForSample lists the pending orders an instrument query for
// sampleID should be answered with.
func (s *Service) PendingForSample(ctx context.Context, sampleID string) ([]LabOrder, error) {
	s.logger.Info("order: looking up pending orders", "sample_id", sampleID)
	return s.store.PendingBySample(ctx, sampleID)
}

// Find returns the order for a (sample id, test type) pair.
func (s *Service) Find(ctx context.Context, sampleID, testType string) (*LabOrder, error) {
	return s.store.BySampleAndTest(ctx, sampleID, testType)
}

// ApplyASTM applies every result record of msg. Messages without a
// patient record, without results or without an order record naming the
// sample are ignored.
func (s *Service) ApplyASTM(ctx context.Context, msg *astm.Message) {
	if msg.Patient == nil || len(msg.Results) == 0 {
		s.logger.Warn("order: astm message without patient or results, ignoring")
		return
	}

	sampleID := msg.SampleID()
	if sampleID == "" {
		s.logger.Warn("order: astm message carries no sample id, ignoring")
		return
	}

	s.logger.Info("order: processing astm results", "sample_id", sampleID)

	for _, result := range msg.Results {
		s.applyResult(ctx, sampleID, result.UniversalTestID, result.Value, result.Units)
	}
}

// ApplyHL7 applies every observation of msg. Messages without patient
// data, without results or without a specimen id are ignored.
func (s *Service) ApplyHL7(ctx context.Context, msg *hl7.Message) {
	if msg.Patient == nil || len(msg.Results) == 0 {
		s.logger.Warn("order: hl7 message without patient or results, ignoring")
		return
	}

	sampleID := ""
	if msg.Order != nil {
		sampleID = msg.Order.SpecimenID
	}
	if strings.TrimSpace(sampleID) == "" {
		s.logger.Warn("order: hl7 message carries no sample id, ignoring")
		return
	}

	s.logger.Info("order: processing hl7 results", "sample_id", sampleID)

	for _, result := range msg.Results {
		s.applyResult(ctx, sampleID, result.TestID, result.Value, result.Units)
	}
}

// ApplyIntegra applies the single result carried by an instrument block.
// Line 54 names the sample, line 55 the test and line 00 the value with
// optional units. Blocks missing any of the three are ignored.
func (s *Service) ApplyIntegra(ctx context.Context, block *integra.Block) {
	if block == nil || len(block.DataLines) == 0 {
		s.logger.Warn("order: empty instrument block, ignoring")
		return
	}

	var sampleID, testType, value, units string
	for _, line := range block.DataLines {
		id, lineValue := integra.Fields(line)
		if lineValue == "" {
			continue
		}
		switch strings.TrimSpace(id) {
		case integraLineSampleID:
			sampleID = strings.TrimSpace(lineValue)
		case integraLineTestType:
			testType = strings.TrimSpace(lineValue)
		case integraLineResult:
			parts := strings.Fields(lineValue)
			if len(parts) > 0 {
				value = parts[0]
			}
			if len(parts) > 1 {
				units = parts[1]
			}
		}
	}

	if sampleID == "" || testType == "" || value == "" {
		s.logger.Warn("order: incomplete instrument block",
			"sample_id", sampleID, "test_type", testType, "value", value)
		return
	}

	s.logger.Info("order: processing instrument block result",
		"sample_id", sampleID, "test_type", testType)
	s.applyResult(ctx, sampleID, testType, value, units)
}

func (s *Service) applyResult(ctx context.Context, sampleID, testType, value, units string) {
	testType = strings.ToUpper(testType)

	o, err := s.store.BySampleAndTest(ctx, sampleID, testType)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("order: no order for result, dropping",
			"sample_id", sampleID, "test_type", testType)
		return
	}
	if err != nil {
		s.logger.Error("order: result lookup failed",
			"sample_id", sampleID, "test_type", testType, "error", err)
		return
	}

	o.ResultValue = value
	o.ResultUnits = units
	o.Status = StatusCompleted
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Error("order: result update failed",
			"sample_id", sampleID, "test_type", testType, "error", err)
		return
	}

	s.logger.Info("order: result applied",
		"sample_id", sampleID, "test_type", testType, "value", value)
}
