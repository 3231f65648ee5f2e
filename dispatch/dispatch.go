// Package dispatch routes complete inbound frames: query traffic (an
// instrument asking for pending work) is answered with an encoded order
// download, result traffic is applied to the order store. It is the
// single Handler behind every listener.
package dispatch

import (
	"context"

	"github.com/openlis/labwire/astm"
	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/hl7"
	"github.com/openlis/labwire/integra"
	"github.com/openlis/labwire/logger"
	"github.com/openlis/labwire/order"
	"github.com/openlis/labwire/transport"
)

// Dispatcher implements transport.Handler. Failures are contained per
// frame: a decode or store error is logged and yields no reply, leaving
// the transport state machine untouched.
type Dispatcher struct {
	orders *order.Service
	logger logger.Logger

	astmParser  *astm.Parser
	astmBuilder *astm.Builder
	hl7Parser   *hl7.Parser
	hl7Builder  *hl7.Builder
}

// New creates a Dispatcher over the order service. l may be nil, in which
// case the package default logger is used.
func New(orders *order.Service, l logger.Logger) *Dispatcher {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Dispatcher{
		orders:      orders,
		logger:      l,
		astmParser:  astm.NewParser(l),
		astmBuilder: astm.NewBuilder(),
		hl7Parser:   hl7.NewParser(l),
		hl7Builder:  hl7.NewBuilder(),
	}
}

// Handle routes one frame and returns the reply to transmit, or "" when
// there is nothing to send back.
func (d *Dispatcher) Handle(frame transport.Frame) (reply string) {
	dev := frame.Device

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: panic while handling frame",
				"device", dev.Name, "panic", r)
			reply = ""
		}
	}()

	d.logger.Info("dispatch: frame received",
		"device", dev.Name, "protocol", dev.Protocol.String())

	if sampleID := querySampleID(frame.Raw, dev.Protocol); sampleID != "" {
		d.logger.Info("dispatch: query frame", "sample_id", sampleID)
		return d.answerQuery(sampleID, dev)
	}

	d.logger.Info("dispatch: result frame, applying")
	ctx := context.Background()

	switch dev.Protocol {
	case device.ProtocolASTM:
		d.orders.ApplyASTM(ctx, d.astmParser.Parse(frame.Raw))
	case device.ProtocolHL7:
		d.orders.ApplyHL7(ctx, d.hl7Parser.Parse(frame.Raw, dev.ParserHints))
	case device.ProtocolIntegra:
		block, err := integra.Parse(frame.Raw)
		if err != nil {
			d.logger.Warn("dispatch: unparseable instrument block",
				"device", dev.Name, "error", err)
			return ""
		}
		d.orders.ApplyIntegra(ctx, block)
	default:
		d.logger.Warn("dispatch: unsupported protocol, frame dropped",
			"device", dev.Name)
	}

	return ""
}

// answerQuery encodes the pending orders for sampleID in the device's
// protocol. No pending orders means no reply.
func (d *Dispatcher) answerQuery(sampleID string, dev *device.Config) string {
	pending, err := d.orders.PendingForSample(context.Background(), sampleID)
	if err != nil {
		d.logger.Error("dispatch: pending order lookup failed",
			"sample_id", sampleID, "error", err)
		return ""
	}
	if len(pending) == 0 {
		d.logger.Info("dispatch: no pending orders for query", "sample_id", sampleID)
		return ""
	}

	switch dev.Protocol {
	case device.ProtocolASTM:
		return d.astmBuilder.BuildOrderMessage(sampleID, astmPending(pending))
	case device.ProtocolHL7:
		return d.hl7Builder.BuildOrderMessage(sampleID, hl7Pending(pending))
	default:
		return ""
	}
}

// querySampleID reports the sample id a query frame asks about, or ""
// for result traffic. Only the passive protocols have a query form.
func querySampleID(raw string, protocol device.Protocol) string {
	switch protocol {
	case device.ProtocolASTM:
		return astm.QuerySampleID(raw)
	case device.ProtocolHL7:
		return hl7.QuerySampleID(raw)
	default:
		return ""
	}
}

func astmPending(orders []order.LabOrder) []astm.PendingOrder {
	pending := make([]astm.PendingOrder, len(orders))
	for i, o := range orders {
		pending[i] = astm.PendingOrder{
			TestType:    o.TestType,
			PatientName: o.PatientName,
		}
	}
	return pending
}

func hl7Pending(orders []order.LabOrder) []hl7.PendingOrder {
	pending := make([]hl7.PendingOrder, len(orders))
	for i, o := range orders {
		pending[i] = hl7.PendingOrder{
			ID:          o.ID,
			TestType:    o.TestType,
			PatientName: o.PatientName,
		}
	}
	return pending
}
