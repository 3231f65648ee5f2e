// Package order holds the lab order model, its sqlite-backed store and
// the service that applies decoded instrument results to open orders.
package order

// Status is the lifecycle state of a lab order.
type Status string

const (
	// StatusPending marks an order registered by the LIS and waiting for
	// an instrument result.
	StatusPending Status = "PENDING"
	// StatusProcessing marks an order the instrument has picked up.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted marks an order whose result has been applied.
	StatusCompleted Status = "COMPLETED"
	// StatusError marks an order that failed processing.
	StatusError Status = "ERROR"
)

// LabOrder is one test requested for one sample. The (SampleID, TestType)
// pair identifies it when an instrument uploads results; matching is case
// insensitive and TestType is stored uppercase.
type LabOrder struct {
	ID          int64  `json:"id"`
	SampleID    string `json:"sampleId"`
	PatientName string `json:"patientName"`
	TestType    string `json:"testType"`
	Status      Status `json:"status"`
	ResultValue string `json:"resultValue,omitempty"`
	ResultUnits string `json:"resultUnits,omitempty"`
}
