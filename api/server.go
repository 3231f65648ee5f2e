// Package api is the LIS-facing HTTP surface: order submission and
// lookup, the manual result poll for active devices and a websocket live
// feed of audited instrument traffic.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openlis/labwire/audit"
	"github.com/openlis/labwire/device"
	"github.com/openlis/labwire/integra"
	"github.com/openlis/labwire/logger"
	"github.com/openlis/labwire/manager"
	"github.com/openlis/labwire/order"
	"github.com/openlis/labwire/transport"
)

// ActiveGateway is the slice of the listener manager the API needs:
// request/response exchanges with active devices and config lookups.
type ActiveGateway interface {
	SendActiveRequest(deviceID, request string) (string, error)
	DeviceConfig(deviceID string) *device.Config
}

// Server carries the handler dependencies. Build the routes with Routes
// and serve them with net/http.
type Server struct {
	orders     *order.Service
	gateway    ActiveGateway
	dispatcher transport.Handler
	audit      *audit.Service
	logger     logger.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a Server. l may be nil, in which case the package
// default logger is used.
func NewServer(orders *order.Service, gateway ActiveGateway, dispatcher transport.Handler, auditSvc *audit.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Server{
		orders:     orders,
		gateway:    gateway,
		dispatcher: dispatcher,
		audit:      auditSvc,
		logger:     l,
		upgrader: websocket.Upgrader{
			// The LIS frontend runs on its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/orders", s.createOrder)
	mux.HandleFunc("GET /api/v1/orders", s.getOrder)
	mux.HandleFunc("GET /api/v1/orders/all", s.allOrders)
	mux.HandleFunc("POST /api/v1/actions/{deviceID}/request-results", s.requestResults)
	mux.HandleFunc("GET /ws", s.liveFeed)

	return mux
}

type orderRequest struct {
	SampleID    string `json:"sampleId"`
	PatientName string `json:"patientName"`
	TestType    string `json:"testType"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SampleID == "" || req.TestType == "" {
		writeError(w, http.StatusBadRequest, "sampleId and testType are required")
		return
	}

	o := &order.LabOrder{
		SampleID:    req.SampleID,
		PatientName: req.PatientName,
		TestType:    req.TestType,
	}
	if err := s.orders.Create(r.Context(), o); err != nil {
		s.logger.Error("api: order create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store order")
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	sampleID := r.URL.Query().Get("sampleId")
	testType := r.URL.Query().Get("testType")
	if sampleID == "" || testType == "" {
		writeError(w, http.StatusBadRequest, "sampleId and testType are required")
		return
	}

	o, err := s.orders.Find(r.Context(), sampleID, testType)
	if errors.Is(err, order.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("api: order lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) allOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.All(r.Context())
	if err != nil {
		s.logger.Error("api: order listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if orders == nil {
		orders = []order.LabOrder{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// requestResults polls an active device for queued results and feeds the
// response through the dispatcher, exactly as if the device had sent it
// unsolicited.
func (s *Server) requestResults(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")

	response, err := s.gateway.SendActiveRequest(deviceID, integra.BuildResultsRequest())
	switch {
	case errors.Is(err, manager.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, "unknown device: "+deviceID)
		return
	case errors.Is(err, manager.ErrUnsupportedOperation):
		writeError(w, http.StatusBadRequest, "device does not support result polling: "+deviceID)
		return
	case errors.Is(err, transport.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "no response from device: "+deviceID)
		return
	case err != nil:
		s.logger.Error("api: result poll failed", "device", deviceID, "error", err)
		writeError(w, http.StatusBadGateway, "communication with device failed")
		return
	}

	s.dispatcher.Handle(transport.Frame{
		Raw:    response,
		Device: s.gateway.DeviceConfig(deviceID),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "results requested and processed",
	})
}

// liveFeed streams audit events over a websocket until the client
// disconnects.
func (s *Server) liveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.audit.Subscribe()
	defer cancel()

	// Reads only serve to detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
