// Package metrics aggregates per-slot scheduler counters and exports them
// as Prometheus metrics: per-slot decision latency, grant counts, HARQ
// NACK/timeout counters and cell activation state, via promauto-registered
// vectors and a zap-logged HTTP server.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	SlotDecisionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnb_scheduler_slot_decision_latency_seconds",
			Help:    "Per-slot scheduling decision latency",
			Buckets: prometheus.ExponentialBuckets(1e-6, 2, 16),
		},
		[]string{"cell"},
	)

	PDSCHGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_pdsch_grants_total",
			Help: "Total PDSCH grants allocated",
		},
		[]string{"cell", "slice"},
	)

	PUSCHGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_pusch_grants_total",
			Help: "Total PUSCH grants allocated",
		},
		[]string{"cell", "slice"},
	)

	HARQRetransmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_harq_retransmissions_total",
			Help: "Total HARQ retransmissions scheduled",
		},
		[]string{"cell", "direction"},
	)

	HARQTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_harq_timeouts_total",
			Help: "Total HARQ processes force-expired by ACK timeout",
		},
		[]string{"cell"},
	)

	LateHARQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_late_harq_total",
			Help: "Total newTx candidates skipped for lack of an empty or pending-retx HARQ",
		},
		[]string{"cell"},
	)

	UCIAllocFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_uci_alloc_failures_total",
			Help: "Total slots where PUCCH HARQ-ACK allocation was exhausted",
		},
		[]string{"cell"},
	)

	CellActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gnb_scheduler_cell_active",
			Help: "Whether a cell is currently active (1) or stopped (0)",
		},
		[]string{"cell"},
	)

	EventQueueOverflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnb_scheduler_event_queue_overflows_total",
			Help: "Total events dropped due to a full ingress queue",
		},
		[]string{"cell"},
	)
)

// SlotReport is the per-slot summary the cell scheduler pushes into the
// metrics handler at the end of run_slot.
type SlotReport struct {
	CellName        string
	DecisionLatency time.Duration
	PDSCHGrants     map[uint32]uint32 // sliceID -> count
	PUSCHGrants     map[uint32]uint32
	DLRetx          uint32
	ULRetx          uint32
	HARQTimeouts    uint32
	LateHARQ        uint32
	UCIAllocFailed  bool
}

// Handler records SlotReports into the package-level Prometheus vectors and
// optionally forwards them to an archival Sink.
type Handler struct {
	logger *zap.Logger
	sink   Sink
}

// Sink is the optional periodic-report archival collaborator (e.g.
// internal/metrics/archive's ClickHouse writer); nil disables archival.
type Sink interface {
	Archive(ctx context.Context, report SlotReport) error
}

// NewHandler builds a metrics handler. sink may be nil.
func NewHandler(logger *zap.Logger, sink Sink) *Handler {
	return &Handler{logger: logger, sink: sink}
}

// Push records one slot's report, matching the "push slot result
// and decision latency into the metrics handler" contract.
func (h *Handler) Push(ctx context.Context, r SlotReport) {
	SlotDecisionLatency.WithLabelValues(r.CellName).Observe(r.DecisionLatency.Seconds())
	for sliceID, n := range r.PDSCHGrants {
		PDSCHGrantsTotal.WithLabelValues(r.CellName, sliceLabel(sliceID)).Add(float64(n))
	}
	for sliceID, n := range r.PUSCHGrants {
		PUSCHGrantsTotal.WithLabelValues(r.CellName, sliceLabel(sliceID)).Add(float64(n))
	}
	if r.DLRetx > 0 {
		HARQRetransmissionsTotal.WithLabelValues(r.CellName, "dl").Add(float64(r.DLRetx))
	}
	if r.ULRetx > 0 {
		HARQRetransmissionsTotal.WithLabelValues(r.CellName, "ul").Add(float64(r.ULRetx))
	}
	if r.HARQTimeouts > 0 {
		HARQTimeoutsTotal.WithLabelValues(r.CellName).Add(float64(r.HARQTimeouts))
	}
	if r.LateHARQ > 0 {
		LateHARQTotal.WithLabelValues(r.CellName).Add(float64(r.LateHARQ))
	}
	if r.UCIAllocFailed {
		UCIAllocFailuresTotal.WithLabelValues(r.CellName).Inc()
	}

	if h.sink != nil {
		if err := h.sink.Archive(ctx, r); err != nil {
			h.logger.Warn("failed to archive slot report", zap.String("cell", r.CellName), zap.Error(err))
		}
	}
}

// SetCellActive flips the cell-activation gauge, pushed on stop_cmd/start_cmd
// on cell activation/deactivation.
func (h *Handler) SetCellActive(cellName string, active bool) {
	if active {
		CellActive.WithLabelValues(cellName).Set(1)
	} else {
		CellActive.WithLabelValues(cellName).Set(0)
	}
}

// RecordEventOverflow increments the queue-overflow counter for cellName.
func (h *Handler) RecordEventOverflow(cellName string) {
	EventQueueOverflowsTotal.WithLabelValues(cellName).Inc()
}

func sliceLabel(sliceID uint32) string {
	return fmt.Sprintf("%d", sliceID)
}

// CellInspector is the scheduler dispatcher's view exposed to the debug
// server's /debug/cells/{id} route: enough of a cell's live state to
// answer an operator's "what is cell N doing" question without exposing
// the scheduler's internal types over HTTP.
type CellInspector interface {
	CellDebugInfo(cellIndex uint32) (info map[string]any, ok bool)
}

// Server is the scheduler's debug/metrics HTTP server: a chi router with
// RequestID/Recoverer/Timeout middleware wrapping an http.Server.
type Server struct {
	addr       string
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
	inspector  CellInspector
}

// NewServer builds a metrics HTTP server bound to addr (host:port).
// inspector may be nil, in which case /debug/cells/{id} always 404s.
func NewServer(addr string, logger *zap.Logger, inspector CellInspector) *Server {
	s := &Server{addr: addr, logger: logger, inspector: inspector, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Second))

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	s.router.Get("/debug/cells/{id}", s.handleDebugCell)
}

func (s *Server) handleDebugCell(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	var cellIndex uint32
	if _, err := fmt.Sscanf(idStr, "%d", &cellIndex); err != nil {
		http.Error(w, "invalid cell id", http.StatusBadRequest)
		return
	}
	if s.inspector == nil {
		http.NotFound(w, r)
		return
	}
	info, ok := s.inspector.CellDebugInfo(cellIndex)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.logger.Warn("failed to encode debug cell response", zap.Error(err))
	}
}

// Start runs the HTTP server until Stop is called or ListenAndServe errors.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting scheduler metrics server", zap.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
