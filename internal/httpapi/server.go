// Package httpapi hosts the supervisor's HTTP surface: device
// and event queries for the dashboard, event acknowledgement, the
// Prometheus scrape endpoint, the health probe, the tool-call transport,
// and the WebSocket upgrade. Every route runs behind the shared
// middleware chain (recovery, logging, metrics, CORS, security headers,
// rate limiting).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
	"github.com/nestwatch/sentryd/infrastructure/logging"
	"github.com/nestwatch/sentryd/infrastructure/metrics"
	"github.com/nestwatch/sentryd/infrastructure/middleware"
	"github.com/nestwatch/sentryd/internal/dispatcher"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/registry"
	"github.com/nestwatch/sentryd/internal/scheduler"
)

// Server wires the supervisor's components to HTTP routes.
type Server struct {
	reg    *registry.Registry
	store  *eventstore.Store
	sched  *scheduler.Scheduler
	disp   *dispatcher.Dispatcher
	mets   *metrics.Metrics
	logger *logging.Logger

	wsHandler http.Handler
	router    *mux.Router
}

// New builds the router. wsHandler serves /ws/events (the notifier); it
// may be nil in tests that don't exercise WebSocket.
func New(reg *registry.Registry, store *eventstore.Store, sched *scheduler.Scheduler,
	disp *dispatcher.Dispatcher, mets *metrics.Metrics, logger *logging.Logger, wsHandler http.Handler) *Server {

	s := &Server{
		reg:       reg,
		store:     store,
		sched:     sched,
		disp:      disp,
		mets:      mets,
		logger:    logger,
		wsHandler: wsHandler,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/events/{seq:[0-9]+}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/api/tools", s.handleToolList).Methods(http.MethodGet)
	r.HandleFunc("/api/tools/{tool}", s.handleToolCall).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	if s.wsHandler != nil {
		r.Handle("/ws/events", s.wsHandler).Methods(http.MethodGet)
	}

	recovery := middleware.NewRecoveryMiddleware(s.logger)
	cors := middleware.NewCORSMiddleware(nil)
	limiter := middleware.NewRateLimiter(50, 100)

	r.Use(
		mux.MiddlewareFunc(recovery.Handler),
		middleware.LoggingMiddleware(s.logger),
		middleware.MetricsMiddleware(s.mets),
		mux.MiddlewareFunc(cors.Handler),
		mux.MiddlewareFunc(middleware.SecurityHeadersMiddleware),
		mux.MiddlewareFunc(limiter.Handler),
	)
	return r
}

// Router exposes the composed handler for the HTTP server and tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.reg.List()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since uint64
	if raw := q.Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "protocol", "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "protocol", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	severity := model.Severity(q.Get("severity"))
	if severity != "" && !validSeverity(severity) {
		writeError(w, http.StatusBadRequest, "protocol", "severity must be info, warning, or alarm")
		return
	}

	events := s.store.Query(since, severity, q.Get("category"), limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "protocol", "sequence must be a non-negative integer")
		return
	}

	if err := s.store.Acknowledge(seq); err != nil {
		status := infraerrors.GetHTTPStatus(err)
		cause := "unavailable"
		if status == http.StatusNotFound {
			cause = "not_found"
		} else if status == http.StatusConflict {
			cause = "conflict"
		}
		writeError(w, status, cause, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seq": seq, "acknowledged": true})
}

type toolRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	res := s.disp.Invoke(r.Context(), "describe", "tools", nil)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	tool := mux.Vars(r)["tool"]

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "protocol", "request body must be JSON {action, params}")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "protocol", "action is required")
		return
	}

	res := s.disp.Invoke(r.Context(), tool, req.Action, req.Params)
	// Tool results carry their own success flag; the HTTP layer stays 200
	// so clients distinguish transport failures from tool failures.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Running() {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "scheduler is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "event_store_size": s.store.Size()})
}

// metricsHandler refreshes the point-in-time gauges (store size,
// unacknowledged counts) before every scrape, then serves the exposition.
func (s *Server) metricsHandler() http.Handler {
	prom := promhttp.HandlerFor(s.mets.Registry(), promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mets.SetEventStoreSize(s.store.Size())
		unacked := s.store.UnacknowledgedBySeverity()
		for _, sev := range []model.Severity{model.SeverityWarning, model.SeverityAlarm} {
			s.mets.SetUnacknowledged(string(sev), unacked[sev])
		}
		s.refreshDomainGauges()
		prom.ServeHTTP(w, r)
	})
}

// refreshDomainGauges projects the latest readings into the
// driver-declared domain gauges.
func (s *Server) refreshDomainGauges() {
	for _, view := range s.reg.List() {
		reading := view.Runtime.LastReading
		if reading == nil || !reading.IsSuccess() || reading.Payload == nil {
			continue
		}
		id := view.Descriptor.ID
		for field, value := range reading.Payload.MetricFields() {
			name, module := splitMetricField(field)
			switch name {
			case "power_watts":
				s.mets.PlugPowerWatts.WithLabelValues(id).Set(value)
			case "battery_pct":
				s.mets.RobotBatteryPercent.WithLabelValues(id).Set(value)
			case "temperature_celsius":
				s.mets.SensorTemperatureCelsius.WithLabelValues(id, module).Set(value)
			case "co2_ppm":
				s.mets.SensorCO2PPM.WithLabelValues(id, module).Set(value)
			case "humidity_percent":
				s.mets.SensorHumidityPercent.WithLabelValues(id, module).Set(value)
			}
		}
	}
}

// splitMetricField separates "co2_ppm:indoor" into name and module;
// single-valued fields have no module part.
func splitMetricField(field string) (name, module string) {
	for i := 0; i < len(field); i++ {
		if field[i] == ':' {
			return field[:i], field[i+1:]
		}
	}
	return field, ""
}

func validSeverity(s model.Severity) bool {
	return s == model.SeverityInfo || s == model.SeverityWarning || s == model.SeverityAlarm
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, cause, message string) {
	writeJSON(w, status, map[string]string{"cause": cause, "message": message})
}
