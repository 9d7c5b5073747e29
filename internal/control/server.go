// Package control exposes the driver to operators over HTTP.
//
// Routes:
//
//	GET  /health                 liveness plus connection summary
//	GET  /stats                  driver statistics (and registered extras)
//	GET  /params                 every parameter value
//	GET  /params/{name}          one parameter
//	PUT  /params/{name}          {"value": n}
//	PUT  /format                 {"color_mode", "data_type", "bayer"}
//	POST /acquisition/start
//	POST /acquisition/stop
//	POST /connection/reset
//	GET  /report?details=n       text report
//	GET  /metrics                Prometheus exposition (when configured)
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	gigecapture "github.com/e7canasta/orion-care-sensor/modules/gige-capture"
)

// Driver is the part of *gigecapture.Driver the control API drives.
type Driver interface {
	Stats() gigecapture.Stats
	StartAcquisition(ctx context.Context) error
	StopAcquisition()
	Reset(ctx context.Context) error
	GetParam(p gigecapture.Param) (int64, error)
	SetParam(p gigecapture.Param, v int64) error
	SetOutputFormat(want gigecapture.OutputFormat) (gigecapture.PixelFormat, error)
	Report(w io.Writer, details int) error
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version"`
	Camera        string `json:"camera"`
	Connection    string `json:"connection"`
	State         string `json:"state"`
	DetectorState string `json:"detector_status"`
}

type paramValue struct {
	Value int64 `json:"value"`
}

type formatRequest struct {
	ColorMode string `json:"color_mode"`
	DataType  string `json:"data_type"`
	Bayer     string `json:"bayer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the control API.
type Server struct {
	drv     Driver
	metrics http.Handler
	logger  zerolog.Logger
	started time.Time
	router  *mux.Router

	extrasMu sync.RWMutex
	extras   map[string]func() any

	server *http.Server
}

// New builds the router. metrics may be nil, in which case /metrics is not
// registered.
func New(drv Driver, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		drv:     drv,
		metrics: metrics,
		logger:  logger.With().Str("component", "control").Logger(),
		started: time.Now(),
		extras:  make(map[string]func() any),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/params", s.handleListParams).Methods(http.MethodGet)
	r.HandleFunc("/params/{name}", s.handleGetParam).Methods(http.MethodGet)
	r.HandleFunc("/params/{name}", s.handleSetParam).Methods(http.MethodPut)
	r.HandleFunc("/format", s.handleSetFormat).Methods(http.MethodPut)
	r.HandleFunc("/acquisition/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/acquisition/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/connection/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// AddStats registers fn under name in the /stats response. Used for
// downstream consumers (frame supplier, IPC sink).
func (s *Server) AddStats(name string, fn func() any) {
	s.extrasMu.Lock()
	defer s.extrasMu.Unlock()
	s.extras[name] = fn
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr in a background goroutine.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("control: starting http server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("control: http server failed")
		}
	}()
	return nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.drv.Stats()
	h := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Version:       gigecapture.Version,
		Camera:        st.Camera,
		Connection:    st.Connection,
		State:         st.State,
		DetectorState: st.Status,
	}

	code := http.StatusOK
	switch {
	case st.State == gigecapture.StateFaulted.String():
		h.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case st.Connection != "connected":
		h.Status = "degraded"
	}
	writeJSON(w, code, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.extrasMu.RLock()
	defer s.extrasMu.RUnlock()

	if len(s.extras) == 0 {
		writeJSON(w, http.StatusOK, s.drv.Stats())
		return
	}
	body := map[string]any{"driver": s.drv.Stats()}
	for name, fn := range s.extras {
		body[name] = fn()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListParams(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]int64)
	for _, name := range gigecapture.ParamNames() {
		p, err := gigecapture.ParseParam(name)
		if err != nil {
			continue
		}
		v, err := s.drv.GetParam(p)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out[name] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	p, err := gigecapture.ParseParam(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.drv.GetParam(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramValue{Value: v})
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	p, err := gigecapture.ParseParam(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req paramValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.drv.SetParam(p, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("param", p.String()).Int64("value", req.Value).Msg("control: parameter set")
	writeJSON(w, http.StatusOK, paramValue{Value: req.Value})
}

func (s *Server) handleSetFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	want, err := gigecapture.ParseOutputFormat(req.ColorMode, req.DataType, req.Bayer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wire, err := s.drv.SetOutputFormat(want)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pixel_format": fmt.Sprintf("0x%08x", uint32(wire))})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.drv.StartAcquisition(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.drv.Stats().State})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.drv.StopAcquisition()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": "stopping"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.drv.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection": s.drv.Stats().Connection})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	details := 1
	if v := r.URL.Query().Get("details"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "details must be a non-negative integer"})
			return
		}
		details = n
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.drv.Report(w, details); err != nil {
		s.logger.Warn().Err(err).Msg("control: report write failed")
	}
}

// statusFor maps driver errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gigecapture.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, gigecapture.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gigecapture.ErrAlreadyAcquiring), errors.Is(err, gigecapture.ErrFaulted):
		return http.StatusConflict
	case errors.Is(err, gigecapture.ErrDisconnected), errors.Is(err, gigecapture.ErrNotReady),
		errors.Is(err, gigecapture.ErrConnectionLost), errors.Is(err, gigecapture.ErrStreamCreation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("control: request failed")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
