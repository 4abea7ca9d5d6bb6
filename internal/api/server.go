// Package api serves stored fit results and live model distributions
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/caldera-data/oscillation.report/internal/fitstore"
	"github.com/caldera-data/oscillation.report/internal/model"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
	"github.com/caldera-data/oscillation.report/internal/report"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store *fitstore.Store
	model *model.DetectorModel
}

// NewServer builds a server over the fit store. The detector model is
// optional; without it the live-outputs endpoint reports 503.
func NewServer(store *fitstore.Store, m *model.DetectorModel) *Server {
	return &Server{store: store, model: m}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/api/scan", s.showScan)
	mux.HandleFunc("/api/outputs", s.showOutputs)
	mux.HandleFunc("/report/run", s.runReport)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.FitRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve fit runs: %v", err))
		return
	}
	if runs == nil {
		runs = []fitstore.FitRun{}
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write fit runs")
		return
	}
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("id")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return
	}

	run, err := s.store.GetFitRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("Failed to retrieve fit run %s: %v", runID, err))
		return
	}

	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write fit run")
		return
	}
}

func (s *Server) showScan(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("id")
	param := r.URL.Query().Get("param")
	if runID == "" || param == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' or 'param' parameter")
		return
	}

	values, results, err := s.store.ScanPoints(runID, param)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve scan: %v", err))
		return
	}

	out := map[string]interface{}{
		"run_id": runID,
		"param":  param,
		"values": values,
		"metric": results,
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write scan")
		return
	}
}

// detectorOutputs is the JSON shape of one detector's distributions.
type detectorOutputs struct {
	Detector string               `json:"detector"`
	Binning  string               `json:"binning"`
	Channels map[string][]float64 `json:"channels"`
	Totals   map[string]float64   `json:"totals"`
}

func (s *Server) showOutputs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.model == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No detector model configured")
		return
	}

	outs, err := s.model.GetOutputs(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to compute outputs: %v", err))
		return
	}

	var payload []detectorOutputs
	for name, ms := range outs {
		d := detectorOutputs{
			Detector: name,
			Channels: map[string][]float64{},
			Totals:   map[string]float64{},
		}
		for _, m := range ms.Maps {
			d.Binning = m.Binning.String()
			d.Channels[m.Name] = m.Values
			d.Totals[m.Name] = m.Total()
		}
		payload = append(payload, d)
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write outputs")
		return
	}
}

func (s *Server) runReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("id")
	if runID == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	run, err := s.store.GetFitRun(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve fit run %s: %v", runID, err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderFitRun(w, run); err != nil {
		monitoring.Logf("failed to render fit run %s: %v", runID, err)
	}
}

// ListenAndServe runs the API (with request logging and admin routes)
// until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := s.ServeMux()
	if err := s.store.AttachAdminRoutes(mux); err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: LoggingMiddleware(mux)}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	monitoring.Logf("api listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}
