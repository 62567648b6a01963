// Package api serves the HTTP surface: realtime display samples, pipeline
// status, event history, CSV export, and raw sensor commands.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tremor-data/intensity.report/internal/config"
	"github.com/tremor-data/intensity.report/internal/db"
	"github.com/tremor-data/intensity.report/internal/history"
	"github.com/tremor-data/intensity.report/internal/pipeline"
	"github.com/tremor-data/intensity.report/internal/security"
	"github.com/tremor-data/intensity.report/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m        serialmux.SerialMuxInterface
	pipeline *pipeline.Scheduler
	history  *history.Store

	// archive is the long-term event database; nil when running without one.
	archive *db.DB

	tuning *config.TuningConfig
}

func NewServer(m serialmux.SerialMuxInterface, p *pipeline.Scheduler, h *history.Store, archive *db.DB, tuning *config.TuningConfig) *Server {
	return &Server{
		m:        m,
		pipeline: p,
		history:  h,
		archive:  archive,
		tuning:   tuning,
	}
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
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/samples", s.listSamples)
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/events", s.listEvents)
	mux.HandleFunc("/events/export", s.exportEvents)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// listSamples returns the current display window, oldest sample first.
func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.pipeline.DisplayWindow()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write samples")
		return
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.pipeline.Status()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

// listEvents returns event records newest-first. The default source is the
// bounded in-memory history; ?source=archive queries the long-term database
// instead. ?limit=N caps the result either way.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := history.DefaultCapacity
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	if r.URL.Query().Get("source") == "archive" {
		if s.archive == nil {
			s.writeJSONError(w, http.StatusNotFound, "No event archive configured")
			return
		}
		events, err := s.archive.Events(limit)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve events: %v", err))
			return
		}
		if err := json.NewEncoder(w).Encode(events); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
			return
		}
		return
	}

	events := s.history.Snapshot()
	if len(events) > limit {
		events = events[:limit]
	}
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

// exportEvents serves the history as CSV. GET streams a download; POST with a
// "path" form value writes the export to a server-side file instead. Unlike
// background persistence this path is interactive, so failures surface to the
// caller.
func (s *Server) exportEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.exportEventsToFile(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filename := fmt.Sprintf("events-%s.csv", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := history.WriteCSV(w, s.history.Snapshot()); err != nil {
		// headers are already out; all we can do is log
		log.Printf("[API] failed to stream CSV export: %v", err)
	}
}

// exportEventsToFile writes the history CSV to a caller-supplied path. The
// path must stay inside the working or temp directory.
func (s *Server) exportEventsToFile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := r.FormValue("path")
	if path == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'path' parameter")
		return
	}
	if err := security.ValidateExportPath(path); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid export path: %v", err))
		return
	}

	if err := s.history.Export(path); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"path": path})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.tuning); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
