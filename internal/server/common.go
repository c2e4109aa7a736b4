// Package server wires the HTTP surface: account management, the two chat
// protocol endpoints, and the operational routes.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"qbridge/internal/db/models"
	"qbridge/internal/metrics"
	"qbridge/internal/monitor"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

// writeError writes the management-API error envelope. The message must
// never carry credential material; callers pass generic text for anything
// that could embed a secret.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// SetSSEHeaders sets the standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// responseRecorder captures the status code written by a handler so the
// monitor and metrics middleware can report it.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer so SSE handlers keep streaming.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Observe wraps a handler with request logging and Prometheus metrics.
// The endpoint label is the route pattern, not the raw path, to keep
// metric cardinality bounded.
func Observe(endpoint string, mon *monitor.Monitor, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}

		next(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

		if mon != nil {
			mon.LogRequest(models.RequestLog{
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     status,
				DurationMs: elapsed.Milliseconds(),
			})
		}
	}
}
