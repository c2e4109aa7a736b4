package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"qbridge/internal/auth"
	"qbridge/internal/monitor"
)

// HealthHandler handles GET /health. The token fields describe the active
// account's cached credential.
func HealthHandler(manager *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hasToken := false
		tokenExpired := true

		if sess, ok := manager.Session(); ok && sess.Token != nil && sess.Token.AccessToken != "" {
			hasToken = true
			tokenExpired = !sess.Token.Expiry.IsZero() && !sess.Token.Expiry.After(time.Now())
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"has_token":     hasToken,
			"token_expired": tokenExpired,
		})
	}
}

// LogsHandler handles GET /api/logs with optional limit and since_minutes
// query parameters.
func LogsHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		since, _ := strconv.Atoi(r.URL.Query().Get("since_minutes"))

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"logs":    mon.GetLogs(limit, since),
			"stats":   mon.GetStats(),
		})
	}
}

// SetLogsEnabledHandler handles POST /api/logs/enabled, toggling request
// logging at runtime.
func SetLogsEnabledHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		mon.SetEnabled(req.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"enabled": mon.IsEnabled(),
		})
	}
}

// ClearLogsHandler handles DELETE /api/logs.
func ClearLogsHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mon.Clear(); err != nil {
			log.Printf("❌ Failed to clear request logs: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to clear logs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
