package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"qbridge/internal/auth"
	"qbridge/internal/db/models"
	"qbridge/internal/metrics"
	"qbridge/internal/monitor"
	"qbridge/internal/stream"
	"qbridge/internal/translator"
	"qbridge/internal/upstream"
)

// ChatDeps bundles what both chat endpoints need.
type ChatDeps struct {
	Manager    *auth.Manager
	Client     *upstream.Client
	Translator *translator.Translator
	Monitor    *monitor.Monitor
}

// logChat records one chat request with its protocol-level detail.
func (d ChatDeps) logChat(r *http.Request, status int, start time.Time, model string, streaming bool, errText string) {
	elapsed := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(r.URL.Path, statusLabel(status)).Inc()
	metrics.RequestDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())

	if d.Monitor == nil {
		return
	}
	accountName := ""
	if sess, ok := d.Manager.Session(); ok {
		accountName = sess.Name
	}
	d.Monitor.LogRequest(models.RequestLog{
		Method:      r.Method,
		Path:        r.URL.Path,
		Status:      status,
		DurationMs:  elapsed.Milliseconds(),
		Model:       model,
		AccountName: accountName,
		Stream:      streaming,
		Error:       errText,
	})
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// openChatStream runs the shared front half of both chat endpoints: get a
// valid token, translate, and open the backend stream. A non-2xx backend
// answer is relayed with its original status code.
func (d ChatDeps) openChatStream(w http.ResponseWriter, r *http.Request, req translator.ClaudeRequest) (*http.Response, string, bool) {
	model := d.Translator.Model(req.Model)

	accessToken, err := d.Manager.EnsureValid(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrCredentialUnavailable) {
			writeError(w, http.StatusUnauthorized, "no valid credential available")
			return nil, model, false
		}
		// Refresh failures can carry upstream response text; log the
		// detail and keep the client-facing message generic.
		log.Printf("❌ Credential renewal failed: %v", err)
		writeError(w, http.StatusInternalServerError, "token refresh failed")
		return nil, model, false
	}

	profileARN := ""
	if sess, ok := d.Manager.Session(); ok {
		profileARN = sess.ProfileARN
	}

	payload := d.Translator.Translate(req, profileARN)
	resp, err := d.Client.SendMessage(r.Context(), accessToken, payload)
	if err != nil {
		log.Printf("❌ Backend request failed: %v", err)
		writeError(w, http.StatusBadGateway, "backend request failed")
		return nil, model, false
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		log.Printf("❌ Backend returned %d: %s", resp.StatusCode, string(body))
		writeError(w, resp.StatusCode, "backend rejected the request")
		return nil, model, false
	}

	return resp, model, true
}

// ClaudeMessagesHandler handles POST /v1/messages.
func ClaudeMessagesHandler(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req translator.ClaudeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			deps.logChat(r, http.StatusBadRequest, start, "", false, "invalid request body")
			return
		}

		log.Printf("📨 Claude request: model=%s messages=%d stream=%v",
			req.Model, len(req.Messages), req.StreamRequested())

		rec := &responseRecorder{ResponseWriter: w}
		resp, model, ok := deps.openChatStream(rec, r, req)
		if !ok {
			deps.logChat(r, rec.status, start, model, req.StreamRequested(), "upstream error")
			return
		}
		defer resp.Body.Close()

		src := stream.NewDecoder(resp.Body)

		if req.StreamRequested() {
			SetSSEHeaders(w)
			if err := stream.RenderClaude(w, src, model); err != nil {
				log.Printf("⚠️ Claude stream aborted: %v", err)
				deps.logChat(r, http.StatusOK, start, model, true, "stream aborted: "+err.Error())
				return
			}
			deps.logChat(r, http.StatusOK, start, model, true, "")
			return
		}

		text := stream.Collect(src)
		writeJSON(w, http.StatusOK, claudeMessage(text, model))
		deps.logChat(r, http.StatusOK, start, model, false, "")
	}
}

// claudeMessage assembles a non-streaming messages-API response body.
func claudeMessage(text, model string) map[string]any {
	return map[string]any{
		"id":    "msg_" + uuid.New().String(),
		"type":  "message",
		"role":  "assistant",
		"model": model,
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
	}
}

// OpenAIChatHandler handles POST /v1/chat/completions. OpenAI requests are
// lifted into the Claude form so both endpoints share one translation path.
func OpenAIChatHandler(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req translator.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			deps.logChat(r, http.StatusBadRequest, start, "", false, "invalid request body")
			return
		}

		log.Printf("📨 OpenAI request: model=%s messages=%d stream=%v",
			req.Model, len(req.Messages), req.StreamRequested())

		rec := &responseRecorder{ResponseWriter: w}
		resp, model, ok := deps.openChatStream(rec, r, req.ToClaude())
		if !ok {
			deps.logChat(r, rec.status, start, model, req.StreamRequested(), "upstream error")
			return
		}
		defer resp.Body.Close()

		src := stream.NewDecoder(resp.Body)

		if req.StreamRequested() {
			SetSSEHeaders(w)
			if err := stream.RenderOpenAI(w, src, model); err != nil {
				log.Printf("⚠️ OpenAI stream aborted: %v", err)
				deps.logChat(r, http.StatusOK, start, model, true, "stream aborted: "+err.Error())
				return
			}
			deps.logChat(r, http.StatusOK, start, model, true, "")
			return
		}

		text := stream.Collect(src)
		writeJSON(w, http.StatusOK, stream.NewCompletionResponse(text, model))
		deps.logChat(r, http.StatusOK, start, model, false, "")
	}
}

// ModelsHandler handles GET /v1/models with the static model catalog.
func ModelsHandler() http.HandlerFunc {
	catalog := []map[string]any{
		{"id": "claude-sonnet-4", "object": "model", "owned_by": "qbridge"},
		{"id": "claude-sonnet-4.5", "object": "model", "owned_by": "qbridge"},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   catalog,
		})
	}
}
