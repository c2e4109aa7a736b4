package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qbridge/internal/account"
	"qbridge/internal/auth"
	"qbridge/internal/translator"
	"qbridge/internal/upstream"
)

// frame assembles one backend wire frame with valid checksums.
func frame(headers map[string]string, payload []byte) []byte {
	var hdr bytes.Buffer
	for name, value := range headers {
		hdr.WriteByte(byte(len(name)))
		hdr.WriteString(name)
		hdr.WriteByte(7) // string-typed header value
		var vlen [2]byte
		binary.BigEndian.PutUint16(vlen[:], uint16(len(value)))
		hdr.Write(vlen[:])
		hdr.WriteString(value)
	}

	total := 12 + hdr.Len() + len(payload) + 4

	var out bytes.Buffer
	var prelude [12]byte
	binary.BigEndian.PutUint32(prelude[0:4], uint32(total))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(hdr.Len()))
	binary.BigEndian.PutUint32(prelude[8:12], crc32.ChecksumIEEE(prelude[:8]))
	out.Write(prelude[:])
	out.Write(hdr.Bytes())
	out.Write(payload)

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(out.Bytes()))
	out.Write(trailer[:])
	return out.Bytes()
}

func assistantFrames(texts ...string) []byte {
	var out bytes.Buffer
	for _, text := range texts {
		payload, _ := json.Marshal(map[string]string{"content": text})
		out.Write(frame(map[string]string{
			":message-type": "event",
			":event-type":   "assistantResponseEvent",
		}, payload))
	}
	return out.Bytes()
}

type testEnv struct {
	store   *account.Store
	manager *auth.Manager
	client  *upstream.Client
}

// newTestEnv wires a store and manager against stub auth and chat backends.
func newTestEnv(t *testing.T, chatBody []byte, chatStatus int) testEnv {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "at-test", "expiresIn": 900})
	}))
	t.Cleanup(authSrv.Close)

	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chatStatus != http.StatusOK {
			w.WriteHeader(chatStatus)
			w.Write([]byte(`{"message":"denied"}`))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
		w.Write(chatBody)
	}))
	t.Cleanup(chatSrv.Close)

	store, err := account.NewStore(filepath.Join(t.TempDir(), "account.json"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	client := upstream.NewClient(chatSrv.URL, authSrv.URL, 5*time.Second, 5*time.Second)
	return testEnv{
		store:   store,
		manager: auth.NewManager(store, client),
		client:  client,
	}
}

// newTestRouter wires a full router over a stub environment.
func newTestRouter(t *testing.T, chatBody []byte, chatStatus int) (http.Handler, *account.Store) {
	t.Helper()
	env := newTestEnv(t, chatBody, chatStatus)
	router := NewRouter(Deps{
		Store:      env.store,
		Manager:    env.manager,
		Client:     env.client,
		Translator: translator.New("claude-sonnet-4.5"),
	})
	return router, env.store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, nil, http.StatusOK)

	// Add
	rec := doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{
		"refresh_token": "refresh-token-value-long-enough",
		"client_id":     "cid",
		"client_secret": "csec",
		"name":          "primary",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var added struct {
		Success bool `json:"success"`
		Account struct {
			ID           string `json:"id"`
			RefreshToken string `json:"refresh_token"`
			ClientSecret string `json:"client_secret"`
			IsActive     bool   `json:"is_active"`
		} `json:"account"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &added); err != nil {
		t.Fatalf("parse add response: %v", err)
	}
	if !added.Success || !added.Account.IsActive {
		t.Fatalf("unexpected add response: %s", rec.Body.String())
	}
	if added.Account.RefreshToken != "refresh-to...ough" {
		t.Fatalf("expected redacted refresh token, got %q", added.Account.RefreshToken)
	}
	if added.Account.ClientSecret != "***" {
		t.Fatalf("add response leaked the client secret: %q", added.Account.ClientSecret)
	}

	// List
	rec = doJSON(t, router, http.MethodGet, "/api/accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "refresh-token-value-long-enough") {
		t.Fatalf("listing leaked the refresh token: %s", rec.Body.String())
	}

	// Activate a missing account
	rec = doJSON(t, router, http.MethodPost, "/api/accounts/nope/activate", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("activate missing: expected 404, got %d", rec.Code)
	}
	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse error envelope: %v", err)
	}
	if envelope.Success || envelope.Error == "" {
		t.Fatalf("unexpected error envelope: %s", rec.Body.String())
	}

	// Delete
	rec = doJSON(t, router, http.MethodDelete, "/api/accounts/"+added.Account.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/api/accounts/"+added.Account.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete: expected 404, got %d", rec.Code)
	}
}

func TestMissingBodyValidation(t *testing.T) {
	router, _ := newTestRouter(t, nil, http.StatusOK)

	rec := doJSON(t, router, http.MethodPost, "/api/accounts", map[string]string{"name": "no-token"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil, http.StatusOK)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var health struct {
		Status       string `json:"status"`
		HasToken     bool   `json:"has_token"`
		TokenExpired bool   `json:"token_expired"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("parse health: %v", err)
	}
	if health.Status != "ok" || health.HasToken || !health.TokenExpired {
		t.Fatalf("unexpected health before any renewal: %+v", health)
	}
}

func TestModelsCatalog(t *testing.T) {
	router, _ := newTestRouter(t, nil, http.StatusOK)

	rec := doJSON(t, router, http.MethodGet, "/v1/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("parse models: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("unexpected catalog: %s", rec.Body.String())
	}
}

func TestClaudeMessagesNoAccounts(t *testing.T) {
	router, _ := newTestRouter(t, nil, http.StatusOK)

	rec := doJSON(t, router, http.MethodPost, "/v1/messages", map[string]any{
		"model":    "claude-sonnet-4.5",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with empty pool, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestClaudeMessagesNonStreaming(t *testing.T) {
	router, store := newTestRouter(t, assistantFrames("Hello", ", world"), http.StatusOK)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "arn:profile", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/messages", map[string]any{
		"model":    "claude-sonnet-4.5",
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var msg struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if msg.Type != "message" || msg.Role != "assistant" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
	if len(msg.Content) != 1 || msg.Content[0].Text != "Hello, world" {
		t.Fatalf("unexpected content: %s", rec.Body.String())
	}
	if msg.StopReason != "end_turn" {
		t.Fatalf("unexpected stop reason: %q", msg.StopReason)
	}
}

func TestClaudeMessagesStreaming(t *testing.T) {
	router, store := newTestRouter(t, assistantFrames("hi"), http.StatusOK)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/messages", map[string]any{
		"model":    "claude-sonnet-4.5",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := rec.Body.String()
	for _, event := range []string{"message_start", "content_block_delta", "message_stop"} {
		if !strings.Contains(body, "event: "+event) {
			t.Fatalf("stream missing %s:\n%s", event, body)
		}
	}
}

func TestOpenAIChatCompletions(t *testing.T) {
	router, store := newTestRouter(t, assistantFrames("hi", "!"), http.StatusOK)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	// Streaming: must end with the [DONE] sentinel.
	rec := doJSON(t, router, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "claude-sonnet-4",
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Fatalf("stream missing [DONE]:\n%s", rec.Body.String())
	}
}

func TestOpenAIChatNonStreaming(t *testing.T) {
	router, store := newTestRouter(t, assistantFrames("full answer"), http.StatusOK)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model":    "claude-sonnet-4",
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "full answer" {
		t.Fatalf("unexpected choices: %s", rec.Body.String())
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %q", resp.Choices[0].FinishReason)
	}
}

func TestBackendStatusPreserved(t *testing.T) {
	router, store := newTestRouter(t, nil, http.StatusForbidden)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/messages", map[string]any{
		"model":    "claude-sonnet-4.5",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected upstream 403 relayed, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "denied") {
		t.Fatalf("upstream body must not be relayed verbatim: %s", rec.Body.String())
	}
}

func TestRefreshAllEndpoint(t *testing.T) {
	router, store := newTestRouter(t, nil, http.StatusOK)
	if _, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one"); err != nil {
		t.Fatalf("add account: %v", err)
	}
	if _, err := store.Add("refresh-token-value-other", "", "", "", "broken"); err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v2/accounts/refresh-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report struct {
		Total        int `json:"total"`
		SuccessCount int `json:"success_count"`
		FailedCount  int `json:"failed_count"`
		Results      []struct {
			Status string `json:"status"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if report.Total != 2 || report.SuccessCount != 1 || report.FailedCount != 1 {
		t.Fatalf("unexpected report: %s", rec.Body.String())
	}
}

func TestRefreshSingleAccountReturnsBookkeeping(t *testing.T) {
	router, store := newTestRouter(t, nil, http.StatusOK)
	acc, err := store.Add("refresh-token-value-long", "cid", "csec", "", "one")
	if err != nil {
		t.Fatalf("add account: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v2/accounts/"+acc.ID+"/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Account struct {
			LastRefreshStatus string `json:"last_refresh_status"`
			LastRefreshTime   string `json:"last_refresh_time"`
		} `json:"account"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Success || resp.Account.LastRefreshStatus != "success" || resp.Account.LastRefreshTime == "" {
		t.Fatalf("unexpected refresh response: %s", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v2/accounts/missing/refresh", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
}
