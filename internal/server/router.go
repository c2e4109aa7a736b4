package server

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qbridge/internal/account"
	"qbridge/internal/auth"
	"qbridge/internal/monitor"
	"qbridge/internal/translator"
	"qbridge/internal/upstream"
)

// Deps holds everything the router needs.
type Deps struct {
	Store      *account.Store
	Manager    *auth.Manager
	Client     *upstream.Client
	Translator *translator.Translator
	Monitor    *monitor.Monitor
	// StaticDir serves the dashboard at / when the directory exists.
	StaticDir string
}

// NewRouter builds the full route table.
func NewRouter(d Deps) http.Handler {
	chat := ChatDeps{
		Manager:    d.Manager,
		Client:     d.Client,
		Translator: d.Translator,
		Monitor:    d.Monitor,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Account management
	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", Observe("/api/accounts", d.Monitor, ListAccountsHandler(d.Store)))
		r.Post("/accounts", Observe("/api/accounts", d.Monitor, AddAccountHandler(d.Store)))
		r.Delete("/accounts/{id}", Observe("/api/accounts/{id}", d.Monitor, DeleteAccountHandler(d.Store)))
		r.Post("/accounts/{id}/activate", Observe("/api/accounts/{id}/activate", d.Monitor, ActivateAccountHandler(d.Store)))
		if d.Monitor != nil {
			r.Get("/logs", LogsHandler(d.Monitor))
			r.Post("/logs/enabled", SetLogsEnabledHandler(d.Monitor))
			r.Delete("/logs", ClearLogsHandler(d.Monitor))
		}
	})

	// Manual credential renewal
	r.Route("/v2/accounts", func(r chi.Router) {
		r.Post("/{id}/refresh", Observe("/v2/accounts/{id}/refresh", d.Monitor, RefreshAccountHandler(d.Manager, d.Store)))
		r.Post("/refresh-all", Observe("/v2/accounts/refresh-all", d.Monitor, RefreshAllHandler(d.Manager)))
	})

	// Chat protocols. These log through ChatDeps with per-request detail,
	// so they bypass the generic Observe wrapper.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", ClaudeMessagesHandler(chat))
		r.Post("/chat/completions", OpenAIChatHandler(chat))
		r.Get("/models", ModelsHandler())
	})

	// Operational surface
	r.Get("/health", HealthHandler(d.Manager))
	r.Handle("/metrics", promhttp.Handler())

	if d.StaticDir != "" {
		if _, err := os.Stat(d.StaticDir); err == nil {
			r.Handle("/*", http.FileServer(http.Dir(d.StaticDir)))
		}
	}

	return r
}
