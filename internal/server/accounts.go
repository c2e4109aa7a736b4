package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qbridge/internal/account"
	"qbridge/internal/auth"
	"qbridge/internal/metrics"
)

// addAccountRequest is the POST /api/accounts body. Field names follow the
// account file contract.
type addAccountRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ProfileARN   string `json:"profile_arn"`
	Name         string `json:"name"`
}

// ListAccountsHandler handles GET /api/accounts. Every view is redacted.
func ListAccountsHandler(store *account.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"accounts": store.List(),
		})
	}
}

// AddAccountHandler handles POST /api/accounts.
func AddAccountHandler(store *account.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refresh_token is required")
			return
		}

		acc, err := store.Add(req.RefreshToken, req.ClientID, req.ClientSecret, req.ProfileARN, req.Name)
		if err != nil {
			log.Printf("❌ Failed to add account: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to persist account")
			return
		}

		metrics.ActiveAccounts.Set(float64(store.Len()))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"account": acc.Redacted(),
		})
	}
}

// DeleteAccountHandler handles DELETE /api/accounts/{id}.
func DeleteAccountHandler(store *account.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(id); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account not found")
				return
			}
			log.Printf("❌ Failed to delete account %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to persist account pool")
			return
		}

		metrics.ActiveAccounts.Set(float64(store.Len()))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// ActivateAccountHandler handles POST /api/accounts/{id}/activate.
func ActivateAccountHandler(store *account.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Activate(id); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				writeError(w, http.StatusNotFound, "account not found")
				return
			}
			log.Printf("❌ Failed to activate account %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to persist account pool")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RefreshAccountHandler handles POST /v2/accounts/{id}/refresh: a manual,
// single-account renewal that reports the updated bookkeeping fields.
func RefreshAccountHandler(manager *auth.Manager, store *account.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := manager.Renew(r.Context(), id); err != nil {
			metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
			switch {
			case errors.Is(err, account.ErrNotFound):
				writeError(w, http.StatusNotFound, "account not found")
			case errors.Is(err, auth.ErrIncompleteAccount):
				writeError(w, http.StatusBadRequest, "account is missing credentials")
			default:
				// The cause may embed upstream response text; keep it out
				// of the client-facing message.
				writeError(w, http.StatusInternalServerError, "token refresh failed")
			}
			return
		}

		metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
		acc, err := store.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"account": acc.Redacted(),
		})
	}
}

// RefreshAllHandler handles POST /v2/accounts/refresh-all. The report lists
// every account's outcome; a failing account never aborts the loop.
func RefreshAllHandler(manager *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := manager.RefreshAll(r.Context())
		metrics.TokenRefreshTotal.WithLabelValues("success").Add(float64(report.SuccessCount))
		metrics.TokenRefreshTotal.WithLabelValues("failure").Add(float64(report.FailedCount))
		writeJSON(w, http.StatusOK, report)
	}
}
