// Package auth owns the credential lifecycle: keeping an access token alive
// for every account in the pool and handing the active account's token to
// chat requests.
package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"qbridge/internal/account"
	"qbridge/internal/upstream"
)

const defaultTokenLifetime = 3600 // seconds, when the backend omits expiresIn

// Session is the materialized credential for the active account. Token is
// nil until the account's first successful renewal.
type Session struct {
	AccountID  string
	Name       string
	ProfileARN string
	Token      *oauth2.Token
}

// Manager renews tokens and caches them per account. Renewal is addressed
// by account id and never touches the active flag; the flag only selects
// which account serves new chat requests.
type Manager struct {
	store  *account.Store
	client *upstream.Client

	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

// NewManager creates a lifecycle manager over the given pool and backend.
func NewManager(store *account.Store, client *upstream.Client) *Manager {
	return &Manager{
		store:  store,
		client: client,
		tokens: make(map[string]*oauth2.Token),
	}
}

// Session projects the active account plus any cached token for that slot.
func (m *Manager) Session() (Session, bool) {
	acc, ok := m.store.Active()
	if !ok {
		return Session{}, false
	}

	m.mu.RLock()
	token := m.tokens[acc.ID]
	m.mu.RUnlock()

	return Session{
		AccountID:  acc.ID,
		Name:       acc.Name,
		ProfileARN: acc.ProfileARN,
		Token:      token,
	}, true
}

// Token returns the cached token for a specific account, if any.
func (m *Manager) Token(accountID string) *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[accountID]
}

func tokenUsable(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	// No grace window: a token is good until its expiry instant.
	return t.Expiry.IsZero() || t.Expiry.After(time.Now())
}

// EnsureValid returns a valid access token for the active account, renewing
// synchronously when the cached token is absent or expired.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	sess, ok := m.Session()
	if !ok {
		return "", ErrCredentialUnavailable
	}

	if tokenUsable(sess.Token) {
		return sess.Token.AccessToken, nil
	}

	log.Printf("⚠️ Token for account %s is expired or missing, refreshing...", sess.Name)
	if err := m.Renew(ctx, sess.AccountID); err != nil {
		return "", err
	}

	token := m.Token(sess.AccountID)
	if !tokenUsable(token) {
		return "", ErrCredentialUnavailable
	}
	return token.AccessToken, nil
}

// Renew performs the renewal protocol for one account: POST the refresh
// credential to the auth endpoint, store the new access token, persist a
// rotated refresh credential when present, and record the outcome. The
// network call runs outside every lock.
func (m *Manager) Renew(ctx context.Context, accountID string) error {
	acc, err := m.store.Get(accountID)
	if err != nil {
		return err
	}
	if !acc.HasCredentials() {
		return ErrIncompleteAccount
	}

	resp, err := m.client.RefreshToken(ctx, upstream.RefreshRequest{
		RefreshToken: acc.RefreshToken,
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
	})
	if err != nil {
		reason := ReasonTransport
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			reason = ReasonHTTPStatus
		}
		return m.failRenewal(accountID, reason, err)
	}
	if resp.AccessToken == "" {
		return m.failRenewal(accountID, ReasonMalformed, errors.New("response is missing accessToken"))
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultTokenLifetime
	}

	if _, err := m.store.RecordRefreshResult(accountID, account.RefreshSuccess, resp.RefreshToken); err != nil {
		log.Printf("⚠️ Failed to persist refresh outcome for %s: %v", accountID, err)
	}

	m.mu.Lock()
	m.tokens[accountID] = &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	m.mu.Unlock()

	log.Printf("✅ Refreshed token for account %s (expires in %ds)", acc.Name, expiresIn)
	return nil
}

// failRenewal records the failed outcome before the error propagates.
func (m *Manager) failRenewal(accountID, reason string, cause error) error {
	if _, err := m.store.RecordRefreshResult(accountID, account.RefreshFailed, ""); err != nil {
		log.Printf("⚠️ Failed to persist refresh outcome for %s: %v", accountID, err)
	}

	log.Printf("❌ Token refresh failed for account %s: %v", accountID, cause)
	return &RefreshError{AccountID: accountID, Reason: reason, Err: cause}
}

// RefreshOutcome is one account's result in a bulk renewal report.
type RefreshOutcome struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RefreshReport summarizes a bulk renewal.
type RefreshReport struct {
	Total        int              `json:"total"`
	SuccessCount int              `json:"success_count"`
	FailedCount  int              `json:"failed_count"`
	Results      []RefreshOutcome `json:"results"`
}

// RefreshAll renews every account in store order. One account's failure
// never aborts the loop; accounts missing secrets are skipped outright.
// The active selection is untouched throughout.
func (m *Manager) RefreshAll(ctx context.Context) RefreshReport {
	accounts := m.store.All()
	report := RefreshReport{Total: len(accounts)}

	for _, acc := range accounts {
		if !acc.HasCredentials() {
			log.Printf("⚠️ Account %s is missing credentials, skipping", acc.Name)
			report.FailedCount++
			report.Results = append(report.Results, RefreshOutcome{
				ID: acc.ID, Name: acc.Name, Status: "skipped", Error: ErrIncompleteAccount.Error(),
			})
			continue
		}

		if err := m.Renew(ctx, acc.ID); err != nil {
			report.FailedCount++
			report.Results = append(report.Results, RefreshOutcome{
				ID: acc.ID, Name: acc.Name, Status: "failed", Error: err.Error(),
			})
			continue
		}

		report.SuccessCount++
		report.Results = append(report.Results, RefreshOutcome{
			ID: acc.ID, Name: acc.Name, Status: "success",
		})
	}

	log.Printf("🔄 Bulk refresh finished: %d/%d succeeded, %d failed",
		report.SuccessCount, report.Total, report.FailedCount)
	return report
}
