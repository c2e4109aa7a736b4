// Package account stores the credential pool backing the gateway.
package account

import "time"

// Refresh outcome values recorded after each renewal attempt.
const (
	RefreshSuccess = "success"
	RefreshFailed  = "failed"
)

// Account holds one set of backend credentials. The same field names
// appear on disk; the file is plaintext, so it must live behind file
// permissions.
type Account struct {
	ID                string `json:"id"`
	RefreshToken      string `json:"refresh_token"`
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	ProfileARN        string `json:"profile_arn,omitempty"`
	Name              string `json:"name"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         string `json:"created_at"`
	LastRefreshTime   string `json:"last_refresh_time,omitempty"`
	LastRefreshStatus string `json:"last_refresh_status,omitempty"`
}

// HasCredentials reports whether the account carries all three secrets
// required for a token renewal.
func (a *Account) HasCredentials() bool {
	return a.RefreshToken != "" && a.ClientID != "" && a.ClientSecret != ""
}

// LastRefresh parses the last refresh timestamp. The zero time is returned
// when the account has never been refreshed.
func (a *Account) LastRefresh() time.Time {
	if a.LastRefreshTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, a.LastRefreshTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Redacted returns a copy safe for listing: the refresh token keeps a
// first-10/last-4 reveal window, the client secret is fully masked.
func (a *Account) Redacted() Account {
	out := *a
	out.RefreshToken = maskToken(a.RefreshToken)
	if out.ClientSecret != "" {
		out.ClientSecret = "***"
	}
	return out
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) > 14 {
		return token[:10] + "..." + token[len(token)-4:]
	}
	return "***"
}
