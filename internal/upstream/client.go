// Package upstream handles communication with the CodeWhisperer backend:
// token renewal against the OIDC endpoint and streaming chat calls.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Fixed client-identification headers. The backend validates these against
// its SDK compatibility checks, so they are constants, not computed.
const (
	refreshUserAgent    = "aws-sdk-rust/1.3.9 os/macos lang/rust/1.87.0"
	refreshAmzUserAgent = "aws-sdk-rust/1.3.9 ua/2.1 api/ssooidc/1.88.0 os/macos lang/rust/1.87.0 m/E app/AmazonQ-For-CLI"
	chatUserAgent       = "aws-sdk-rust/1.3.9 ua/2.1 api/codewhispererstreaming/0.1.11582 os/macos lang/rust/1.87.0 md/appVersion-1.19.3 app/AmazonQ-For-CLI"
	chatAmzUserAgent    = "aws-sdk-rust/1.3.9 ua/2.1 api/codewhispererstreaming/0.1.11582 os/macos lang/rust/1.87.0 m/F app/AmazonQ-For-CLI"
	chatTarget          = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"
	chatContentType     = "application/x-amz-json-1.0"
	amzSdkRequest       = "attempt=1; max=3"
	codewhispererOptout = "true"
)

// StatusError reports a non-2xx response from the backend, preserving the
// upstream status code and body for the caller.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// RefreshRequest is the token-renewal payload. Field names follow the
// backend's camelCase contract.
type RefreshRequest struct {
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// RefreshResponse is the token-renewal result. RefreshToken is only present
// when the backend rotates the credential; ExpiresIn may be absent.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Client talks to the backend. Renewal and chat calls use separate HTTP
// clients so the short renewal budget never applies to a streaming
// generation and vice versa.
type Client struct {
	apiEndpoint  string
	authEndpoint string
	authClient   *http.Client
	chatClient   *http.Client
}

// NewClient creates a backend client with the given endpoints and timeouts.
func NewClient(apiEndpoint, authEndpoint string, refreshTimeout, chatTimeout time.Duration) *Client {
	return &Client{
		apiEndpoint:  apiEndpoint,
		authEndpoint: authEndpoint,
		authClient:   &http.Client{Timeout: refreshTimeout},
		chatClient:   &http.Client{Timeout: chatTimeout},
	}
}

// RefreshToken exchanges a refresh credential for a new access token.
// A non-2xx status is returned as *StatusError.
func (c *Client) RefreshToken(ctx context.Context, reqBody RefreshRequest) (*RefreshResponse, error) {
	reqBody.GrantType = "refresh_token"
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", refreshUserAgent)
	req.Header.Set("X-Amz-User-Agent", refreshAmzUserAgent)
	req.Header.Set("Amz-Sdk-Request", amzSdkRequest)
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.New().String())
	req.Header.Set("Accept", "*/*")

	resp, err := c.authClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out RefreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}
	return &out, nil
}

// SendMessage posts a translated conversation-state payload and returns the
// raw streaming response. The caller owns resp.Body; cancelling ctx aborts
// the upstream connection.
func (c *Client) SendMessage(ctx context.Context, accessToken string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", chatContentType)
	req.Header.Set("X-Amz-Target", chatTarget)
	req.Header.Set("User-Agent", chatUserAgent)
	req.Header.Set("X-Amz-User-Agent", chatAmzUserAgent)
	req.Header.Set("X-Amzn-Codewhisperer-Optout", codewhispererOptout)
	req.Header.Set("Amz-Sdk-Request", amzSdkRequest)
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.New().String())
	req.Header.Set("Accept", "*/*")

	resp, err := c.chatClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	return resp, nil
}
