package auth

import (
	"errors"
	"fmt"
)

// ErrCredentialUnavailable means no usable access token could be obtained
// even after a renewal attempt. Fatal to the in-flight request only.
var ErrCredentialUnavailable = errors.New("no valid access token available")

// ErrIncompleteAccount means the account is missing one of the three
// secrets required for renewal. Bulk operations skip such accounts.
var ErrIncompleteAccount = errors.New("account is missing refresh credentials")

// Renewal failure reasons.
const (
	ReasonTransport  = "transport"
	ReasonHTTPStatus = "http-status"
	ReasonMalformed  = "malformed-response"
)

// RefreshError reports a failed renewal. The outcome has already been
// recorded against the account's bookkeeping when this error is returned.
type RefreshError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (%s): %v", e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
