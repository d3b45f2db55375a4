package token

import (
	"errors"
	"fmt"
)

// Kind classifies a token failure.
type Kind int

const (
	// ExchangeFailed means the authorization code could not be exchanged.
	ExchangeFailed Kind = iota + 1
	// RefreshFailed means a refresh attempt failed; held tokens may still be usable later.
	RefreshFailed
	// ReauthRequired means no usable grant is held and the user must log in again.
	ReauthRequired
)

func (k Kind) String() string {
	switch k {
	case ExchangeFailed:
		return "exchange failed"
	case RefreshFailed:
		return "refresh failed"
	case ReauthRequired:
		return "reauthentication required"
	default:
		return "unknown token error"
	}
}

var (
	// ErrExchangeFailed matches any *Error of kind ExchangeFailed.
	ErrExchangeFailed = errors.New(ExchangeFailed.String())
	// ErrRefreshFailed matches any *Error of kind RefreshFailed.
	ErrRefreshFailed = errors.New(RefreshFailed.String())
	// ErrReauthRequired matches any *Error of kind ReauthRequired.
	ErrReauthRequired = errors.New(ReauthRequired.String())
	// ErrEmptyAccessToken is returned when a token response carries no access token.
	ErrEmptyAccessToken = errors.New("token response has no access_token")
)

// Error is a TokenError.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "token: " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.kindErr()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) kindErr() error {
	switch e.Kind {
	case ExchangeFailed:
		return ErrExchangeFailed
	case RefreshFailed:
		return ErrRefreshFailed
	default:
		return ErrReauthRequired
	}
}

// ServerError is an OAuth 2.0 error response from a token endpoint (RFC 6749 section 5.2).
type ServerError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
	}
	if e.Description != "" {
		return fmt.Sprintf("token endpoint returned %s (status %d): %s", e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("token endpoint returned %s (status %d)", e.Code, e.StatusCode)
}

// Unrecoverable reports whether the grant itself was rejected, as opposed to a
// transient server failure.
func (e *ServerError) Unrecoverable() bool {
	switch e.Code {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	return e.StatusCode == 400 || e.StatusCode == 401
}
