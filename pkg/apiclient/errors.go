package apiclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed authenticated request.
type Kind int

const (
	// AuthFailed means no valid access token could be obtained; nothing was sent.
	AuthFailed Kind = iota + 1
	// TransportFailed means the request did not produce a response.
	TransportFailed
	// ServerError means the server answered with a non-2xx status other than 401 or 403.
	ServerError
	// Unauthorized means the server answered 401.
	Unauthorized
	// Forbidden means the server answered 403.
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case AuthFailed:
		return "authentication failed"
	case TransportFailed:
		return "transport failed"
	case ServerError:
		return "server error"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown request error"
	}
}

var (
	ErrAuthFailed      = errors.New(AuthFailed.String())
	ErrTransportFailed = errors.New(TransportFailed.String())
	ErrServerError     = errors.New(ServerError.String())
	ErrUnauthorized    = errors.New(Unauthorized.String())
	ErrForbidden       = errors.New(Forbidden.String())
)

// Error is a RequestError. Response is set whenever the server answered.
type Error struct {
	Kind     Kind
	Method   string
	URL      string
	Response *Response
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Kind)
	if e.Response != nil {
		msg += fmt.Sprintf(" (status %d)", e.Response.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.kindErr()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) kindErr() error {
	switch e.Kind {
	case AuthFailed:
		return ErrAuthFailed
	case TransportFailed:
		return ErrTransportFailed
	case Unauthorized:
		return ErrUnauthorized
	case Forbidden:
		return ErrForbidden
	default:
		return ErrServerError
	}
}

// StatusCode returns the HTTP status of the failed call, or 0 if the server
// never answered.
func (e *Error) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
