package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIssuer is returned when the issuer identifier is empty or not a URL.
	ErrInvalidIssuer = errors.New("invalid issuer")
	// ErrUnreachable is returned when the metadata document cannot be fetched.
	ErrUnreachable = errors.New("discovery document unreachable")
	// ErrStatus is returned when the metadata endpoint answers with a non-2xx status.
	ErrStatus = errors.New("discovery document returned non-success status")
	// ErrMalformed is returned when the metadata document is not valid JSON.
	ErrMalformed = errors.New("discovery document malformed")
	// ErrMissingEndpoint is returned when a required endpoint is absent.
	ErrMissingEndpoint = errors.New("discovery document missing required endpoint")
)

// Error is a DiscoveryError: the issuer could not be resolved into a usable
// ProviderConfiguration.
type Error struct {
	Issuer     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("discovery %s: %v (status %d)", e.Issuer, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("discovery %s: %v", e.Issuer, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
