package flow

import (
	"errors"
)

// Kind classifies an authorization flow failure.
type Kind int

const (
	// StateMismatch means the callback carried a state other than the one sent.
	StateMismatch Kind = iota + 1
	// ProviderError means the provider answered with an OAuth error code.
	ProviderError
	// NoPendingFlow means the flow ID is unknown or was already consumed.
	NoPendingFlow
	// MalformedCallback means the callback URL could not be parsed or lacks a code.
	MalformedCallback
	// Timeout means the flow was not completed in time.
	Timeout
	// Cancelled means the flow was cancelled or replaced.
	Cancelled
	// FlowInProgress means a new flow was rejected because one is outstanding.
	FlowInProgress
)

func (k Kind) String() string {
	switch k {
	case StateMismatch:
		return "state mismatch"
	case ProviderError:
		return "provider error"
	case NoPendingFlow:
		return "no pending flow"
	case MalformedCallback:
		return "malformed callback"
	case Timeout:
		return "flow timed out"
	case Cancelled:
		return "flow cancelled"
	case FlowInProgress:
		return "flow in progress"
	default:
		return "unknown flow error"
	}
}

var (
	ErrStateMismatch     = errors.New(StateMismatch.String())
	ErrProviderError     = errors.New(ProviderError.String())
	ErrNoPendingFlow     = errors.New(NoPendingFlow.String())
	ErrMalformedCallback = errors.New(MalformedCallback.String())
	ErrTimeout           = errors.New(Timeout.String())
	ErrCancelled         = errors.New(Cancelled.String())
	ErrFlowInProgress    = errors.New(FlowInProgress.String())
)

// Error is an AuthFlowError. Code and Description are set for ProviderError.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	Reason      string
	Err         error
}

func (e *Error) Error() string {
	msg := "flow: " + e.Kind.String()
	if e.Code != "" {
		msg += ": " + e.Code
		if e.Description != "" {
			msg += " (" + e.Description + ")"
		}
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
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
	case StateMismatch:
		return ErrStateMismatch
	case ProviderError:
		return ErrProviderError
	case NoPendingFlow:
		return ErrNoPendingFlow
	case MalformedCallback:
		return ErrMalformedCallback
	case Timeout:
		return ErrTimeout
	case Cancelled:
		return ErrCancelled
	default:
		return ErrFlowInProgress
	}
}

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}
