package services

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies engine failures. Callers branch on the kind, never on text.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindAlreadyUsed        Kind = "already_used"
	KindAlreadyProcessed   Kind = "already_processed"
	KindExpired            Kind = "expired"
	KindPreconditionFailed Kind = "precondition_failed"
	KindInvalidArgument    Kind = "invalid_argument"
	KindCapExceeded        Kind = "cap_exceeded"
	KindChainFailure       Kind = "chain_failure"
	KindInvalidProof       Kind = "invalid_proof"
	KindUnavailable        Kind = "unavailable"
	KindInternal           Kind = "internal"
)

// Error is the typed error returned by every engine operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, ErrExpired) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Retryable reports whether the caller may safely retry the same call.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrAlreadyUsed        = &Error{Kind: KindAlreadyUsed}
	ErrAlreadyProcessed   = &Error{Kind: KindAlreadyProcessed}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrCapExceeded        = &Error{Kind: KindCapExceeded}
	ErrChainFailure       = &Error{Kind: KindChainFailure}
	ErrInvalidProof       = &Error{Kind: KindInvalidProof}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrInternal           = &Error{Kind: KindInternal}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// internalError wraps unexpected failures; context deadlines become Unavailable.
func internalError(err error, format string, args ...any) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrapError(KindUnavailable, err, format, args...)
	}
	return wrapError(KindInternal, err, format, args...)
}

// KindOf extracts the kind from err; unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindInternal
}
