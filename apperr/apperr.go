// Package apperr is the client-facing error taxonomy shared by every service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindConflict         Kind = "conflict"
	KindExternal         Kind = "external_service_failure"
	KindSignatureInvalid Kind = "signature_invalid"
	KindValidation       Kind = "validation_failure"
)

// Error carries a Kind, a machine-readable reason and an optional cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func NotFound(what string) *Error           { return New(KindNotFound, what+"_not_found") }
func Forbidden(reason string) *Error        { return New(KindForbidden, reason) }
func Conflict(reason string) *Error         { return New(KindConflict, reason) }
func Validation(reason string) *Error       { return New(KindValidation, reason) }
func SignatureInvalid(reason string) *Error { return New(KindSignatureInvalid, reason) }

func External(reason string, err error) *Error {
	return Wrap(KindExternal, reason, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}
