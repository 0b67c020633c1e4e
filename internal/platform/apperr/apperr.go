// Package apperr defines the error kinds shared by the scheduling core and the
// calendar sync engine, and maps them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindLockedResource    Kind = "locked_resource"
	KindConcurrency       Kind = "concurrency"
	KindCredentialMissing Kind = "credential_missing"
	KindExternalService   Kind = "external_service"
	KindPersistence       Kind = "persistence"
)

// Error is a structured error with a stable kind and a human readable message.
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

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether a caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConcurrency, KindExternalService, KindPersistence:
		return true
	}
	return false
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func LockedResource(format string, args ...interface{}) *Error {
	return newf(KindLockedResource, format, args...)
}

func Concurrency(format string, args ...interface{}) *Error {
	return newf(KindConcurrency, format, args...)
}

func CredentialMissing(format string, args ...interface{}) *Error {
	return newf(KindCredentialMissing, format, args...)
}

// ExternalService wraps a failed remote calendar call.
func ExternalService(err error, format string, args ...interface{}) *Error {
	e := newf(KindExternalService, format, args...)
	e.Err = err
	return e
}

// Persistence wraps a storage failure. Errors that already carry a kind are
// returned unchanged so a NotFound from a repository is not masked.
func Persistence(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	e := newf(KindPersistence, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindConcurrency:
		return http.StatusConflict
	case KindLockedResource:
		return http.StatusLocked
	case KindCredentialMissing:
		return http.StatusPreconditionFailed
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape returned to HTTP callers.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// HTTPError converts err into an *echo.HTTPError carrying a Body. Errors
// without a kind become a generic 500 so storage details do not leak.
func HTTPError(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Kind:    KindPersistence,
			Message: "internal error",
		})
	}
	msg := ae.Message
	if ae.Kind == KindPersistence {
		msg = "storage failure"
	}
	return echo.NewHTTPError(HTTPStatus(ae.Kind), Body{Kind: ae.Kind, Message: msg})
}
