// Package apperr defines the structured error taxonomy returned across the
// broker boundary as {kind, message} pairs.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidToken        Kind = "invalid_token"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindInvalidRequest      Kind = "invalid_request"
	KindFatal               Kind = "fatal"
)

// HTTPStatus maps a kind to the response status used by the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidToken, KindInvalidRequest:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request later.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindProviderUnavailable
}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the structured error from err. Unclassified errors are fatal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindFatal, Message: "internal error", Cause: err}
}

// KindOf returns the kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
