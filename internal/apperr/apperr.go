// Package apperr defines the error taxonomy shared by the data pipeline:
// every failure surfaced to the notification center is classified as one of
// a small set of kinds, each carrying a user-facing message and a retry hint.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindHTTP       Kind = "http"
	KindParsing    Kind = "parsing"
	KindTimeout    Kind = "timeout"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// Error is a classified pipeline error. Status is only set for KindHTTP.
type Error struct {
	Kind   Kind
	Status int
	Op     string // short description of the failed operation
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTP:
		return fmt.Sprintf("%s: http status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// HTTPStatus creates an http-kind error for a non-success status code.
func HTTPStatus(op string, status int) *Error {
	return &Error{Kind: KindHTTP, Status: status, Op: op}
}

// Validation creates a validation-kind error with a formatted message.
func Validation(op string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Classify wraps an arbitrary error into an *Error, inspecting well-known
// stdlib error types. An already-classified error is returned unchanged.
func Classify(op string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return New(KindTimeout, op, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return New(KindTimeout, op, err)
		}
		return New(KindNetwork, op, err)
	}
	return New(KindUnknown, op, err)
}

// Retryable reports whether retrying the failed operation could help.
// Client errors (404 and friends), validation, and parsing failures are
// final; connectivity problems and server-side errors are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return false
	}
}

// UserMessage returns a plain-language description suitable for display.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Could not reach the data service. Check your connection."
	case KindTimeout:
		return "The request took too long and was aborted."
	case KindParsing:
		return "The data service returned an unexpected response."
	case KindValidation:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "Invalid selection."
	case KindHTTP:
		switch {
		case e.Status == http.StatusNotFound:
			return "The requested data was not found."
		case e.Status == http.StatusTooManyRequests:
			return "The data service is rate limiting requests. Try again shortly."
		case e.Status >= 500:
			return "The data service reported a server error. Try again later."
		default:
			return fmt.Sprintf("The data service rejected the request (status %d).", e.Status)
		}
	default:
		return "Something went wrong while loading price data."
	}
}
