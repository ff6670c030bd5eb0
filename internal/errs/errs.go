// Package errs defines the error taxonomy shared by every oracle component.
//
// Request-path failures (validation, embedding, storage, generation) are
// surfaced to callers; Logging failures are only ever observed locally.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindEmbedding  Kind = "embedding_error"
	KindStorage    Kind = "storage_error"
	KindGeneration Kind = "generation_error"
	KindLogging    Kind = "logging_failure"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal_error"
)

// Error is the unified error contract across layers.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "retrieval.Embed"
	Message string // safe to show to API callers
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error of the given kind.
func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// Validationf reports a malformed or incomplete request.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Embedding wraps an upstream embedding failure.
func Embedding(op string, err error) error {
	return &Error{Kind: KindEmbedding, Op: op, Message: "embedding failed", Err: err}
}

// Storage wraps a vector or relational store failure.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Message: "store unavailable", Err: err}
}

// Generation wraps a generative-model failure after retries are exhausted.
func Generation(op string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Message: "could not generate suggestions, please retry later", Err: err}
}

// Logging wraps a best-effort side-effect failure.
func Logging(op string, err error) error {
	return &Error{Kind: KindLogging, Op: op, Message: "interaction logging failed", Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: what + " not found"}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// SafeMessage returns a message suitable for API responses.
func SafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to the status code served at the HTTP boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindEmbedding, KindGeneration:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
