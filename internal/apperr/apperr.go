// Package apperr defines the tagged business error shared by the order,
// approval and audit domains. Every error carries a stable machine-readable
// code and a kind that maps onto an HTTP status class.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies a business error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindPolicy
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	case KindPolicy:
		return "POLICY"
	case KindForbidden:
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus returns the status code used when the error crosses the HTTP
// boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPolicy:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a business error. Two errors are considered equal by errors.Is
// when their codes match, so sentinels can be refined with With or Wrap
// without breaking matching.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates an error sentinel.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e with a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e that carries cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// ErrInternal is the fallback for failures that have no business meaning.
var ErrInternal = New(KindInternal, "INTERNAL", "internal error")

// From extracts the business error from err. Errors without one are
// reported as ErrInternal wrapping the original.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}

// CodeOf returns the business code of err, or "INTERNAL".
func CodeOf(err error) string {
	return From(err).Code
}

// KindOf returns the kind of err, or KindInternal.
func KindOf(err error) Kind {
	return From(err).Kind
}
