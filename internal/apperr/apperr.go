package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error category shared by the coordinator, the
// ledger and the HTTP layer.
type Code string

const (
	CodeForbidden        Code = "forbidden"
	CodeInvalidState     Code = "invalid_state"
	CodeInvalidSlots     Code = "invalid_slots"
	CodeInvalidProvider  Code = "invalid_provider"
	CodeInvalidInput     Code = "invalid_input"
	CodeLateCancellation Code = "late_cancellation"
	CodeExternal         Code = "external_collaborator_error"
	CodeAlreadyProcessed Code = "already_processed"
	CodeNotFound         Code = "not_found"
)

// Error is the domain error type. Two errors match under errors.Is when
// their codes are equal, so the sentinels below can be used as targets.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrForbidden        = New(CodeForbidden, "forbidden")
	ErrInvalidState     = New(CodeInvalidState, "invalid state")
	ErrInvalidSlots     = New(CodeInvalidSlots, "no valid slot proposed")
	ErrInvalidProvider  = New(CodeInvalidProvider, "provider has no price configured")
	ErrInvalidInput     = New(CodeInvalidInput, "invalid input")
	ErrLateCancellation = New(CodeLateCancellation, "too late to cancel")
	ErrExternal         = New(CodeExternal, "external collaborator failed")
	ErrAlreadyProcessed = New(CodeAlreadyProcessed, "already processed")
	ErrNotFound         = New(CodeNotFound, "not found")
)

// CodeOf returns the code of the first *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeLateCancellation:
		return http.StatusConflict
	case CodeInvalidSlots, CodeInvalidProvider, CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case CodeExternal:
		return http.StatusBadGateway
	case CodeAlreadyProcessed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
