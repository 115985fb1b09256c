package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeSequence       ErrorType = "SEQUENCE"
	ErrorTypeOutOfDate      ErrorType = "OUT_OF_DATE"
	ErrorTypeNotImplemented ErrorType = "NOT_IMPLEMENTED"
	ErrorTypeTransport      ErrorType = "TRANSPORT"
	ErrorTypeCommitCallback ErrorType = "COMMIT_CALLBACK"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeLocked         ErrorType = "LOCKED"
	ErrorTypeUnauthorized   ErrorType = "UNAUTHORIZED"
	ErrorTypeInternal       ErrorType = "INTERNAL"
)

// Sentinels for errors.Is matching on the error type alone.
var (
	ErrSequence       = &Error{Type: ErrorTypeSequence}
	ErrOutOfDate      = &Error{Type: ErrorTypeOutOfDate}
	ErrNotImplemented = &Error{Type: ErrorTypeNotImplemented}
	ErrTransport      = &Error{Type: ErrorTypeTransport}
	ErrCommitCallback = &Error{Type: ErrorTypeCommitCallback}
	ErrNotFound       = &Error{Type: ErrorTypeNotFound}
	ErrValidation     = &Error{Type: ErrorTypeValidation}
	ErrLocked         = &Error{Type: ErrorTypeLocked}
	ErrUnauthorized   = &Error{Type: ErrorTypeUnauthorized}
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same type, so callers can write
// errors.Is(err, errors.ErrOutOfDate).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func newError(t ErrorType, code int, format string, args ...any) *Error {
	return &Error{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

func Sequence(format string, args ...any) *Error {
	return newError(ErrorTypeSequence, http.StatusConflict, format, args...)
}

func OutOfDate(format string, args ...any) *Error {
	return newError(ErrorTypeOutOfDate, http.StatusConflict, format, args...)
}

func NotImplemented(format string, args ...any) *Error {
	return newError(ErrorTypeNotImplemented, http.StatusNotImplemented, format, args...)
}

func Transport(err error, format string, args ...any) *Error {
	e := newError(ErrorTypeTransport, http.StatusBadGateway, format, args...)
	e.Err = err
	return e
}

// CommitCallback reports a callback failure after the revision was written;
// details carries the commit that did land.
func CommitCallback(err error, details any) *Error {
	return &Error{
		Type:    ErrorTypeCommitCallback,
		Message: "commit callback failed",
		Code:    http.StatusInternalServerError,
		Details: details,
		Err:     err,
	}
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// Validation is ValidationError with a formatted message and no details.
func Validation(format string, args ...any) *Error {
	return newError(ErrorTypeValidation, http.StatusBadRequest, format, args...)
}

func Locked(format string, args ...any) *Error {
	return newError(ErrorTypeLocked, http.StatusLocked, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newError(ErrorTypeUnauthorized, http.StatusForbidden, format, args...)
}

func Internal(err error, message string) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
		Err:     err,
	}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// As is errors.As, re-exported so callers importing this package under the
// name "errors" keep access to it.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is errors.New.
func New(text string) error {
	return errors.New(text)
}
