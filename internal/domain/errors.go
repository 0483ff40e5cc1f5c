package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at the operation boundary.
type ErrorKind string

const (
	KindBadRequest   ErrorKind = "bad_request"
	KindUnauthorized ErrorKind = "unauthorized"
	KindValidation   ErrorKind = "validation"
	KindAccessDenied ErrorKind = "access_denied"
	KindNotFound     ErrorKind = "not_found"
	KindExecution    ErrorKind = "execution"
)

// Error is a classified error carrying an optional payload for the caller.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	Err     error
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

// NewError creates a classified error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind with a caller-facing message.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation returns a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...))
}

// AccessDenied returns a KindAccessDenied error.
func AccessDenied(format string, args ...interface{}) *Error {
	return NewError(KindAccessDenied, fmt.Sprintf(format, args...))
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return NewError(KindNotFound, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or KindExecution for unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindExecution
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// ErrSessionNotFound is returned for absent, expired or foreign sessions.
var ErrSessionNotFound = NotFound("session not found")

// ErrQuotaExceeded is returned when an operation would exceed the tenant quota.
var ErrQuotaExceeded = AccessDenied("quota exceeded")
