package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at the request boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindProtocolSyntax
	KindValidation
	KindNotFound
	KindConfiguration
	KindMalformedIdentifier
	KindBackendUnavailable
	KindNotImplemented
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolSyntax:
		return "ProtocolSyntaxError"
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindMalformedIdentifier:
		return "MalformedIdentifierError"
	case KindBackendUnavailable:
		return "BackendUnavailableError"
	case KindNotImplemented:
		return "NotImplementedError"
	default:
		return "InternalError"
	}
}

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrProtocolSyntax      = &Error{Kind: KindProtocolSyntax}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrMalformedIdentifier = &Error{Kind: KindMalformedIdentifier}
	ErrBackendUnavailable  = &Error{Kind: KindBackendUnavailable}
	ErrNotImplemented      = &Error{Kind: KindNotImplemented}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ProtocolSyntax(format string, args ...interface{}) *Error {
	return newError(KindProtocolSyntax, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func Configuration(format string, args ...interface{}) *Error {
	return newError(KindConfiguration, format, args...)
}

func MalformedIdentifier(format string, args ...interface{}) *Error {
	return newError(KindMalformedIdentifier, format, args...)
}

func NotImplemented(format string, args ...interface{}) *Error {
	return newError(KindNotImplemented, format, args...)
}

// BackendUnavailable wraps cause as a BackendUnavailableError.
func BackendUnavailable(cause error, format string, args ...interface{}) *Error {
	e := newError(KindBackendUnavailable, format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
