package ir

import (
	"errors"
	"fmt"
)

// Error is the domain error raised by graph, store and query operations.
//
// Callers test for a category with errors.Is against the sentinels below
// (errors.Is(err, ir.ErrNotExistent)) or with the Is* helpers.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Entity names the affected object (uuid, label, link), if any.
	Entity string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes domain errors.
type ErrorCode string

const (
	// CodeNotExistent indicates a lookup matched nothing.
	CodeNotExistent ErrorCode = "NOT_EXISTENT"

	// CodeMultipleObjects indicates a lookup expected one match and found several.
	CodeMultipleObjects ErrorCode = "MULTIPLE_OBJECTS"

	// CodeModificationNotAllowed indicates a write to frozen state.
	CodeModificationNotAllowed ErrorCode = "MODIFICATION_NOT_ALLOWED"

	// CodeValidation indicates invalid input: bad links, labels, queries, ports.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeStoringNotAllowed indicates an abstract or unknown subtype.
	CodeStoringNotAllowed ErrorCode = "STORING_NOT_ALLOWED"

	// CodeIntegrity indicates a uniqueness or referential constraint violation.
	CodeIntegrity ErrorCode = "INTEGRITY"
)

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrNotExistent            = &Error{Code: CodeNotExistent}
	ErrMultipleObjects        = &Error{Code: CodeMultipleObjects}
	ErrModificationNotAllowed = &Error{Code: CodeModificationNotAllowed}
	ErrValidation             = &Error{Code: CodeValidation}
	ErrStoringNotAllowed      = &Error{Code: CodeStoringNotAllowed}
	ErrIntegrity              = &Error{Code: CodeIntegrity}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s)", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotExistent builds a CodeNotExistent error for entity.
func NotExistent(kind, entity string) *Error {
	return &Error{Code: CodeNotExistent, Message: kind + " not found", Entity: entity}
}

// WithEntity returns a copy of the error naming entity.
func (e *Error) WithEntity(entity string) *Error {
	cp := *e
	cp.Entity = entity
	return &cp
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// CodeOf returns the domain code carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotExistent reports whether err is a not-existent error.
func IsNotExistent(err error) bool { return CodeOf(err) == CodeNotExistent }

// IsMultipleObjects reports whether err is a multiple-objects error.
func IsMultipleObjects(err error) bool { return CodeOf(err) == CodeMultipleObjects }

// IsModificationNotAllowed reports whether err is a frozen-state write error.
func IsModificationNotAllowed(err error) bool { return CodeOf(err) == CodeModificationNotAllowed }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsStoringNotAllowed reports whether err is a storing-not-allowed error.
func IsStoringNotAllowed(err error) bool { return CodeOf(err) == CodeStoringNotAllowed }

// IsIntegrity reports whether err is an integrity error.
func IsIntegrity(err error) bool { return CodeOf(err) == CodeIntegrity }
