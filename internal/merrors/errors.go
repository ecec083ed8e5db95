// Package merrors defines memoria's typed error kinds, matching the five
// error classes of the error-handling design: input, not-found, transient,
// partial, fatal.
package merrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry/propagation decisions.
type Kind string

const (
	KindInput     Kind = "input"
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient"
	KindPartial   Kind = "partial"
	KindFatal     Kind = "fatal"
)

// Code is the external error code surfaced in the error envelope.
type Code string

const (
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeResourceNotFound Code = "RESOURCE_NOT_FOUND"
	CodeSystemError      Code = "SYSTEM_ERROR"
)

// Error is memoria's typed error. It wraps an optional cause and is
// comparable via errors.Is/As by Kind.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, merrors.ErrTransient) style sentinel matching by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel kind markers usable with errors.Is.
var (
	ErrInput     = &Error{Kind: KindInput}
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrTransient = &Error{Kind: KindTransient}
	ErrPartial   = &Error{Kind: KindPartial}
	ErrFatal     = &Error{Kind: KindFatal}
)

func Input(msg string, cause error) *Error {
	return &Error{Kind: KindInput, Code: CodeInvalidParameter, Message: msg, Cause: cause}
}

func NotFound(msg string, cause error) *Error {
	return &Error{Kind: KindNotFound, Code: CodeResourceNotFound, Message: msg, Cause: cause}
}

func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Code: CodeSystemError, Message: msg, Cause: cause}
}

func Partial(msg string, cause error) *Error {
	return &Error{Kind: KindPartial, Code: CodeSystemError, Message: msg, Cause: cause}
}

func Fatal(msg string, cause error) *Error {
	return &Error{Kind: KindFatal, Code: CodeSystemError, Message: msg, Cause: cause}
}

// CodeOf maps any error to an external error code, defaulting to SYSTEM_ERROR.
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeSystemError
}

// IsTransient reports whether err is (or wraps) a transient-class error.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
