package linerpc

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeUnhandled is sent once before a session is closed because of a
	// failure that was not a protocol error.
	CodeUnhandled = -32000
)

var (
	// ErrDuplicatePrefix is returned when mounting a router under a parent
	// that already has a child with the same prefix.
	ErrDuplicatePrefix = errors.New("linerpc: duplicate router prefix")
	// ErrDuplicateMethod is returned when a method name is registered twice
	// in the same namespace.
	ErrDuplicateMethod = errors.New("linerpc: duplicate method")
	// ErrSessionClosed is returned by writes after the session has ended.
	ErrSessionClosed = errors.New("linerpc: session closed")

	errBadID = errors.New("id must be an integer or a string")
)

// Error is a protocol error. Returned from a handler (possibly wrapped) it
// is sent to the peer and the session continues.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

// FieldError describes one failed field of a structured parameter.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// NewError creates a new protocol error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new protocol error wrapping an existing error.
func WrapError(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ErrParse returns a parse error.
func ErrParse(cause error) *Error {
	return WrapError(CodeParseError, "parse error", cause)
}

// ErrInvalidRequest returns an invalid request error.
func ErrInvalidRequest(reason string) *Error {
	return NewError(CodeInvalidRequest, fmt.Sprintf("invalid request: %s", reason))
}

// ErrMethodNotFound returns a method not found error.
func ErrMethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, fmt.Sprintf("method not found: %s", method))
}

// ErrInvalidParams returns an invalid params error. Field failures, if any,
// become the error data.
func ErrInvalidParams(reason string, fields ...FieldError) *Error {
	e := NewError(CodeInvalidParams, fmt.Sprintf("invalid params: %s", reason))
	if len(fields) > 0 {
		e.Data = fields
	}
	return e
}

// ErrInternal returns an internal error. Unlike an unhandled failure it does
// not end the session.
func ErrInternal(cause error) *Error {
	return WrapError(CodeInternalError, "internal error", cause)
}

func errUnhandled() *Error {
	return NewError(CodeUnhandled, "unhandled server error")
}

// asError converts any error into a protocol error, mapping foreign errors
// to internal errors.
func asError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return ErrInternal(err)
}
