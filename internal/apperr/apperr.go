// Package apperr carries the error taxonomy shared by the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the way callers should react to it.
type Kind string

const (
	KindInternal     Kind = "internal"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
)

// Error is a typed failure. Op names the operation, Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func NotFound(op, msg string) *Error   { return newErr(KindNotFound, op, msg, nil) }
func Conflict(op, msg string) *Error   { return newErr(KindConflict, op, msg, nil) }
func Forbidden(op, msg string) *Error  { return newErr(KindForbidden, op, msg, nil) }
func BadRequest(op, msg string) *Error { return newErr(KindBadRequest, op, msg, nil) }

func Unauthorized(op, msg string) *Error { return newErr(KindUnauthorized, op, msg, nil) }

// Wrap attaches a kind to err. The sentinel stays reachable through errors.Is.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return newErr(kind, op, err.Error(), err)
}

// Internal wraps an unexpected lower-level failure. Its message is never shown to clients.
func Internal(op string, err error) *Error {
	return newErr(KindInternal, op, "internal error", err)
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
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
