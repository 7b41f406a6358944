// Package mygramerr declares the error taxonomy shared across mygramdb
// (spec §7): every fallible core operation returns an error carrying one
// of these kinds, which handlers render onto the wire as `ERROR <message>`.
package mygramerr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification, not a type hierarchy.
type Kind string

const (
	InvalidArgument  Kind = "invalid_argument"
	NotFound         Kind = "not_found"
	AlreadyExists    Kind = "already_exists"
	PermissionDenied Kind = "permission_denied"
	FailedPrecondition Kind = "failed_precondition"
	Unavailable      Kind = "unavailable"
	DataLoss         Kind = "data_loss"
	Cancelled        Kind = "cancelled"
	Internal         Kind = "internal"
)

// Error is the concrete error type carrying a Kind and message.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// unrecognized errors (an invariant violation per spec §7).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err (or any error it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
