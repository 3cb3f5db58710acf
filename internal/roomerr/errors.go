// Package roomerr defines the typed error kinds propagated by the room
// runtime and its collaborators.
package roomerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds a client-facing rejection can carry.
type Kind string

const (
	InvalidMessage        Kind = "InvalidMessage"
	AuthRequired          Kind = "AuthRequired"
	AuthInvalid           Kind = "AuthInvalid"
	NameTaken             Kind = "NameTaken"
	NotConnected          Kind = "NotConnected"
	RateLimited           Kind = "RateLimited"
	Cheating              Kind = "Cheating"
	RepositoryUnavailable Kind = "RepositoryUnavailable"
	TransactionConflict   Kind = "TransactionConflict"
	InvalidState          Kind = "InvalidState"
	NotFound              Kind = "NotFound"
)

// Error wraps a Kind with a human-readable message and optional cause.
type Error struct {
	Kind    Kind
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

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
