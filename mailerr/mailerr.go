// Package mailerr defines the core's flat error-kind taxonomy (§7): a
// single enum, not a deep per-module error hierarchy, with context
// attached as a wrapped string the way the teacher wraps sqlite
// errors with fmt.Errorf("...: %w", err).
package mailerr

import (
	"errors"
	"fmt"
)

// Kind is one of the core's distinct error kinds.
type Kind int

const (
	// Storage errors: surfaced upward, never recovered locally.
	DataCorruption Kind = iota
	DeserializeError
	NotFound
	InternalError

	// Invalid input: whole-call failure, abort and return.
	InvalidArguments
	RequestTooLarge
	StateMismatch

	// Per-item set errors: collected into notCreated/notUpdated/notDestroyed.
	InvalidProperties
	Forbidden
	ItemNotFound
	WillDestroy
	BlobNotFound
	MailboxHasChild
	MailboxHasEmail
	AnchorNotFound
	CannotCalculateChanges

	// Auth.
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case DataCorruption:
		return "DataCorruption"
	case DeserializeError:
		return "DeserializeError"
	case NotFound:
		return "NotFound"
	case InternalError:
		return "InternalError"
	case InvalidArguments:
		return "InvalidArguments"
	case RequestTooLarge:
		return "RequestTooLarge"
	case StateMismatch:
		return "StateMismatch"
	case InvalidProperties:
		return "InvalidProperties"
	case Forbidden:
		return "Forbidden"
	case ItemNotFound:
		return "NotFound"
	case WillDestroy:
		return "WillDestroy"
	case BlobNotFound:
		return "BlobNotFound"
	case MailboxHasChild:
		return "MailboxHasChild"
	case MailboxHasEmail:
		return "MailboxHasEmail"
	case AnchorNotFound:
		return "AnchorNotFound"
	case CannotCalculateChanges:
		return "CannotCalculateChanges"
	case Unauthorized:
		return "Unauthorized"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a core error carrying a Kind plus, for InvalidProperties,
// the offending property and reason.
type Error struct {
	Kind     Kind
	Property string // set for InvalidProperties
	Reason   string // human-readable detail
	Err      error  // wrapped cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Property != "":
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Property, e.Reason)
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a bare Error of kind with a reason string.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap attaches kind and context to err.
func Wrap(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Reason: context, Err: err}
}

// InvalidProperty builds an InvalidProperties set error for property.
func InvalidProperty(property, reason string) *Error {
	return &Error{Kind: InvalidProperties, Property: property, Reason: reason}
}

// Is reports whether err (or something it wraps) is a *Error of kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
