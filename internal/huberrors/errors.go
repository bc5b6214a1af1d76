// Package huberrors defines the error kinds services return and handlers map to HTTP
// statuses. Match with errors.Is against the Err* sentinels; the message is safe to
// show to the caller.
package huberrors

import "errors"

// Kind classifies an Error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindForbidden
	KindConflict
	KindLimitExceeded
)

var kindText = map[Kind]string{
	KindNotFound:      "not found",
	KindValidation:    "validation error",
	KindForbidden:     "forbidden",
	KindConflict:      "conflict",
	KindLimitExceeded: "limit exceeded",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}

	return "unknown"
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrLimitExceeded = &Error{Kind: KindLimitExceeded}
)

// Error is a classified, caller-facing error. Subject names the resource or field involved.
type Error struct {
	Kind    Kind
	Subject string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Subject == "":
		return e.Kind.String()
	case e.Kind == KindForbidden:
		return "access to " + e.Subject + " is forbidden"
	case e.Kind == KindValidation:
		return "validation failed for field: " + e.Subject
	default:
		return e.Subject + " " + e.Kind.String()
	}
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// NewNotFoundError reports a missing resource. An empty message renders "<resource> not found".
func NewNotFoundError(resource, message string) *Error {
	return &Error{Kind: KindNotFound, Subject: resource, Message: message}
}

func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Subject: field, Message: message}
}

// NewForbiddenError reports access to another user's resource.
func NewForbiddenError(resource string) *Error {
	return &Error{Kind: KindForbidden, Subject: resource}
}

// NewConflictError reports a state clash, such as an illegal file status transition.
func NewConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NewLimitExceededError reports a rejected operation over a configured limit (e.g. upload size).
func NewLimitExceededError(message string) *Error {
	return &Error{Kind: KindLimitExceeded, Message: message}
}
