// Package apperr defines the error taxonomy shared by the authorization core,
// the identity lifecycle manager and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	KindFatal Kind = iota
	KindAuthenticationRequired
	KindInvalidToken
	KindPermissionDenied
	KindNotFound
	KindIdentityConflict
	KindUpstreamUnavailable
	KindPartialSync
	KindInvalidInput
	KindConflict
)

var kindNames = map[Kind]string{
	KindFatal:                  "fatal",
	KindAuthenticationRequired: "authentication_required",
	KindInvalidToken:           "invalid_token",
	KindPermissionDenied:       "permission_denied",
	KindNotFound:               "not_found",
	KindIdentityConflict:       "identity_conflict",
	KindUpstreamUnavailable:    "upstream_unavailable",
	KindPartialSync:            "partial_sync_failure",
	KindInvalidInput:           "invalid_input",
	KindConflict:               "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is comparisons. Every *Error matches the sentinel of
// its kind.
var (
	ErrFatal                  = &Error{Kind: KindFatal, Message: "unexpected failure"}
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired, Message: "authentication required"}
	ErrInvalidToken           = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrIdentityConflict       = &Error{Kind: KindIdentityConflict, Message: "identity already exists"}
	ErrUpstreamUnavailable    = &Error{Kind: KindUpstreamUnavailable, Message: "upstream unavailable"}
	ErrPartialSync            = &Error{Kind: KindPartialSync, Message: "provider sync incomplete"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflicting state"}
)

// Error is a classified error. Op names the operation that failed, Err keeps
// the underlying cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which makes the package sentinels
// usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf classifies err with an explanatory message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindFatal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
