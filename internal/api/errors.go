package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed taxonomy of API failures. Failures are
// classified exactly once, at the HTTP boundary; the rest of the
// program switches on the kind, never on message substrings.
type ErrorKind int

const (
	// KindUnauthenticated covers a missing credential (locally
	// short-circuited) and a server 401 (credential invalidated).
	KindUnauthenticated ErrorKind = iota
	// KindForbidden is a server 403; the credential is retained.
	KindForbidden
	// KindNotFound is a server 404, e.g. an unknown order.
	KindNotFound
	// KindValidation is a server 400, e.g. an empty cart at checkout.
	KindValidation
	// KindServerFault is any 5xx.
	KindServerFault
	// KindTransport covers network failures and timeouts.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindServerFault:
		return "server_fault"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

// Error is a classified API failure.
type Error struct {
	Kind    ErrorKind
	Status  int    // HTTP status, 0 for local or transport failures
	Message string // human-readable, shown inline in the UI
	cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("api: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("api: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether a retry of the same call is safe without
// an idempotency key. Only read-path failures qualify; mutations must
// be re-triggered by the user.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindServerFault
}

// KindOf extracts the error kind, defaulting to KindTransport for
// errors that did not come from the API boundary.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

// IsUnauthenticated reports whether err carries KindUnauthenticated.
func IsUnauthenticated(err error) bool {
	return KindOf(err) == KindUnauthenticated
}

func errUnauthenticatedLocal() *Error {
	return &Error{
		Kind:    KindUnauthenticated,
		Message: "please log in to continue",
	}
}

func classifyStatus(status int, message string) *Error {
	e := &Error{Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthenticated
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindServerFault
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
