// Package protoerr classifies failures the Session Engine must turn
// into protocol behavior: reply-and-continue, close-the-connection, or
// abort-the-process, per spec.md §7's error taxonomy.
package protoerr

import (
	"errors"
	"fmt"

	"github.com/pocketrelay/pocketrelay/internal/protoids"
)

// Kind is one of the six error taxonomy buckets from spec.md §7. It
// decides what the Session Engine does with the error, not what the
// client sees.
type Kind int

const (
	// Protocol errors (a request body that fails to decode, e.g. an
	// unknown tag type) reply with ErrSystem on the offending message
	// id and keep the connection open. A frame the Packet Framer cannot
	// parse (malformed or oversize) ends the connection instead.
	Protocol Kind = iota
	// Transport errors (SSL record MAC failure, TCP reset) always end
	// the session.
	Transport
	// Authorization errors (bad credentials, expired token) reply with
	// ErrAuthRequired.
	Authorization
	// Resource errors (game not found, slot full, ticket unknown) reply
	// with a component-specific code supplied by the caller.
	Resource
	// Upstream errors (retriever timeout/unavailable) reply with
	// ErrSystem; the caller may retry once internally before giving up.
	Upstream
	// Fatal errors (listener-socket failure, store corruption) are
	// logged and the process aborts.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Transport:
		return "transport"
	case Authorization:
		return "authorization"
	case Resource:
		return "resource"
	case Upstream:
		return "upstream"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error, carrying the Blaze error code a
// Resource error should reply with (ignored for every other Kind,
// which has a fixed code).
type Error struct {
	Kind    Kind
	Code    protoids.ErrCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protoerr: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("protoerr: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, code protoids.ErrCode, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a taxonomy and reply code to an underlying error.
func Wrap(kind Kind, code protoids.ErrCode, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Resourcef builds a Resource-kind error with a formatted message.
func Resourcef(code protoids.ErrCode, format string, args ...any) *Error {
	return &Error{Kind: Resource, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AuthRequired builds the standard Authorization error for a missing or
// expired session.
func AuthRequired(message string) *Error {
	return &Error{Kind: Authorization, Code: protoids.ErrAuthRequired, Message: message}
}

// UpstreamUnavailable wraps a retriever failure as fail-soft Upstream
// error (spec.md §4.9, §7): the caller surfaces this as a normal login
// failure without closing the connection.
func UpstreamUnavailable(cause error) *Error {
	return &Error{Kind: Upstream, Code: protoids.ErrUpstreamUnavailable, Message: "upstream unavailable", Cause: cause}
}

// CodeFor maps any error to the Blaze error code the Session Engine
// should reply with. Non-taxonomy errors default to ErrSystem, the
// same as an unclassified Protocol failure.
func CodeFor(err error) protoids.ErrCode {
	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case Authorization:
			return protoids.ErrAuthRequired
		case Resource:
			return pe.Code
		case Upstream:
			return protoids.ErrUpstreamUnavailable
		default:
			return protoids.ErrSystem
		}
	}
	return protoids.ErrSystem
}

// IsTransport reports whether err is a Transport-kind failure, the
// only kind that must end the session rather than reply in-band.
func IsTransport(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == Transport
	}
	return false
}
