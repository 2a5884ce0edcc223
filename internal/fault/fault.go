// Package fault defines the error kinds shared across the parley runtime.
// Errors carry a machine-readable Kind plus the operation that produced them,
// so callers can branch on failure class without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// Input kinds.
	NullArg      Kind = "null_arg"
	InvalidValue Kind = "invalid_value"
	OutOfRange   Kind = "out_of_range"
	TooLarge     Kind = "too_large"

	// Protocol kinds. HTTP sub-kinds map one status class each;
	// HTTPStatus covers any other non-2xx.
	HTTPBadRequest Kind = "http_bad_request"
	HTTPAuth       Kind = "http_auth"
	HTTPForbidden  Kind = "http_forbidden"
	HTTPNotFound   Kind = "http_not_found"
	HTTPRateLimit  Kind = "http_rate_limit"
	HTTPServer     Kind = "http_server"
	HTTPStatus     Kind = "http_status"
	Format         Kind = "format"
	Size           Kind = "size"
	QueueFull      Kind = "queue_full"

	// System kinds.
	Memory  Kind = "memory"
	File    Kind = "file"
	Process Kind = "process"
	Socket  Kind = "socket"
	IO      Kind = "io"

	// CI kinds.
	NoProvider   Kind = "no_provider"
	Disconnected Kind = "disconnected"
	CIInvalid    Kind = "ci_invalid"
	Timeout      Kind = "timeout"
	Confused     Kind = "confused"

	// Internal kinds.
	Corrupt        Kind = "corrupt"
	NotImplemented Kind = "not_implemented"
	Logic          Kind = "logic"
)

// Unknown is returned by KindOf when no *Error is in the chain.
const Unknown Kind = ""

// Error is a classified error with operation context.
type Error struct {
	Kind Kind   // failure class
	Op   string // operation that failed, e.g. "registry.AllocatePort"
	Msg  string // human-readable detail
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, string(e.Kind))
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// New creates a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error without losing the cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
