// Package errors provides error wrapping utilities and the error kinds shared by
// every layer of a block device stack.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies an error so callers can react without parsing messages.
type Kind int

const (
	// KindNotReady: an attribute was requested before its prerequisite state exists.
	KindNotReady Kind = iota + 1
	// KindAlreadyOpen: double open, or nothing open to close.
	KindAlreadyOpen
	// KindAlreadyClosed: close on something that is not open. Also matches KindAlreadyOpen.
	KindAlreadyClosed
	// KindWrongSize: size not on the resize granularity and rounding disallowed.
	KindWrongSize
	// KindInvalidArgument: malformed request.
	KindInvalidArgument
	// KindCommandFailed: an external command exited non-zero.
	KindCommandFailed
	// KindInvariant: a misunderstood on-disk format or tool behavior drift. Fatal.
	KindInvariant
	// KindUnsupported: the operation is not available for this object or platform.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "not ready"
	case KindAlreadyOpen:
		return "already open"
	case KindAlreadyClosed:
		return "already closed"
	case KindWrongSize:
		return "wrong size"
	case KindInvalidArgument:
		return "invalid argument"
	case KindCommandFailed:
		return "command failed"
	case KindInvariant:
		return "invariant violation"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotReady        = &Error{Kind: KindNotReady}
	ErrAlreadyOpen     = &Error{Kind: KindAlreadyOpen}
	ErrAlreadyClosed   = &Error{Kind: KindAlreadyClosed}
	ErrWrongSize       = &Error{Kind: KindWrongSize}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrCommandFailed   = &Error{Kind: KindCommandFailed}
	ErrInvariant       = &Error{Kind: KindInvariant}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
)

// Error is a classified error. Subject is usually a device path or a command line.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Subject != "" {
		b.WriteString(e.Subject)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind. A double close is reported as already-closed, which is
// also an already-open condition.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindAlreadyOpen && e.Kind == KindAlreadyClosed
}

// New creates a classified error.
func New(kind Kind, op, subject, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

// E classifies an existing error.
func E(kind Kind, op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// KindOf returns the kind of the outermost classified error in the chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err carries an invariant violation.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrInvariant)
}

// Is mirrors the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As mirrors the standard library so callers need a single errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
