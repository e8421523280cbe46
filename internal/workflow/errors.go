package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine reports.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindForbidden         ErrorKind = "forbidden"
	KindCapabilityFailure ErrorKind = "capability_failure"
	KindCancelled         ErrorKind = "cancelled"
	KindNoMatchingBranch  ErrorKind = "no_matching_branch"
)

// Sentinel errors for programmatic error checking via errors.Is().
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrCapabilityFailure = errors.New("capability failure")
	ErrCancelled         = errors.New("cancelled")
	ErrNoMatchingBranch  = errors.New("no matching branch")
)

var sentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindNotFound:          ErrNotFound,
	KindConflict:          ErrConflict,
	KindForbidden:         ErrForbidden,
	KindCapabilityFailure: ErrCapabilityFailure,
	KindCancelled:         ErrCancelled,
	KindNoMatchingBranch:  ErrNoMatchingBranch,
}

// Error is a classified engine error. errors.Is matches the sentinel of its
// kind; errors.Unwrap yields the cause.
type Error struct {
	Kind     ErrorKind
	Msg      string
	NodeUUID string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.NodeUUID != "" {
		msg = fmt.Sprintf("%s [node: %s]", msg, e.NodeUUID)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind.
func Wrap(kind ErrorKind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return ""
}
