// Package errs defines the closed set of error kinds the core surfaces
// to collaborators. Components never panic across boundaries; every
// failure is an *Error with a kind, a human-readable message, and a
// recoverable flag.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a core error.
type Kind string

const (
	// KindValidation means input failed a schema, range, or pattern check.
	KindValidation Kind = "ValidationError"
	// KindNotFound means the entity does not exist.
	KindNotFound Kind = "NotFound"
	// KindConflict means a duplicate ID, concurrent modification, or ID collision.
	KindConflict Kind = "Conflict"
	// KindCycleDetected means a dependency would introduce a cycle.
	KindCycleDetected Kind = "CycleDetected"
	// KindScaffoldingEpic means an emitted epic ID matched a forbidden pattern.
	KindScaffoldingEpic Kind = "ScaffoldingEpicRejected"
	// KindLockTimeout means a lock acquire waited past its deadline.
	KindLockTimeout Kind = "LockTimeout"
	// KindDeadlock means a lock acquire would complete a wait-for cycle.
	KindDeadlock Kind = "Deadlock"
	// KindPathViolation means a filesystem path escaped its configured root.
	KindPathViolation Kind = "PathViolation"
	// KindOracleUnavailable means the LLM layer could not be reached.
	KindOracleUnavailable Kind = "OracleUnavailable"
	// KindOracleMalformed means the LLM response could not be parsed.
	KindOracleMalformed Kind = "OracleMalformed"
	// KindTransportFailure means agent dispatch or heartbeat was lost.
	KindTransportFailure Kind = "TransportFailure"
	// KindCorrupt means on-disk bytes failed schema validation.
	KindCorrupt Kind = "Corrupt"
	// KindCancelled means the operation was cooperatively cancelled.
	KindCancelled Kind = "Cancelled"
	// KindInternal means an invariant was violated. Fatal for the operation.
	KindInternal Kind = "Internal"
)

// Error is the structured error type crossing component boundaries.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind
	// Message is human-readable; collaborators render it verbatim.
	Message string
	// Recoverable is true when the caller can reasonably retry or amend.
	Recoverable bool
	// Details carries optional structured context.
	Details map[string]any
	// cause is the wrapped underlying error, if any.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors of the same kind, so errors.Is(err, errs.New(kind, ""))
// style sentinels work across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: defaultRecoverable(kind),
	}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.cause = cause
	return e
}

// WithDetail attaches a structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether err carries a recoverable flag. Unknown
// errors are treated as unrecoverable.
func Recoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// Retryable reports whether an operation that failed with err may be
// retried. Validation-class failures and cancellation never retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransportFailure, KindOracleUnavailable, KindLockTimeout:
		return true
	default:
		return false
	}
}

// defaultRecoverable maps each kind to its default recoverable flag.
func defaultRecoverable(kind Kind) bool {
	switch kind {
	case KindValidation, KindNotFound, KindConflict, KindCycleDetected,
		KindScaffoldingEpic, KindLockTimeout, KindDeadlock,
		KindOracleUnavailable, KindTransportFailure:
		return true
	default:
		return false
	}
}
