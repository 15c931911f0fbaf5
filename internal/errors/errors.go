// Package errors provides centralized error definitions and error handling utilities
// for the jnlpcache codebase. It defines the error kinds surfaced by the cache and
// fetch core, typed errors carrying context, and classification helpers.
//
// # Error Kinds
//
// Every failure surfaced by the core belongs to one of these kinds:
//   - LockError (ErrLockUnavailable): a lock file cannot be created or locked
//   - FormatError (ErrFormat): a diff index or persisted record is malformed
//   - MissingEntryError (ErrMissingEntry): a move directive names an absent entry
//   - IOError (ErrIO): a generic read/write failure on an underlying stream
//   - RaceError (ErrAllCandidatesFailed): every fetch candidate failed
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewLockError("open lock file", cause).WithPath(path)
//	err := errors.NewFormatError("bad version tag").WithSource("META-INF/INDEX.JD").WithLine(1)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrMissingEntry) { ... }
//
//	var raceErr *errors.RaceError
//	if errors.As(err, &raceErr) { last := raceErr.Last() }
//
// # Error Classification
//
// Errors carry a Severity and a retryable flag. Lock and I/O failures are
// retryable by default; format and missing-entry failures are not, since
// retrying against the same bytes cannot succeed.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrLockUnavailable indicates that a lock file could not be created or locked.
	ErrLockUnavailable = New("lock unavailable")
	// ErrFormat indicates malformed persisted data or a malformed diff index.
	ErrFormat = New("format error")
	// ErrMissingEntry indicates that an archive entry referenced by a directive is absent.
	ErrMissingEntry = New("missing entry")
	// ErrIO indicates a generic read or write failure.
	ErrIO = New("i/o failure")
	// ErrAllCandidatesFailed indicates that every candidate of a race failed.
	ErrAllCandidatesFailed = New("all candidates failed")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotCached indicates that a resource has no usable cache entry.
	ErrNotCached = New("resource not cached")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CacheError is the base interface for all typed errors of this module.
type CacheError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// LockError
// -----------------------------------------------------------------------------

// LockError reports that a shared file lock could not be created or acquired.
//
// Example:
//
//	err := errors.NewLockError("flock", syscallErr).WithPath("/cache/recently_used.lock")
type LockError struct {
	baseError
	Path string
}

// NewLockError creates a new LockError.
func NewLockError(message string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
	}
}

// WithPath adds the lock file path to the error context.
func (e *LockError) WithPath(path string) *LockError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("lock error", parts)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if target == ErrLockUnavailable {
		return true
	}
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// FormatError
// -----------------------------------------------------------------------------

// FormatError reports malformed input: a diff index with a bad version tag or
// directive, or a persisted record that cannot be decoded.
//
// Example:
//
//	err := errors.NewFormatError("unknown directive \"copy\"").WithSource("META-INF/INDEX.JD").WithLine(3)
type FormatError struct {
	baseError
	Source string
	Line   int
}

// NewFormatError creates a new FormatError.
func NewFormatError(message string) *FormatError {
	return &FormatError{
		baseError: baseError{
			message:  message,
			severity: SeverityError,
		},
	}
}

// WithSource names the file or archive entry that failed to parse.
func (e *FormatError) WithSource(source string) *FormatError {
	e.Source = source
	return e
}

// WithLine records the 1-based line number of the offending input.
func (e *FormatError) WithLine(line int) *FormatError {
	e.Line = line
	return e
}

// WithCause sets the underlying cause.
func (e *FormatError) WithCause(cause error) *FormatError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *FormatError) Error() string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("source=%s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line=%d", e.Line))
	}
	return e.format("format error", parts)
}

// Is checks if this error matches the target.
func (e *FormatError) Is(target error) bool {
	if target == ErrFormat {
		return true
	}
	if _, ok := target.(*FormatError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// MissingEntryError
// -----------------------------------------------------------------------------

// MissingEntryError reports an archive entry that a directive requires but
// that is absent from the archive it was looked up in.
type MissingEntryError struct {
	baseError
	Entry string
}

// NewMissingEntryError creates a new MissingEntryError for the named entry.
func NewMissingEntryError(entry string) *MissingEntryError {
	return &MissingEntryError{
		baseError: baseError{
			message:  fmt.Sprintf("entry %q not found in prior archive", entry),
			severity: SeverityError,
		},
		Entry: entry,
	}
}

// Error returns the formatted error message.
func (e *MissingEntryError) Error() string {
	return e.format("missing entry", nil)
}

// Is checks if this error matches the target.
func (e *MissingEntryError) Is(target error) bool {
	if target == ErrMissingEntry {
		return true
	}
	if _, ok := target.(*MissingEntryError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// IOError
// -----------------------------------------------------------------------------

// IOError reports a read or write failure on a stream or file.
//
// Example:
//
//	err := errors.NewIOError("write entry", cause).WithPath("lib/app.jar")
type IOError struct {
	baseError
	Op   string
	Path string
}

// NewIOError creates a new IOError for the named operation.
func NewIOError(op string, cause error) *IOError {
	return &IOError{
		baseError: baseError{
			message:   op,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		Op: op,
	}
}

// WithPath adds the file path to the error context.
func (e *IOError) WithPath(path string) *IOError {
	e.Path = path
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *IOError) WithRetryable(r bool) *IOError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *IOError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("i/o error", parts)
}

// Is checks if this error matches the target.
func (e *IOError) Is(target error) bool {
	if target == ErrIO {
		return true
	}
	if _, ok := target.(*IOError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// RaceError
// -----------------------------------------------------------------------------

// RaceError aggregates the failures of every candidate of a race. Errs is
// ordered by the time each candidate failed, so the last element is the
// failure that terminated the race.
type RaceError struct {
	baseError
	Errs []error
}

// NewRaceError creates a RaceError from the candidate failures in the order
// they were observed.
func NewRaceError(errs []error) *RaceError {
	return &RaceError{
		baseError: baseError{
			message:   fmt.Sprintf("%d candidate(s) failed", len(errs)),
			cause:     errors.Join(errs...),
			severity:  SeverityError,
			retryable: true,
		},
		Errs: errs,
	}
}

// Last returns the failure observed last, or nil if there were none.
func (e *RaceError) Last() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e.Errs[len(e.Errs)-1]
}

// Error returns the formatted error message.
func (e *RaceError) Error() string {
	if last := e.Last(); last != nil {
		return fmt.Sprintf("all candidates failed: %s: last: %v", e.message, last)
	}
	return fmt.Sprintf("all candidates failed: %s", e.message)
}

// Is checks if this error matches the target.
func (e *RaceError) Is(target error) bool {
	if target == ErrAllCandidatesFailed {
		return true
	}
	if _, ok := target.(*RaceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry, for example with a different candidate set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cacheErr CacheError
	if As(err, &cacheErr) {
		return cacheErr.IsRetryable()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CacheError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var cacheErr CacheError
	if As(err, &cacheErr) {
		return cacheErr.Severity()
	}

	return SeverityError
}

// Kind returns a short name for the error kind, suitable for log attributes.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrAllCandidatesFailed):
		return "all_candidates_failed"
	case Is(err, ErrLockUnavailable):
		return "lock_unavailable"
	case Is(err, ErrMissingEntry):
		return "missing_entry"
	case Is(err, ErrFormat):
		return "format"
	case Is(err, ErrIO):
		return "io"
	case Is(err, ErrCanceled):
		return "canceled"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the CacheError interface.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
