package errorbank

import (
	"errors"
	"fmt"
)

// Kind enumerates supported application error categories.
type Kind string

const (
	KindBadRequest Kind = "bad_request"
	KindDataSource Kind = "data_source"
	KindSink       Kind = "sink"
	KindRowParse   Kind = "row_parse"
	KindInternal   Kind = "internal"
)

// Exit codes follow sysexits.h so shell callers can tell failures apart.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 64
	ExitNoInput    = 66
	ExitCantCreate = 73
)

// AppError captures rich error context shared across pipeline stages.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option mutates an AppError during construction.
type Option func(*AppError)

// WithCause attaches an underlying error.
func WithCause(err error) Option {
	return func(appErr *AppError) {
		appErr.cause = err
	}
}

// WithDetail adds a single named detail value.
func WithDetail(key string, value any) Option {
	return func(appErr *AppError) {
		if appErr.details == nil {
			appErr.details = make(map[string]any)
		}
		appErr.details[key] = value
	}
}

// WithDetails merges multiple detail values.
func WithDetails(details map[string]any) Option {
	return func(appErr *AppError) {
		if len(details) == 0 {
			return
		}
		if appErr.details == nil {
			appErr.details = make(map[string]any)
		}
		for k, v := range details {
			appErr.details[k] = v
		}
	}
}

// New constructs a new AppError with the supplied kind and message.
func New(kind Kind, message string, opts ...Option) *AppError {
	if message == "" {
		message = string(kind)
	}
	appErr := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(appErr)
	}
	return appErr
}

// Error satisfies the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the error category.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Message returns the human-readable message.
func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns optional metadata about the error.
func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// Fatal reports whether the error must abort the run. Row parse errors are
// recovered by skipping the offending row.
func (e *AppError) Fatal() bool {
	return e != nil && e.kind != KindRowParse
}

// ExitCode resolves the process exit status for the error kind.
func (e *AppError) ExitCode() int {
	if e == nil {
		return ExitOK
	}
	switch e.kind {
	case KindBadRequest:
		return ExitUsage
	case KindDataSource:
		return ExitNoInput
	case KindSink:
		return ExitCantCreate
	default:
		return ExitFailure
	}
}

// BadRequest constructs an invalid flag or configuration error.
func BadRequest(message string, opts ...Option) *AppError {
	return New(KindBadRequest, message, opts...)
}

// DataSource constructs a fatal input error (missing or unreadable file).
func DataSource(message string, opts ...Option) *AppError {
	return New(KindDataSource, message, opts...)
}

// Sink constructs a fatal output error.
func Sink(message string, opts ...Option) *AppError {
	return New(KindSink, message, opts...)
}

// RowParse constructs a recoverable row-level error.
func RowParse(message string, opts ...Option) *AppError {
	return New(KindRowParse, message, opts...)
}

// Internal constructs a generic failure.
func Internal(message string, opts ...Option) *AppError {
	return New(KindInternal, message, opts...)
}

// From returns an AppError for any error input, wrapping unexpected values.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", WithCause(err))
}

// Is reports whether err carries an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.kind == kind
}

// ExitCode maps any error onto a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return From(err).ExitCode()
}
