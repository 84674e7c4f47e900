// Package errors provides the structured error taxonomy used by the content
// cache. Every failure in the watch, compile and serve paths is scoped to a
// single document path or request and carries enough context to be logged
// and discarded without affecting the rest of the process.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeWatch    ErrorType = "watch"
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeHash     ErrorType = "hash"
	ErrorTypeResolve  ErrorType = "resolve"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeWatchFailed     = "ERR_WATCH_FAILED"
	ErrCodeRenderFailed    = "ERR_RENDER_FAILED"
	ErrCodeWriteFailed     = "ERR_WRITE_FAILED"
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeStatFailed      = "ERR_STAT_FAILED"
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodePathTraversal   = "ERR_PATH_TRAVERSAL"
	ErrCodeArtifactChanged = "ERR_ARTIFACT_CHANGED"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeInternalError   = "ERR_INTERNAL"
	ErrCodeUnsupportedHash = "ERR_UNSUPPORTED_HASH"
	ErrCodeOutsideRoot     = "ERR_OUTSIDE_ROOT"
	ErrCodePanic           = "ERR_PANIC"
)

// Error is a structured error type with context.
type Error struct {
	Type        ErrorType
	Code        string
	Message     string
	Path        string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path+":")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath attaches the document path the error is scoped to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// NewWatchError creates an error reported by the notification mechanism.
// Watch errors never stop the watcher.
func NewWatchError(path string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeWatch,
		Code:        ErrCodeWatchFailed,
		Message:     "watch failed",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewCompileError creates a render or shadow-write error.
func NewCompileError(code, path string, cause error) *Error {
	msg := "compile failed"
	if code == ErrCodeWriteFailed {
		msg = "writing compiled artifact failed"
	}

	return &Error{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     msg,
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewHashError creates a read failure during hashing.
func NewHashError(path string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeHash,
		Code:        ErrCodeReadFailed,
		Message:     "hashing source failed",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewResolveError creates a request-scoped error in the resolver.
func NewResolveError(code, path string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeResolve,
		Code:        code,
		Message:     "resolving request failed",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}

	return false
}

// IsType reports whether err is an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}

	return false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}

	return false
}

// IsCompileError checks if an error came from rendering or writing an artifact.
func IsCompileError(err error) bool {
	return IsType(err, ErrorTypeCompile)
}

// IsHashError checks if an error came from hashing a source file.
func IsHashError(err error) bool {
	return IsType(err, ErrorTypeHash)
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its type. Update failures are
// warnings: the previous entry stays authoritative.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch e.Type {
	case ErrorTypeCompile, ErrorTypeHash:
		h.logger.Warn(ctx, err, "Update failed, keeping previous state",
			"type", e.Type,
			"code", e.Code,
			"path", e.Path)
	case ErrorTypeWatch, ErrorTypeResolve:
		h.logger.Warn(ctx, err, "Recoverable error occurred",
			"type", e.Type,
			"code", e.Code,
			"path", e.Path)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", e.Type,
			"code", e.Code,
			"path", e.Path)
	}
}
