package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating an *Error if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *Error {
	if err == nil {
		return nil
	}

	// Preserve path and context of an existing *Error
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Type:        errType,
			Code:        code,
			Message:     message,
			Path:        e.Path,
			Cause:       e,
			Context:     e.Context,
			Recoverable: e.Recoverable,
		}
	}

	return &Error{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType != ErrorTypeConfig && errType != ErrorTypeInternal,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *Error {
	e := Wrap(err, ErrorTypeIO, code, message)
	if e != nil {
		e.Recoverable = false
	}
	return e
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *Error {
	e := Wrap(err, ErrorTypeConfig, code, message)
	if e != nil {
		e.Recoverable = false
	}
	return e
}

// GetErrorContext extracts context information from an *Error
func GetErrorContext(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		context := make(map[string]interface{})
		for k, v := range e.Context {
			context[k] = v
		}
		if e.Path != "" {
			context["path"] = e.Path
		}
		context["type"] = string(e.Type)
		context["code"] = e.Code
		context["recoverable"] = e.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}
