// Package errors defines the structured error type used across hotswap,
// helpers to wrap foreign errors into it, and normalization of engine
// failures before they are stored or shipped to clients.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeBuildFailed       = "ERR_BUILD_FAILED"
	ErrCodeEngineStart       = "ERR_ENGINE_START"
	ErrCodeMalformedMessage  = "ERR_MALFORMED_MESSAGE"
	ErrCodeInvalidate        = "ERR_INVALIDATE"
	ErrCodeNotBound          = "ERR_NOT_BOUND"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeCacheIO           = "ERR_CACHE_IO"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeValidationFailed  = "ERR_VALIDATION_FAILED"
	ErrCodeBundleUnavailable = "ERR_BUNDLE_UNAVAILABLE"
	ErrCodeInvalidAccept     = "ERR_INVALID_ACCEPT"
	ErrCodeReservedEvent     = "ERR_RESERVED_EVENT"
	ErrCodeRateLimited       = "ERR_RATE_LIMITED"
)

// HotswapError is a structured error type with context.
type HotswapError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	// Stack is the engine-provided stack trace, kept verbatim.
	Stack       string
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *HotswapError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *HotswapError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *HotswapError) Is(target error) bool {
	var t *HotswapError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *HotswapError) WithContext(key string, value interface{}) *HotswapError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *HotswapError) WithComponent(component string) *HotswapError {
	e.Component = component

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *HotswapError {
	return &HotswapError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *HotswapError {
	return &HotswapError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewProtocolError creates a wire protocol error.
func NewProtocolError(code, message string, cause error) *HotswapError {
	return &HotswapError{
		Type:        ErrorTypeProtocol,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *HotswapError {
	return &HotswapError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *HotswapError {
	return &HotswapError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HasErrorType reports whether any HotswapError in the chain has errType.
func HasErrorType(err error, errType ErrorType) bool {
	var he *HotswapError
	if errors.As(err, &he) {
		return he.Type == errType
	}

	return false
}

// HasErrorCode reports whether the outermost HotswapError in the chain has code.
func HasErrorCode(err error, code string) bool {
	var he *HotswapError
	if errors.As(err, &he) {
		return he.Code == code
	}

	return false
}

// StackOf returns the engine stack carried by err, if any.
func StackOf(err error) string {
	var he *HotswapError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.As(e, &he) && he.Stack != "" {
			return he.Stack
		}
	}

	return ""
}
