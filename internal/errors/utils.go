package errors

import (
	"errors"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Wrap wraps an error with additional context, creating a HotswapError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *HotswapError {
	if err == nil {
		return nil
	}

	var he *HotswapError
	if errors.As(err, &he) {
		return &HotswapError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       he,
			Stack:       he.Stack,
			Context:     he.Context,
			Component:   he.Component,
			Recoverable: he.Recoverable,
		}
	}

	return &HotswapError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeBuild || errType == ErrorTypeProtocol,
	}
}

// WrapBuild wraps an error as a build error with component context
func WrapBuild(err error, code, message, component string) *HotswapError {
	he := Wrap(err, ErrorTypeBuild, code, message)
	if he != nil {
		he.Component = component
	}
	return he
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *HotswapError {
	he := Wrap(err, ErrorTypeIO, code, message)
	if he != nil {
		he.Recoverable = false
	}
	return he
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *HotswapError {
	he := Wrap(err, ErrorTypeConfig, code, message)
	if he != nil {
		he.Recoverable = false
	}
	return he
}

// StackError is implemented by engine errors that carry their own stack trace.
type StackError interface {
	error
	StackTrace() string
}

// Normalize turns an engine failure into a build error whose message has
// terminal color codes removed. The original stack, when the engine provides
// one, is preserved untouched.
func Normalize(err error) *HotswapError {
	if err == nil {
		return nil
	}

	if he, ok := err.(*HotswapError); ok && he.Type == ErrorTypeBuild && he.Message == StripColors(he.Message) {
		return he
	}

	stack := StackOf(err)
	var se StackError
	if stack == "" && errors.As(err, &se) {
		stack = se.StackTrace()
	}

	return &HotswapError{
		Type:        ErrorTypeBuild,
		Code:        ErrCodeBuildFailed,
		Message:     StripColors(err.Error()),
		Stack:       stack,
		Recoverable: true,
	}
}

// StripColors removes ANSI escape sequences and trailing whitespace.
func StripColors(s string) string {
	return strings.TrimRight(ansi.Strip(s), " \t\r\n")
}
