// Package errors provides the error-handling conventions used across hawser:
// a small set of sentinel categories, wrapping helpers built on the %w verb,
// and a multi-error for combining the results of fan-out operations.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel categories. Callers classify with errors.Is against these.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("operation timed out")
	ErrNotSupported = errors.New("not supported")
	ErrCanceled     = errors.New("operation canceled")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new error with a formatted message.
func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Wrap adds context to an error, preserving the chain for errors.Is/As.
// Returns nil when err is nil.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: %w", format, err)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree matching target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func formatError(base error, format string, args ...interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: %w", format, base)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}

// NotFoundf returns an error in the ErrNotFound category.
func NotFoundf(format string, args ...interface{}) error {
	return formatError(ErrNotFound, format, args...)
}

// InvalidInputf returns an error in the ErrInvalidInput category. Connector
// construction uses this for rejected option combinations.
func InvalidInputf(format string, args ...interface{}) error {
	return formatError(ErrInvalidInput, format, args...)
}

// Internalf returns an error in the ErrInternal category.
func Internalf(format string, args ...interface{}) error {
	return formatError(ErrInternal, format, args...)
}

// Unavailablef returns an error in the ErrUnavailable category.
func Unavailablef(format string, args ...interface{}) error {
	return formatError(ErrUnavailable, format, args...)
}

// Timeoutf returns an error in the ErrTimeout category.
func Timeoutf(format string, args ...interface{}) error {
	return formatError(ErrTimeout, format, args...)
}

// NotSupportedf returns an error in the ErrNotSupported category, used for
// platform-gated features such as named pipes.
func NotSupportedf(format string, args ...interface{}) error {
	return formatError(ErrNotSupported, format, args...)
}

// Canceledf returns an error in the ErrCanceled category.
func Canceledf(format string, args ...interface{}) error {
	return formatError(ErrCanceled, format, args...)
}

// Multiple combines errors from a fan-out into one. Nil entries are dropped;
// nil is returned when nothing remains.
func Multiple(errs ...error) error {
	valid := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			valid = append(valid, err)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	default:
		return &multiError{errors: valid}
	}
}

type multiError struct {
	errors []error
}

func (me *multiError) Error() string {
	messages := make([]string, len(me.errors))
	for i, err := range me.errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

// Unwrap exposes the set for errors.Is/As traversal.
func (me *multiError) Unwrap() []error {
	return me.errors
}

// Errors returns all combined errors.
func (me *multiError) Errors() []error {
	return me.errors
}
