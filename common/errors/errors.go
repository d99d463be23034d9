package errors

import (
	pkgerrors "github.com/pkg/errors"
)

// ExitCodeError pairs an error with the process exit code it should produce.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

// Cause lets github.com/pkg/errors.Cause see through the exit code wrapper.
func (e *ExitCodeError) Cause() error {
	return e.error
}

// Unwrap supports the stdlib errors.Is/As chain.
func (e *ExitCodeError) Unwrap() error {
	return e.error
}

// ExitCodeOf returns the exit code carried anywhere in err's cause chain,
// or GenericFailureExitCode if none is present.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	orig := err
	for err != nil {
		if e, ok := err.(*ExitCodeError); ok {
			return e.code
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		next := c.Cause()
		if next == err {
			break
		}
		err = next
	}
	var e *ExitCodeError
	if pkgerrors.As(orig, &e) {
		return e.code
	}
	return GenericFailureExitCode
}
