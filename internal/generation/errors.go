package generation

import (
	"context"
	"errors"
)

// Class is the retry category of a failed generation call.
type Class int

const (
	ClassFatal Class = iota
	ClassValidation
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error tags an underlying failure with its class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String() + " generation error"
	}
	return e.Class.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation marks input the service refused to process (e.g. rejected content).
func Validation(err error) error { return &Error{Class: ClassValidation, Err: err} }

// Transient marks rate limiting, server-side errors and timeouts.
func Transient(err error) error { return &Error{Class: ClassTransient, Err: err} }

func Fatal(err error) error { return &Error{Class: ClassFatal, Err: err} }

// ClassOf returns the class carried by err. Untagged errors are fatal, except
// deadline expiry which is treated like any other transient timeout.
func ClassOf(err error) Class {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassFatal
}
