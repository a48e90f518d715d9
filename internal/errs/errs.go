// Package errs provides the structured error type used across mdhrecon.
//
// Every fatal condition raised by the unpack, store and codec layers is an
// *Error carrying the object that failed, the operation it was performing,
// a human readable message and a numeric code. The wrapped cause (if any)
// is reachable through errors.Is / errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Exit codes attached to fatal errors.
const (
	CodeGeneric  = -1
	CodeIO       = 1
	CodeConfig   = 2
	CodeStream   = 3
	CodeGeometry = 4
)

// Sentinel causes. Wrap them with New so callers can test with errors.Is.
var (
	ErrUnexpectedEnd  = errors.New("unexpected end of stream")
	ErrInvalidSamples = errors.New("invalid samples in scan")
	ErrGeometry       = errors.New("invalid geometry")
	ErrConfig         = errors.New("invalid configuration")
	ErrNoVolume       = errors.New("no extracted volume")
)

// Error is a tagged failure with enough context to print a diagnostic.
type Error struct {
	Object string
	Op     string
	Msg    string
	Code   int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s: %s", e.Object, e.Op, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error with the given context and cause.
func New(object, op, msg string, code int, cause error) error {
	return &Error{
		Object: object,
		Op:     op,
		Msg:    msg,
		Code:   code,
		Err:    cause,
	}
}

// Code extracts the code of the first *Error in err's chain. It returns
// CodeGeneric when err carries no code and 0 when err is nil.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeGeneric
}
