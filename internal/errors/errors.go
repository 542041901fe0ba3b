// Package errors provides basic utilities to construct errors.
//
// To construct new errors or wrap other errors, use this package rather than
// the standard library (errors.New, fmt.Errorf). This package records stack
// traces and chained errors, and leaves nicely formatted logs when a worker
// or a staging step fails.
//
// To construct a new error, use New or Errorf.
//
//	errors.New("remote workspace not reachable")
//	errors.Errorf("host %s did not respond to probe", host)
//
// To construct an error by adding context to an existing error, use Wrap or
// Wrapf.
//
//	errors.Wrap(err, "failed to stage child script")
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/testplan-go/remotepool/internal/errors/stack"
)

// E is the error implementation used by this package.
type E struct {
	msg   string
	stk   stack.Stack
	cause error
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap implements the error Unwrap interface introduced in go1.13.
func (e *E) Unwrap() error {
	return e.cause
}

type unwrapper interface {
	unwrap() (msg string, stk stack.Stack, cause error)
}

func (e *E) unwrap() (msg string, stk stack.Stack, cause error) {
	return e.msg, e.stk, e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(unwrapper); ok {
			msg, stk, cause := e.unwrap()
			chain = append(chain, fmt.Sprintf("%s\n%v", msg, stk))
			err = cause
		} else {
			chain = append(chain, fmt.Sprintf("%+v", err))
			err = nil
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements the fmt.Formatter interface. Formatting an error chain
// with the "%+v" verb prints every wrapped message plus its stack trace.
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error with the given message, recording the call site.
func New(msg string) *E {
	return &E{msg, stack.New(1), nil}
}

// Errorf creates a new error with the given message, recording the call site.
func Errorf(format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates a new error wrapping cause, recording the call site.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) *E {
	return &E{msg, stack.New(1), cause}
}

// Wrapf creates a new error wrapping cause, recording the call site.
// If cause is nil, this is the same as Errorf.
func Wrapf(cause error, format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Is is a wrapper of the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a wrapper of the standard errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
