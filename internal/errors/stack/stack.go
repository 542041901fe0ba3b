// Package stack captures and formats call stacks for error reporting.
package stack

import (
	"fmt"
	"runtime"
	"strings"
)

// Stack is a captured call stack.
type Stack []uintptr

// New captures the current call stack, skipping skip frames on top of the
// caller of New itself.
func New(skip int) Stack {
	var pcs [32]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	return Stack(pcs[:n])
}

// String formats the stack as one "file:line" entry per line.
func (s Stack) String() string {
	frames := runtime.CallersFrames(s)
	var lines []string
	for {
		frame, more := frames.Next()
		lines = append(lines, fmt.Sprintf("\tat %s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}
