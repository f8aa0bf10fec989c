//go:build debug

// Package check provides cheap invariant assertions for debug builds.
package check

import "fmt"

// Assert panics with msg if cond is false. Compiled out of release builds.
func Assert(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
