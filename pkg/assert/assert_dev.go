//go:build !release

// Package assert checks internal invariants. Dev builds panic on a violation, release builds compile
// the checks away.
package assert

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
