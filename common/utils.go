package common

import "fmt"

// AlignedTo8 returns true if the integer is a multiple of 8.
func AlignedTo8(n int) bool {
	return n%8 == 0
}

// CeilDiv returns ceil(a / b) for non-negative a and positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Assert checks a condition and panics if it is false.
//
// Assertions guard invariants of the engine's own data structures (a handle that points outside its block, a
// reader used in the wrong state, a state machine transition that cannot happen). Conditions that a caller can
// trigger through configuration or input, and all I/O failures, are returned as errors instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
