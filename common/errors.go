package common

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

type ExecErrorCode int

const (
	// ResourceAllocationError indicates that the engine was given fewer cache pages than it declared as its
	// minimum, or that the block pool could not supply even the minimum hash table footprint.
	ResourceAllocationError ExecErrorCode = iota
	// InvalidJoinTypeError indicates a malformed join-type descriptor (no emitted row class, or an anti join
	// that would need to remove duplicates on the probe side).
	InvalidJoinTypeError
	// SchemaMismatchError indicates that key projections or tuple shapes of the inputs disagree.
	SchemaMismatchError
	// TupleTooWideError indicates that a single key (plus accumulators or its first payload row) cannot fit
	// into one hash table block, so overflow handling could never make progress.
	TupleTooWideError
	// PartitionDepthExceededError indicates that recursive partitioning reached the configured depth cap,
	// typically because a single key value carries more rows than fit in memory.
	PartitionDepthExceededError
	// AbortedError indicates that execution was cancelled through its context.
	AbortedError
	// BufferPoolFullError indicates that every frame of the spill buffer pool is pinned.
	BufferPoolFullError
	// InvalidConfigError indicates an invalid engine configuration value.
	InvalidConfigError
)

func (ec ExecErrorCode) String() string {
	switch ec {
	case ResourceAllocationError:
		return "ResourceAllocationError"
	case InvalidJoinTypeError:
		return "InvalidJoinTypeError"
	case SchemaMismatchError:
		return "SchemaMismatchError"
	case TupleTooWideError:
		return "TupleTooWideError"
	case PartitionDepthExceededError:
		return "PartitionDepthExceededError"
	case AbortedError:
		return "AbortedError"
	case BufferPoolFullError:
		return "BufferPoolFullError"
	case InvalidConfigError:
		return "InvalidConfigError"
	}
	return "unknown"
}

// ExecError is the error type returned by the execution engine for conditions that callers may want to
// distinguish. It carries an ExecErrorCode and a detailed message, and is always returned wrapped with a stack
// trace so that errors.As recovers it.
type ExecError struct {
	Code      ExecErrorCode
	ErrString string
}

func (e ExecError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// NewExecError builds an ExecError with a formatted message and attaches a stack trace.
func NewExecError(code ExecErrorCode, format string, args ...any) error {
	return errors.WithStackDepth(ExecError{Code: code, ErrString: fmt.Sprintf(format, args...)}, 1)
}

// ErrorCode extracts the ExecErrorCode of err, if err wraps an ExecError.
func ErrorCode(err error) (ExecErrorCode, bool) {
	var execErr ExecError
	if errors.As(err, &execErr) {
		return execErr.Code, true
	}
	return 0, false
}

// IsErrorCode reports whether err wraps an ExecError with the given code.
func IsErrorCode(err error, code ExecErrorCode) bool {
	c, ok := ErrorCode(err)
	return ok && c == code
}
