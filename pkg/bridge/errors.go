package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskClosed is returned when a task is used after teardown.
	ErrTaskClosed = errors.New("bridge: task closed")

	// ErrBatchReleased is returned when a handoff callback is invoked after
	// its batch was already exported or released.
	ErrBatchReleased = errors.New("bridge: batch already released")

	// ErrSourceExhausted is returned when Next is called on an export
	// iterator whose row source is exhausted.
	ErrSourceExhausted = errors.New("bridge: row source exhausted")
)

// InitializationError means the native runtime could not be prepared or the
// task definition was rejected. It surfaces before any row is produced.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("bridge: initialization: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// NativeFault is a fault the native engine reported asynchronously. It
// surfaces at the next row pull, after resources are released.
type NativeFault struct {
	Err error
}

func (e *NativeFault) Error() string {
	return fmt.Sprintf("bridge: native fault: %v", e.Err)
}

func (e *NativeFault) Unwrap() error { return e.Err }

// ContractViolation means a reverse call arrived out of order. It is a fatal
// internal-consistency failure and is never retried.
type ContractViolation struct {
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("bridge: contract violation: %s", e.Reason)
}

// ResourceError means native-side buffers could not be released or allocated
// during teardown. It is surfaced once; teardown is still considered
// complete so resource release is never retried in a loop.
type ResourceError struct {
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("bridge: resource: %v", e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
