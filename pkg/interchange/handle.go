// Package interchange moves columnar batches across the host/native boundary
// through the Arrow C-data convention: a schema descriptor and an array
// descriptor, each identified by a memory address. Handles are typed wrappers
// over those addresses carrying an explicit released flag, so use-after-release
// is a checkable error instead of undefined behavior.
//
// Ownership rule: every import takes ownership of its handle; every export
// hands ownership to the receiver. A descriptor is never reachable from both
// sides after a handoff.
package interchange

import (
	"errors"
	"sync/atomic"
)

// ErrHandleReleased is returned when a handle is used after ownership was
// transferred or the handle was released.
var ErrHandleReleased = errors.New("interchange: handle already released")

type handleState struct {
	addr    uintptr
	release func()
	spent   atomic.Bool
}

// take claims the handle exactly once, returning its address. The caller
// assumes ownership of the underlying descriptor.
func (h *handleState) take() (uintptr, error) {
	if h == nil {
		return 0, errors.New("interchange: nil handle")
	}
	if !h.spent.CompareAndSwap(false, true) {
		return 0, ErrHandleReleased
	}
	return h.addr, nil
}

// drop releases the underlying descriptor without importing it, for handles
// the receiver refuses (for example a batch arriving after teardown).
func (h *handleState) drop() error {
	if h == nil {
		return errors.New("interchange: nil handle")
	}
	if !h.spent.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}
	if h.release != nil {
		h.release()
	}
	return nil
}

// SchemaHandle identifies one schema descriptor crossing the boundary.
type SchemaHandle struct {
	h *handleState
}

// NewSchemaHandle wraps a schema descriptor address. release, if non-nil, is
// invoked when the handle is dropped unimported.
func NewSchemaHandle(addr uintptr, release func()) SchemaHandle {
	return SchemaHandle{h: &handleState{addr: addr, release: release}}
}

// Addr returns the descriptor address without transferring ownership.
func (s SchemaHandle) Addr() (uintptr, error) {
	if s.h == nil {
		return 0, errors.New("interchange: nil handle")
	}
	if s.h.spent.Load() {
		return 0, ErrHandleReleased
	}
	return s.h.addr, nil
}

// Released reports whether ownership has already been transferred or dropped.
func (s SchemaHandle) Released() bool {
	return s.h == nil || s.h.spent.Load()
}

// Drop releases the descriptor without importing it.
func (s SchemaHandle) Drop() error { return s.h.drop() }

func (s SchemaHandle) take() (uintptr, error) { return s.h.take() }

// ArrayHandle identifies one array (batch) descriptor crossing the boundary.
type ArrayHandle struct {
	h *handleState
}

// NewArrayHandle wraps an array descriptor address. release, if non-nil, is
// invoked when the handle is dropped unimported.
func NewArrayHandle(addr uintptr, release func()) ArrayHandle {
	return ArrayHandle{h: &handleState{addr: addr, release: release}}
}

// Addr returns the descriptor address without transferring ownership.
func (a ArrayHandle) Addr() (uintptr, error) {
	if a.h == nil {
		return 0, errors.New("interchange: nil handle")
	}
	if a.h.spent.Load() {
		return 0, ErrHandleReleased
	}
	return a.h.addr, nil
}

// Released reports whether ownership has already been transferred or dropped.
func (a ArrayHandle) Released() bool {
	return a.h == nil || a.h.spent.Load()
}

// Drop releases the descriptor without importing it.
func (a ArrayHandle) Drop() error { return a.h.drop() }

func (a ArrayHandle) take() (uintptr, error) { return a.h.take() }
