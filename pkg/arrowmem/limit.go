// Package arrowmem provides the bridge's memory arenas: a budget-enforcing
// root allocator shared by all tasks and per-task allocation scopes that
// track outstanding bytes and release together.
package arrowmem

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrBudgetExceeded is the panic value (wrapped) raised when the root arena
// byte budget is exhausted. The bridge recovers it at its API boundary and
// surfaces it as a ResourceError.
var ErrBudgetExceeded = errors.New("arrowmem: root arena budget exceeded")

// LimitedAllocator wraps an Allocator with a byte budget. All task scopes
// share one LimitedAllocator, so the budget bounds the module's total Arrow
// memory regardless of how many tasks are in flight.
type LimitedAllocator struct {
	inner  memory.Allocator
	budget int64
	used   atomic.Int64
}

// NewLimitedAllocator creates a root arena with the given byte budget.
// A budget of 0 or less means unlimited.
func NewLimitedAllocator(inner memory.Allocator, budget int64) *LimitedAllocator {
	if inner == nil {
		inner = memory.DefaultAllocator
	}
	return &LimitedAllocator{inner: inner, budget: budget}
}

func (a *LimitedAllocator) Allocate(size int) []byte {
	a.reserve(int64(size))
	return a.inner.Allocate(size)
}

func (a *LimitedAllocator) Reallocate(size int, b []byte) []byte {
	a.reserve(int64(size) - int64(len(b)))
	return a.inner.Reallocate(size, b)
}

func (a *LimitedAllocator) Free(b []byte) {
	a.used.Add(-int64(len(b)))
	a.inner.Free(b)
}

// AllocatedBytes returns the bytes currently drawn from the budget.
func (a *LimitedAllocator) AllocatedBytes() int64 {
	return a.used.Load()
}

// Budget returns the configured byte budget (0 = unlimited).
func (a *LimitedAllocator) Budget() int64 {
	return a.budget
}

// reserve charges delta bytes against the budget, panicking like the arrow
// allocators do on allocation failure. The panic carries ErrBudgetExceeded
// for the bridge to recover on the allocating call path.
func (a *LimitedAllocator) reserve(delta int64) {
	used := a.used.Add(delta)
	if a.budget > 0 && used > a.budget {
		a.used.Add(-delta)
		panic(fmt.Errorf("%w: %d of %d bytes in use, requested %d",
			ErrBudgetExceeded, used-delta, a.budget, delta))
	}
}

var _ memory.Allocator = (*LimitedAllocator)(nil)
