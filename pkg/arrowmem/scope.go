package arrowmem

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Scope is the allocation scope backing one task's columnar buffers. It is a
// child of the root arena: allocations draw from the shared budget while the
// scope tracks its own net outstanding bytes, so a leaked buffer is
// attributable to the task that allocated it.
//
// Release is idempotent. Allocating through a released scope is a
// programming error and panics.
type Scope struct {
	mu          sync.Mutex
	parent      memory.Allocator
	outstanding int64
	released    bool
}

// NewScope creates a child scope of the given root arena.
func NewScope(parent memory.Allocator) *Scope {
	if parent == nil {
		parent = memory.DefaultAllocator
	}
	return &Scope{parent: parent}
}

// Allocate charges the scope only after the parent allocation succeeds, so a
// budget panic out of the parent leaves the outstanding count untouched.
func (s *Scope) Allocate(size int) []byte {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		panic("arrowmem: allocate on released scope")
	}
	s.mu.Unlock()
	buf := s.parent.Allocate(size)
	s.mu.Lock()
	s.outstanding += int64(len(buf))
	s.mu.Unlock()
	return buf
}

func (s *Scope) Reallocate(size int, b []byte) []byte {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		panic("arrowmem: reallocate on released scope")
	}
	s.mu.Unlock()
	old := int64(len(b))
	buf := s.parent.Reallocate(size, b)
	s.mu.Lock()
	s.outstanding += int64(len(buf)) - old
	s.mu.Unlock()
	return buf
}

func (s *Scope) Free(b []byte) {
	s.mu.Lock()
	s.outstanding -= int64(len(b))
	s.mu.Unlock()
	s.parent.Free(b)
}

// Charge records n bytes of buffers owned by the other side of the boundary
// against the scope. Imported batches live in native memory the host
// allocator never sees; the scope accounts for them by size so
// OutstandingBytes reflects every buffer the task holds.
func (s *Scope) Charge(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		panic("arrowmem: charge on released scope")
	}
	s.outstanding += n
}

// Credit removes bytes previously recorded with Charge.
func (s *Scope) Credit(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstanding -= n
}

// OutstandingBytes returns the bytes allocated through this scope and not
// yet freed.
func (s *Scope) OutstandingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Released reports whether the scope has been released.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release marks the scope released. All buffers it backs must already have
// been freed; if bytes remain outstanding an error is returned but the scope
// is still considered released, so teardown never loops on a leak.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.outstanding != 0 {
		return fmt.Errorf("arrowmem: scope released with %d bytes outstanding", s.outstanding)
	}
	return nil
}

var _ memory.Allocator = (*Scope)(nil)
