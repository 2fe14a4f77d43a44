package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vexdata/ember/pkg/arrowmem"
	"github.com/vexdata/ember/pkg/interchange"
	"github.com/vexdata/ember/pkg/metrics"
)

// Handoff performs the zero-copy export of one built batch into the
// consumer's descriptor locations and releases the batch's backing
// allocation. It must be invoked at most once; the batch is valid for
// export only until the invocation completes.
type Handoff func(schemaAddr, arrayAddr uintptr) error

// ExportIterator is the source direction of the bridge: it presents a
// host-side row sequence as a pull sequence of columnar batches for a
// native consumer. One RecordBuilder is reused across batches, so total
// allocation churn stays bounded over a task's lifetime. All batch buffers
// come out of the iterator's own allocation scope, released on Close.
type ExportIterator struct {
	src      RowSource
	schema   *arrow.Schema
	exporter interchange.Exporter
	maxRows  int
	scope    *arrowmem.Scope

	mu        sync.Mutex
	builder   *array.RecordBuilder
	pending   arrow.Record
	lookahead Row
	hasAhead  bool
	exhausted bool
	closed    bool
	failure   error

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewExportIterator builds batches of up to cfg.MaxBatchRows rows from src,
// in the exact order rows are pulled. Teardown is registered on ctx so any
// held batch is released even if the consumer never polls again.
func NewExportIterator(ctx context.Context, src RowSource, schema *arrow.Schema,
	exp interchange.Exporter, alloc memory.Allocator, cfg Config) *ExportIterator {

	cfg = cfg.withDefaults()
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	e := &ExportIterator{
		src:      src,
		schema:   schema,
		exporter: exp,
		maxRows:  cfg.MaxBatchRows,
		scope:    arrowmem.NewScope(alloc),
		done:     make(chan struct{}),
	}
	e.builder = array.NewRecordBuilder(e.scope, schema)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.done:
			}
		}()
	}
	return e
}

// Scope exposes the iterator's allocation scope, for harnesses asserting
// zero outstanding bytes after teardown.
func (e *ExportIterator) Scope() *arrowmem.Scope {
	return e.scope
}

// HasNext reports whether the row sequence has at least one more row. On
// observing exhaustion it releases any still-held allocation eagerly, since
// the sequence will not be polled again.
func (e *ExportIterator) HasNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasNextLocked()
}

func (e *ExportIterator) hasNextLocked() bool {
	if e.closed || e.exhausted || e.failure != nil {
		return false
	}
	if e.hasAhead {
		return true
	}
	if e.src.Next() {
		e.lookahead = e.src.Row()
		e.hasAhead = true
		return true
	}
	e.exhausted = true
	e.releaseHeldLocked()
	return false
}

// Next builds one columnar batch by pulling rows until the source is
// exhausted or the batch size cap is reached, and returns the handoff
// callback for it. A previous batch whose handoff was never invoked is
// released when the new batch is requested.
func (e *ExportIterator) Next() (Handoff, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrTaskClosed
	}
	if e.failure != nil {
		return nil, e.failure
	}
	if e.pending != nil {
		e.pending.Release()
		e.pending = nil
	}
	if !e.hasNextLocked() {
		if err := e.src.Err(); err != nil {
			return nil, err
		}
		return nil, ErrSourceExhausted
	}

	rec, n, err := e.buildLocked()
	if err != nil {
		e.failLocked(err)
		return nil, err
	}
	e.pending = rec

	return func(schemaAddr, arrayAddr uintptr) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.pending != rec {
			return ErrBatchReleased
		}
		err := e.exporter.ExportBatch(rec, schemaAddr, arrayAddr)
		rec.Release()
		e.pending = nil
		if err != nil {
			return fmt.Errorf("bridge: export batch: %w", err)
		}
		metrics.BatchesExported.Inc()
		metrics.RowsExported.Add(float64(n))
		return nil
	}, nil
}

// buildLocked fills one batch from the source. A root-arena budget overrun
// panics out of the allocator mid-append; it is recovered here and returned
// as a ResourceError so the overrun surfaces like any other pull failure.
func (e *ExportIterator) buildLocked() (rec arrow.Record, rows int, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr, ok := r.(error)
		if !ok || !errors.Is(perr, arrowmem.ErrBudgetExceeded) {
			panic(r)
		}
		rec, rows, err = nil, 0, &ResourceError{Err: perr}
	}()

	for rows < e.maxRows {
		if !e.hasAhead {
			if !e.src.Next() {
				break
			}
			e.lookahead = e.src.Row()
		}
		e.hasAhead = false
		if err := appendRow(e.builder, e.schema, e.lookahead); err != nil {
			return nil, 0, err
		}
		e.lookahead = nil
		rows++
	}
	if err := e.src.Err(); err != nil {
		return nil, 0, err
	}
	return e.builder.NewRecord(), rows, nil
}

// failLocked records a permanent failure. The builder may hold a partially
// appended row at this point, so it is released rather than reused.
func (e *ExportIterator) failLocked(err error) {
	e.failure = err
	if e.pending != nil {
		e.pending.Release()
		e.pending = nil
	}
	if e.builder != nil {
		e.builder.Release()
		e.builder = nil
	}
}

// Close releases any batch currently held, the reused builder, and the
// allocation scope. It is idempotent and registered to run on host-task
// completion and failure.
func (e *ExportIterator) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.releaseHeldLocked()
		e.mu.Unlock()
		e.closeErr = e.src.Close()
		if err := e.scope.Release(); err != nil && e.closeErr == nil {
			e.closeErr = &ResourceError{Err: err}
		}
		close(e.done)
	})
	return e.closeErr
}

// releaseHeldLocked frees the pending batch and the builder's accumulated
// buffers. Callers hold e.mu.
func (e *ExportIterator) releaseHeldLocked() {
	if e.pending != nil {
		e.pending.Release()
		e.pending = nil
	}
	if e.builder != nil && (e.closed || e.exhausted) {
		e.builder.Release()
		e.builder = nil
	}
}
