// Package bridge drives a columnar compute engine running outside the host
// runtime's memory management. The sink direction (Task) runs one native
// task and presents its output as a pull sequence of rows; the source
// direction (ExportIterator) presents a host row sequence as pull-based
// columnar batches. All cross-boundary resources are owned here and are
// released no later than exhaustion, cancellation, or failure.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/vexdata/ember/pkg/arrowmem"
	"github.com/vexdata/ember/pkg/engine"
	"github.com/vexdata/ember/pkg/interchange"
	"github.com/vexdata/ember/pkg/metrics"
)

type faultBox struct {
	err error
}

// Task is the Native Call Wrapper: it owns one native task's handle,
// allocation scope, imported schema, current batch, and pending fault for
// the task's whole lifetime. Reverse calls arrive on the engine's goroutine
// and are serialized against teardown by the task mutex; teardown never
// holds the mutex across a native call, so a blocked pull cannot deadlock a
// concurrent Close.
type Task struct {
	id       string
	logger   *slog.Logger
	eng      engine.Engine
	importer interchange.Importer
	cfg      Config

	mu         sync.Mutex
	handle     engine.TaskHandle
	scope      *arrowmem.Scope
	schema     *arrow.Schema
	batch      arrow.Record
	batchBytes int64
	cursor     int
	closed     bool

	pending atomic.Pointer[faultBox]

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// StartTask submits the serialized plan to the engine and returns the
// wrapper owning the resulting native task. Teardown is registered on ctx,
// so host-task completion or failure releases all resources even if the
// consumer abandons the row sequence early.
func StartTask(ctx context.Context, eng engine.Engine, imp interchange.Importer,
	root memory.Allocator, plan []byte, info engine.TaskInfo, cfg Config) (*Task, error) {

	cfg = cfg.withDefaults()
	t := &Task{
		id:       uuid.NewString(),
		eng:      eng,
		importer: imp,
		cfg:      cfg,
		scope:    arrowmem.NewScope(root),
		done:     make(chan struct{}),
	}
	t.logger = slog.Default().With(
		"task", t.id, "partition", info.Partition, "stage", info.StageID, "job", info.JobID)

	handle, err := eng.StartTask(plan, t, info)
	if err != nil {
		t.scope.Release()
		return nil, &InitializationError{Err: err}
	}
	t.mu.Lock()
	t.handle = handle
	t.mu.Unlock()

	metrics.TasksStarted.Inc()
	metrics.TasksActive.Inc()
	t.logger.Debug("native task started")

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				t.Close()
			case <-t.done:
			}
		}()
	}
	return t, nil
}

// Scope exposes the task's allocation scope, for harnesses asserting zero
// outstanding bytes after teardown.
func (t *Task) Scope() *arrowmem.Scope {
	return t.scope
}

// Rows returns the pull sequence of rows for this task. The sequence ends
// when the native engine is exhausted; any native fault surfaces as the
// iterator's error.
func (t *Task) Rows() *RowIterator {
	return &RowIterator{t: t}
}

// ImportSchema is a reverse call: the one-time import of the task's column
// layout. It must precede any batch import.
func (t *Task) ImportSchema(h interchange.SchemaHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		h.Drop()
		return &ContractViolation{Reason: "schema import after teardown"}
	}
	if t.schema != nil {
		h.Drop()
		return &ContractViolation{Reason: "schema imported twice"}
	}
	schema, err := t.importer.ImportSchema(h)
	if err != nil {
		return err
	}
	t.schema = schema
	return nil
}

// ImportBatch is a reverse call: imports one columnar batch into the task's
// allocation scope. The batch's buffers are native-owned, so the scope is
// charged by size rather than through an allocation. The previous batch must
// already have been released.
func (t *Task) ImportBatch(h interchange.ArrayHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		h.Drop()
		return &ContractViolation{Reason: "batch import after teardown"}
	}
	if t.schema == nil {
		h.Drop()
		return &ContractViolation{Reason: "batch import before schema import"}
	}
	if t.batch != nil {
		h.Drop()
		return &ContractViolation{Reason: "batch import while previous batch still held"}
	}
	rec, err := t.importer.ImportBatch(h, t.schema)
	if err != nil {
		return err
	}
	t.batch = rec
	t.batchBytes = recordBytes(rec)
	t.scope.Charge(t.batchBytes)
	t.cursor = 0
	metrics.BatchesImported.Inc()
	return nil
}

// ReportError is a reverse call: stores a fault to be observed on the next
// row pull. The slot holds at most one fault; the first wins.
func (t *Task) ReportError(err error) {
	if err == nil {
		return
	}
	metrics.NativeFaults.Inc()
	if !t.pending.CompareAndSwap(nil, &faultBox{err: err}) {
		t.logger.Warn("dropping native fault, another is already pending", "error", err)
	}
}

// takeFault observes the pending fault destructively: a fault is reported
// exactly once.
func (t *Task) takeFault() error {
	if box := t.pending.Swap(nil); box != nil {
		return box.err
	}
	return nil
}

// nextRow implements one row pull. ok=false with nil error means the
// sequence is exhausted and all resources are released.
func (t *Task) nextRow() (Row, bool, error) {
	for {
		if err := t.takeFault(); err != nil {
			t.Close()
			return nil, false, &NativeFault{Err: err}
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, false, ErrTaskClosed
		}
		if t.batch != nil && t.cursor < int(t.batch.NumRows()) {
			row, err := decodeRow(t.batch, t.cursor)
			if err != nil {
				t.mu.Unlock()
				t.Close()
				return nil, false, &ContractViolation{
					Reason: fmt.Sprintf("imported batch is not decodable: %v", err)}
			}
			t.cursor++
			t.mu.Unlock()
			metrics.RowsDecoded.Inc()
			return row, true, nil
		}
		if t.batch != nil {
			t.batch.Release()
			t.scope.Credit(t.batchBytes)
			t.batchBytes = 0
			t.batch = nil
			t.cursor = 0
		}
		handle := t.handle
		t.mu.Unlock()

		// The engine invokes the reverse calls on this call's stack; the
		// task mutex must not be held here.
		ok, err := t.eng.PullNextBatch(handle)
		if err != nil {
			t.Close()
			return nil, false, &NativeFault{Err: err}
		}
		if !ok {
			if err := t.takeFault(); err != nil {
				t.Close()
				return nil, false, &NativeFault{Err: err}
			}
			if cerr := t.Close(); cerr != nil {
				return nil, false, cerr
			}
			return nil, false, nil
		}

		t.mu.Lock()
		gotBatch := t.batch != nil || t.closed
		t.mu.Unlock()
		if !gotBatch {
			t.Close()
			return nil, false, &ContractViolation{Reason: "engine produced a batch without importing it"}
		}
	}
}

// Close finalizes the task handle, releases the current batch and the
// allocation scope, and re-raises any pending fault discovered during
// teardown. It is idempotent and safe to call concurrently: one teardown
// executes, concurrent callers block until it completes and observe the
// same outcome.
func (t *Task) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.teardown()
		close(t.done)
	})
	return t.closeErr
}

func (t *Task) teardown() error {
	t.mu.Lock()
	t.closed = true
	handle := t.handle
	t.handle = 0
	batch := t.batch
	t.batch = nil
	batchBytes := t.batchBytes
	t.batchBytes = 0
	scope := t.scope
	t.mu.Unlock()

	var firstErr error
	if batch != nil {
		batch.Release()
		scope.Credit(batchBytes)
	}
	if handle != 0 {
		// Outside the mutex: finalize must be able to abort an in-flight
		// pull without waiting on bridge state.
		if err := t.eng.FinalizeTask(handle); err != nil {
			firstErr = &ResourceError{Err: err}
		}
		metrics.TasksFinalized.Inc()
		metrics.TasksActive.Dec()
	}
	if scope != nil {
		if err := scope.Release(); err != nil && firstErr == nil {
			firstErr = &ResourceError{Err: err}
		}
	}
	if err := t.takeFault(); err != nil && firstErr == nil {
		firstErr = &NativeFault{Err: err}
	}
	t.logger.Debug("task torn down")
	return firstErr
}

// recordBytes sums the buffer lengths backing a record's columns. Imported
// batches live in native-owned memory, so the scope accounts for them by
// size instead of by allocation.
func recordBytes(rec arrow.Record) int64 {
	var n int64
	for _, col := range rec.Columns() {
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				n += int64(buf.Len())
			}
		}
	}
	return n
}

var _ engine.ReverseCalls = (*Task)(nil)
