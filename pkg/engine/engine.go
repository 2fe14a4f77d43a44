// Package engine defines the native engine boundary: the three entry points
// the bridge consumes and the reverse calls the engine invokes back into the
// bridge while producing batches. Implementations run a columnar computation
// outside the host's memory management; the bundled InProc engine runs it in
// process through the same protocol, and a DuckDB-backed engine is available
// behind the duckdb build tag.
package engine

import (
	"github.com/vexdata/ember/pkg/interchange"
)

// TaskHandle is an opaque reference to one running native computation.
// Zero means not started or already finalized.
type TaskHandle uint64

// TaskInfo carries host-task identity forwarded to the native side for
// diagnostics. It never influences bridge control flow.
type TaskInfo struct {
	Partition int
	StageID   string
	JobID     string
}

// ReverseCalls is the surface the engine invokes back into the bridge.
// All three calls are synchronous and arrive on whatever goroutine the
// engine uses, which may differ from the row consumer's.
type ReverseCalls interface {
	// ImportSchema delivers the task's column layout. Called exactly once,
	// before any ImportBatch.
	ImportSchema(h interchange.SchemaHandle) error

	// ImportBatch delivers one columnar batch. The previous batch must
	// already have been released by the receiver.
	ImportBatch(h interchange.ArrayHandle) error

	// ReportError records a fault to be observed on the consumer's next pull.
	ReportError(err error)
}

// Engine is the native engine as consumed by the bridge.
type Engine interface {
	// StartTask submits a serialized task plan together with the reverse-call
	// receiver for this task. A malformed plan or unreachable runtime fails
	// here; later faults arrive through ReportError.
	StartTask(plan []byte, rc ReverseCalls, info TaskInfo) (TaskHandle, error)

	// PullNextBatch asks the engine to produce the next batch for the task.
	// Schema and batch imports (or an error report) happen synchronously on
	// this call's stack before it returns. It returns false when the task
	// has no more batches.
	PullNextBatch(h TaskHandle) (bool, error)

	// FinalizeTask releases all native-side resources for the task. It is
	// idempotent: a zero or stale handle is a no-op. It may be called from
	// another goroutine while a PullNextBatch is in flight, in which case
	// the pull returns promptly without producing a batch.
	FinalizeTask(h TaskHandle) error
}
