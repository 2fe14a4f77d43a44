package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/vexdata/ember/pkg/interchange"
)

const defaultBatchRows = 1024

// InProc is a native engine that runs inside the host process. It exists to
// exercise the full bridge protocol, including descriptor ownership
// transfer, without a native library: batches cross through an in-process
// Loopback interchange rather than real C descriptors.
type InProc struct {
	lb     *interchange.Loopback
	alloc  memory.Allocator
	logger *slog.Logger

	next  atomic.Uint64
	mu    sync.Mutex
	tasks map[TaskHandle]*inprocTask
}

type inprocTask struct {
	mu         sync.Mutex
	id         string
	rc         ReverseCalls
	schema     *arrow.Schema
	schemaSent bool
	batchRows  int
	total      int64
	produced   int64
	finalized  bool
}

// NewInProc creates an in-process engine pushing batches through lb.
func NewInProc(lb *interchange.Loopback, alloc memory.Allocator) *InProc {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	return &InProc{
		lb:     lb,
		alloc:  alloc,
		logger: slog.Default().With("engine", "inproc"),
		tasks:  make(map[TaskHandle]*inprocTask),
	}
}

func (e *InProc) StartTask(planBytes []byte, rc ReverseCalls, info TaskInfo) (TaskHandle, error) {
	plan, err := ParsePlan(planBytes)
	if err != nil {
		return 0, err
	}
	if plan.Generate == nil {
		return 0, fmt.Errorf("in-process engine requires a generate source")
	}
	schema, err := plan.Generate.ArrowSchema()
	if err != nil {
		return 0, err
	}

	batchRows := plan.BatchRows
	if batchRows <= 0 {
		batchRows = defaultBatchRows
	}

	t := &inprocTask{
		id:        uuid.NewString(),
		rc:        rc,
		schema:    schema,
		batchRows: batchRows,
		total:     plan.Generate.Rows,
	}

	handle := TaskHandle(e.next.Add(1))
	e.mu.Lock()
	e.tasks[handle] = t
	e.mu.Unlock()

	e.logger.Debug("task started",
		"task", t.id, "partition", info.Partition, "stage", info.StageID, "job", info.JobID,
		"rows", t.total, "batch_rows", batchRows)
	return handle, nil
}

func (e *InProc) PullNextBatch(h TaskHandle) (bool, error) {
	e.mu.Lock()
	t, ok := e.tasks[h]
	e.mu.Unlock()
	if !ok {
		// Stale or finalized handle: the task was aborted mid-pull.
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return false, nil
	}

	if !t.schemaSent {
		addr := e.lb.NewTarget()
		if err := e.lb.ExportSchema(t.schema, addr); err != nil {
			return false, err
		}
		if err := t.rc.ImportSchema(e.lb.SchemaHandle(addr)); err != nil {
			return false, err
		}
		t.schemaSent = true
	}

	rows := t.total - t.produced
	if rows <= 0 {
		return false, nil
	}
	if rows > int64(t.batchRows) {
		rows = int64(t.batchRows)
	}

	rec := generateBatch(e.alloc, t.schema, t.produced, int(rows))
	addr := e.lb.NewTarget()
	err := e.lb.ExportBatch(rec, 0, addr)
	rec.Release()
	if err != nil {
		return false, err
	}
	if err := t.rc.ImportBatch(e.lb.ArrayHandle(addr)); err != nil {
		return false, err
	}
	t.produced += rows
	return true, nil
}

func (e *InProc) FinalizeTask(h TaskHandle) error {
	if h == 0 {
		return nil
	}
	e.mu.Lock()
	t, ok := e.tasks[h]
	delete(e.tasks, h)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.Lock()
	t.finalized = true
	t.mu.Unlock()
	e.logger.Debug("task finalized", "task", t.id, "rows_produced", t.produced)
	return nil
}

// generateBatch synthesizes one batch of deterministic values, one per
// column type, starting at the given sequence number.
func generateBatch(alloc memory.Allocator, schema *arrow.Schema, startSeq int64, numRows int) arrow.Record {
	builders := make([]array.Builder, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		builders[i] = array.NewBuilder(alloc, schema.Field(i).Type)
	}

	now := time.Now().UnixMilli()

	for row := 0; row < numRows; row++ {
		seq := startSeq + int64(row)
		for i := 0; i < schema.NumFields(); i++ {
			f := schema.Field(i)
			switch f.Type.ID() {
			case arrow.INT8:
				builders[i].(*array.Int8Builder).Append(int8(seq))
			case arrow.INT16:
				builders[i].(*array.Int16Builder).Append(int16(seq))
			case arrow.INT32:
				builders[i].(*array.Int32Builder).Append(int32(seq))
			case arrow.INT64:
				builders[i].(*array.Int64Builder).Append(seq)
			case arrow.FLOAT32:
				builders[i].(*array.Float32Builder).Append(float32(seq) * 1.1)
			case arrow.FLOAT64:
				builders[i].(*array.Float64Builder).Append(float64(seq) * 1.1)
			case arrow.STRING:
				builders[i].(*array.StringBuilder).Append(fmt.Sprintf("%s_%d", f.Name, seq))
			case arrow.BINARY:
				builders[i].(*array.BinaryBuilder).Append([]byte{byte(seq), byte(seq >> 8)})
			case arrow.BOOL:
				builders[i].(*array.BooleanBuilder).Append(seq%2 == 0)
			case arrow.TIMESTAMP:
				builders[i].(*array.TimestampBuilder).Append(arrow.Timestamp(now + seq))
			default:
				builders[i].AppendNull()
			}
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
		b.Release()
	}

	rec := array.NewRecord(schema, arrays, int64(numRows))
	for _, a := range arrays {
		a.Release()
	}
	return rec
}

var _ Engine = (*InProc)(nil)
