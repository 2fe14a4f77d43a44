//go:build duckdb

package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/vexdata/ember/pkg/interchange"
)

// DuckDB is a native engine backed by an in-memory DuckDB instance per task.
// The computation runs in DuckDB's own manually-managed memory under its
// memory_limit; result batches cross into the host through the interchange
// one batch per pull.
type DuckDB struct {
	lb          *interchange.Loopback
	alloc       memory.Allocator
	memoryLimit int64
	logger      *slog.Logger

	next  atomic.Uint64
	mu    sync.Mutex
	tasks map[TaskHandle]*duckTask
}

type duckTask struct {
	mu         sync.Mutex
	id         string
	rc         ReverseCalls
	query      string
	db         *sql.DB
	conn       *sql.Conn
	cancel     context.CancelFunc
	ctx        context.Context
	rdr        array.RecordReader
	schemaSent bool
	finalized  bool
}

// NewDuckDB creates a DuckDB-backed engine. memoryLimit bounds each task's
// DuckDB instance; 0 uses the 256MB default.
func NewDuckDB(lb *interchange.Loopback, alloc memory.Allocator, memoryLimit int64) (*DuckDB, error) {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	if memoryLimit == 0 {
		memoryLimit = 256 * 1024 * 1024
	}
	return &DuckDB{
		lb:          lb,
		alloc:       alloc,
		memoryLimit: memoryLimit,
		logger:      slog.Default().With("engine", "duckdb"),
		tasks:       make(map[TaskHandle]*duckTask),
	}, nil
}

func (e *DuckDB) StartTask(planBytes []byte, rc ReverseCalls, info TaskInfo) (TaskHandle, error) {
	plan, err := ParsePlan(planBytes)
	if err != nil {
		return 0, err
	}
	if plan.SQL == "" {
		return 0, fmt.Errorf("duckdb engine requires a sql statement")
	}

	connector, err := goduckdb.NewConnector("", nil)
	if err != nil {
		return 0, fmt.Errorf("duckdb: create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := db.Conn(ctx)
	if err != nil {
		cancel()
		db.Close()
		return 0, fmt.Errorf("duckdb: get connection: %w", err)
	}

	limitMB := e.memoryLimit / (1024 * 1024)
	if limitMB < 1 {
		limitMB = 1
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET memory_limit='%dMB'", limitMB)); err != nil {
		cancel()
		conn.Close()
		db.Close()
		return 0, fmt.Errorf("duckdb: set memory_limit: %w", err)
	}

	t := &duckTask{
		id:     uuid.NewString(),
		rc:     rc,
		query:  plan.SQL,
		db:     db,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	handle := TaskHandle(e.next.Add(1))
	e.mu.Lock()
	e.tasks[handle] = t
	e.mu.Unlock()

	e.logger.Debug("task started",
		"task", t.id, "partition", info.Partition, "stage", info.StageID, "job", info.JobID)
	return handle, nil
}

func (e *DuckDB) PullNextBatch(h TaskHandle) (bool, error) {
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

	if t.rdr == nil {
		err := t.conn.Raw(func(driverConn interface{}) error {
			arrowConn, err := goduckdb.NewArrowFromConn(driverConn.(driver.Conn))
			if err != nil {
				return fmt.Errorf("duckdb: arrow from conn: %w", err)
			}
			rdr, err := arrowConn.QueryContext(t.ctx, t.query)
			if err != nil {
				return fmt.Errorf("duckdb: query: %w", err)
			}
			t.rdr = rdr
			return nil
		})
		if err != nil {
			t.rc.ReportError(err)
			return false, nil
		}

		addr := e.lb.NewTarget()
		if err := e.lb.ExportSchema(t.rdr.Schema(), addr); err != nil {
			return false, err
		}
		if err := t.rc.ImportSchema(e.lb.SchemaHandle(addr)); err != nil {
			return false, err
		}
		t.schemaSent = true
	}

	if !t.rdr.Next() {
		if err := t.rdr.Err(); err != nil && t.ctx.Err() == nil {
			t.rc.ReportError(fmt.Errorf("duckdb: read results: %w", err))
		}
		return false, nil
	}

	rec := t.rdr.Record()
	rec.Retain()
	addr := e.lb.NewTarget()
	err := e.lb.ExportBatch(rec, 0, addr)
	rec.Release()
	if err != nil {
		return false, err
	}
	if err := t.rc.ImportBatch(e.lb.ArrayHandle(addr)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *DuckDB) FinalizeTask(h TaskHandle) error {
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

	// Cancel before locking so an in-flight pull blocked in the reader
	// returns and releases the task mutex.
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalized = true
	if t.rdr != nil {
		t.rdr.Release()
		t.rdr = nil
	}
	var firstErr error
	if t.conn != nil {
		if err := t.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.conn = nil
	}
	if t.db != nil {
		if err := t.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.db = nil
	}
	e.logger.Debug("task finalized", "task", t.id)
	return firstErr
}

var _ Engine = (*DuckDB)(nil)
