package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vexdata/ember/pkg/arrowmem"
	"github.com/vexdata/ember/pkg/bridge"
	"github.com/vexdata/ember/pkg/interchange"
	"github.com/vexdata/ember/pkg/sources"
)

func sliceOfInts(n int) *sources.Slice {
	rows := make([]bridge.Row, n)
	for i := range rows {
		rows[i] = bridge.Row{int64(i)}
	}
	return sources.NewSlice(rows)
}

// importExported pulls the batch back out of the loopback so the test can
// inspect what the consumer would have received.
func importExported(t *testing.T, lb *interchange.Loopback, addr uintptr) arrow.Record {
	t.Helper()
	rec, err := lb.ImportBatch(lb.ArrayHandle(addr), nil)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestExportIteratorBatchSizesAndOrder(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(250), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 100})
	defer it.Close()

	want := []int64{100, 100, 50}
	var next int64
	for i, rows := range want {
		if !it.HasNext() {
			t.Fatalf("batch %d: expected more rows", i)
		}
		handoff, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		addr := lb.NewTarget()
		if err := handoff(0, addr); err != nil {
			t.Fatal(err)
		}

		rec := importExported(t, lb, addr)
		if rec.NumRows() != rows {
			t.Fatalf("batch %d: expected %d rows, got %d", i, rows, rec.NumRows())
		}
		col := rec.Column(0).(*array.Int64)
		for r := 0; r < int(rec.NumRows()); r++ {
			if v := col.Value(r); v != next {
				t.Fatalf("batch %d row %d: expected %d, got %d", i, r, next, v)
			}
			next++
		}
		rec.Release()
	}

	if it.HasNext() {
		t.Fatal("expected exhaustion after 250 rows")
	}
	if _, err := it.Next(); !errors.Is(err, bridge.ErrSourceExhausted) {
		t.Fatalf("expected ErrSourceExhausted, got %v", err)
	}
	if n := lb.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding descriptors, got %d", n)
	}
}

func TestExportIteratorNeverExceedsCap(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(33), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 8})
	defer it.Close()

	total := int64(0)
	for it.HasNext() {
		handoff, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		addr := lb.NewTarget()
		if err := handoff(0, addr); err != nil {
			t.Fatal(err)
		}
		rec := importExported(t, lb, addr)
		if rec.NumRows() > 8 {
			t.Fatalf("batch exceeds cap: %d rows", rec.NumRows())
		}
		total += rec.NumRows()
		rec.Release()
	}
	if total != 33 {
		t.Fatalf("expected 33 rows total, got %d", total)
	}
}

func TestExportIteratorHandoffSingleUse(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(4), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 4})
	defer it.Close()

	handoff, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	addr := lb.NewTarget()
	if err := handoff(0, addr); err != nil {
		t.Fatal(err)
	}
	importExported(t, lb, addr).Release()

	if err := handoff(0, lb.NewTarget()); !errors.Is(err, bridge.ErrBatchReleased) {
		t.Fatalf("expected ErrBatchReleased on second invocation, got %v", err)
	}
}

func TestExportIteratorReleasesRefusedBatch(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(10), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 4})
	defer it.Close()

	// The consumer never invokes the first handoff; requesting the next batch
	// releases the refused one.
	refused, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	handoff, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if err := refused(0, lb.NewTarget()); !errors.Is(err, bridge.ErrBatchReleased) {
		t.Fatalf("expected ErrBatchReleased for the stale handoff, got %v", err)
	}

	addr := lb.NewTarget()
	if err := handoff(0, addr); err != nil {
		t.Fatal(err)
	}
	rec := importExported(t, lb, addr)
	// Second batch of rows 4..7.
	if rec.NumRows() != 4 {
		t.Fatalf("expected 4 rows, got %d", rec.NumRows())
	}
	rec.Release()
}

func TestExportIteratorCloseReleasesHeld(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(10), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 4})

	handoff, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	if err := handoff(0, lb.NewTarget()); !errors.Is(err, bridge.ErrBatchReleased) {
		t.Fatalf("expected ErrBatchReleased after close, got %v", err)
	}
	if _, err := it.Next(); !errors.Is(err, bridge.ErrTaskClosed) {
		t.Fatalf("expected ErrTaskClosed, got %v", err)
	}
	if it.HasNext() {
		t.Fatal("expected HasNext false after close")
	}
}

func TestExportIteratorContextCancel(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	ctx, cancel := context.WithCancel(context.Background())
	it := bridge.NewExportIterator(ctx, sliceOfInts(10), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 4})

	if _, err := it.Next(); err != nil {
		t.Fatal(err)
	}
	cancel()
	// Teardown runs on the watcher goroutine; Close joins it.
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExportIteratorAppendFailureSticky(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	src := sources.NewSlice([]bridge.Row{
		{int64(1), int64(2)}, // second value does not fit the string column
		{int64(3), "ok"},
	})
	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), src, schema,
		lb, alloc, bridge.Config{})
	defer it.Close()

	_, err := it.Next()
	if err == nil {
		t.Fatal("expected type mismatch error")
	}

	// The half-appended row poisoned the reused builder; the failure must be
	// sticky instead of building on the poisoned state.
	if _, err2 := it.Next(); err2 != err {
		t.Fatalf("expected the failure to be sticky, got %v", err2)
	}
	if it.HasNext() {
		t.Fatal("expected HasNext false after failure")
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close after failure: %v", err)
	}
}

func TestExportIteratorBudgetOverrun(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer checked.AssertSize(t, 0)

	root := arrowmem.NewLimitedAllocator(checked, 16)
	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(1000), int64Schema(),
		lb, root, bridge.Config{MaxBatchRows: 1000})
	defer it.Close()

	_, err := it.Next()
	var res *bridge.ResourceError
	if !errors.As(err, &res) {
		t.Fatalf("expected ResourceError, got %v", err)
	}
	if !errors.Is(err, arrowmem.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded in the chain, got %v", err)
	}

	if _, err2 := it.Next(); err2 != err {
		t.Fatalf("expected the failure to be sticky, got %v", err2)
	}
	if it.HasNext() {
		t.Fatal("expected HasNext false after budget overrun")
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close after overrun: %v", err)
	}
}

func TestExportIteratorScopeAccounting(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	it := bridge.NewExportIterator(context.Background(), sliceOfInts(8), int64Schema(),
		lb, alloc, bridge.Config{MaxBatchRows: 8})

	handoff, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if it.Scope().OutstandingBytes() == 0 {
		t.Fatal("expected outstanding bytes while a built batch is held")
	}

	addr := lb.NewTarget()
	if err := handoff(0, addr); err != nil {
		t.Fatal(err)
	}
	importExported(t, lb, addr).Release()

	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if !it.Scope().Released() {
		t.Fatal("scope not released")
	}
	if n := it.Scope().OutstandingBytes(); n != 0 {
		t.Fatalf("expected 0 outstanding bytes after close, got %d", n)
	}
}

func BenchmarkExportIterator(b *testing.B) {
	lb := interchange.NewLoopback()
	schema := int64Schema()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		it := bridge.NewExportIterator(context.Background(), sliceOfInts(4096), schema,
			lb, memory.DefaultAllocator, bridge.Config{MaxBatchRows: 1024})
		for it.HasNext() {
			handoff, err := it.Next()
			if err != nil {
				b.Fatal(err)
			}
			addr := lb.NewTarget()
			if err := handoff(0, addr); err != nil {
				b.Fatal(err)
			}
			rec, err := lb.ImportBatch(lb.ArrayHandle(addr), nil)
			if err != nil {
				b.Fatal(err)
			}
			rec.Release()
		}
		it.Close()
	}
}
