package engine

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vexdata/ember/pkg/interchange"
)

// captureCalls collects reverse calls the way the bridge would, importing
// through the same loopback the engine exports through.
type captureCalls struct {
	lb      *interchange.Loopback
	schema  *arrow.Schema
	batches []arrow.Record
	faults  []error
}

func (c *captureCalls) ImportSchema(h interchange.SchemaHandle) error {
	schema, err := c.lb.ImportSchema(h)
	if err != nil {
		return err
	}
	c.schema = schema
	return nil
}

func (c *captureCalls) ImportBatch(h interchange.ArrayHandle) error {
	rec, err := c.lb.ImportBatch(h, c.schema)
	if err != nil {
		return err
	}
	c.batches = append(c.batches, rec)
	return nil
}

func (c *captureCalls) ReportError(err error) {
	c.faults = append(c.faults, err)
}

func (c *captureCalls) release() {
	for _, b := range c.batches {
		b.Release()
	}
	c.batches = nil
}

const genPlan = `{
	"generate": {
		"fields": [{"name": "id", "type": "int64"}, {"name": "tag", "type": "string"}],
		"rows": 25
	},
	"batch_rows": 10
}`

func TestInProcProducesBatchesInOrder(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	lb := interchange.NewLoopback()
	eng := NewInProc(lb, alloc)
	rc := &captureCalls{lb: lb}
	defer rc.release()

	h, err := eng.StartTask([]byte(genPlan), rc, TaskInfo{Partition: 3})
	if err != nil {
		t.Fatal(err)
	}
	if h == 0 {
		t.Fatal("expected non-zero task handle")
	}

	pulls := 0
	for {
		ok, err := eng.PullNextBatch(h)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		pulls++
	}

	// 25 rows at 10 per batch: 10, 10, 5.
	if pulls != 3 || len(rc.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d pulls, %d imports", pulls, len(rc.batches))
	}
	if rc.schema == nil {
		t.Fatal("schema was never imported")
	}
	want := []int64{10, 10, 5}
	for i, b := range rc.batches {
		if b.NumRows() != want[i] {
			t.Errorf("batch %d: expected %d rows, got %d", i, want[i], b.NumRows())
		}
	}

	if err := eng.FinalizeTask(h); err != nil {
		t.Fatal(err)
	}
	if n := lb.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding descriptors, got %d", n)
	}
}

func TestInProcFinalizeIdempotent(t *testing.T) {
	lb := interchange.NewLoopback()
	eng := NewInProc(lb, memory.DefaultAllocator)
	rc := &captureCalls{lb: lb}

	h, err := eng.StartTask([]byte(genPlan), rc, TaskInfo{})
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.FinalizeTask(h); err != nil {
		t.Fatal(err)
	}
	if err := eng.FinalizeTask(h); err != nil {
		t.Fatalf("second finalize must be a no-op, got %v", err)
	}
	if err := eng.FinalizeTask(0); err != nil {
		t.Fatalf("zero handle finalize must be a no-op, got %v", err)
	}

	// Pulling a finalized task aborts cleanly.
	ok, err := eng.PullNextBatch(h)
	if err != nil || ok {
		t.Fatalf("expected aborted pull (false, nil), got (%v, %v)", ok, err)
	}
}

func TestInProcRejectsSQLOnlyPlan(t *testing.T) {
	lb := interchange.NewLoopback()
	eng := NewInProc(lb, memory.DefaultAllocator)
	if _, err := eng.StartTask([]byte(`{"sql": "SELECT 1"}`), &captureCalls{lb: lb}, TaskInfo{}); err == nil {
		t.Fatal("expected error for plan without generate source")
	}
}
