package interchange

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// Loopback is an in-process implementation of the interchange convention.
// Descriptors live in a registry keyed by synthetic addresses; export stores
// an entry, import removes it. The ownership-transfer protocol is identical
// to the C-data path, so engines and tests running in the host process
// exercise the same handle lifecycle as a real native library.
type Loopback struct {
	mu      sync.Mutex
	next    uintptr
	schemas map[uintptr]*arrow.Schema
	arrays  map[uintptr]arrow.Record
}

// NewLoopback creates an empty in-process interchange.
func NewLoopback() *Loopback {
	return &Loopback{
		next:    1,
		schemas: make(map[uintptr]*arrow.Schema),
		arrays:  make(map[uintptr]arrow.Record),
	}
}

// NewTarget reserves a fresh descriptor address.
func (l *Loopback) NewTarget() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := l.next
	l.next++
	return addr
}

// Outstanding returns the number of exported descriptors not yet imported
// or released. Test harnesses assert this reaches zero at teardown.
func (l *Loopback) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.schemas) + len(l.arrays)
}

// SchemaHandle wraps addr as a handle whose drop path releases the
// registry entry.
func (l *Loopback) SchemaHandle(addr uintptr) SchemaHandle {
	return NewSchemaHandle(addr, func() { l.releaseSchema(addr) })
}

// ArrayHandle wraps addr as a handle whose drop path releases the
// registry entry and its record.
func (l *Loopback) ArrayHandle(addr uintptr) ArrayHandle {
	return NewArrayHandle(addr, func() { l.releaseArray(addr) })
}

func (l *Loopback) ExportSchema(schema *arrow.Schema, schemaAddr uintptr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.schemas[schemaAddr]; ok {
		return fmt.Errorf("interchange: schema descriptor %#x already occupied", schemaAddr)
	}
	l.schemas[schemaAddr] = schema
	return nil
}

func (l *Loopback) ExportBatch(rec arrow.Record, schemaAddr, arrayAddr uintptr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.arrays[arrayAddr]; ok {
		return fmt.Errorf("interchange: array descriptor %#x already occupied", arrayAddr)
	}
	if schemaAddr != 0 {
		if _, ok := l.schemas[schemaAddr]; ok {
			return fmt.Errorf("interchange: schema descriptor %#x already occupied", schemaAddr)
		}
		l.schemas[schemaAddr] = rec.Schema()
	}
	rec.Retain()
	l.arrays[arrayAddr] = rec
	return nil
}

func (l *Loopback) ImportSchema(h SchemaHandle) (*arrow.Schema, error) {
	addr, err := h.take()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	schema, ok := l.schemas[addr]
	if !ok {
		return nil, fmt.Errorf("interchange: no schema at descriptor %#x", addr)
	}
	delete(l.schemas, addr)
	return schema, nil
}

func (l *Loopback) ImportBatch(h ArrayHandle, schema *arrow.Schema) (arrow.Record, error) {
	addr, err := h.take()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.arrays[addr]
	if !ok {
		return nil, fmt.Errorf("interchange: no array at descriptor %#x", addr)
	}
	delete(l.arrays, addr)
	if schema != nil && !rec.Schema().Equal(schema) {
		rec.Release()
		return nil, fmt.Errorf("interchange: descriptor %#x schema does not match task schema", addr)
	}
	return rec, nil
}

func (l *Loopback) releaseSchema(addr uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.schemas, addr)
}

func (l *Loopback) releaseArray(addr uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.arrays[addr]; ok {
		rec.Release()
		delete(l.arrays, addr)
	}
}

var (
	_ Importer = (*Loopback)(nil)
	_ Exporter = (*Loopback)(nil)
)
