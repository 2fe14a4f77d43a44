//go:build cdata

package interchange

import (
	"fmt"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/cdata"
)

// CDataBridge implements the interchange over the Arrow C-data interface.
// Handle addresses are real ArrowSchema/ArrowArray struct pointers shared
// with the native library.
type CDataBridge struct{}

// NewCDataBridge returns the C-data interchange implementation.
func NewCDataBridge() (*CDataBridge, error) {
	return &CDataBridge{}, nil
}

func (*CDataBridge) ImportSchema(h SchemaHandle) (*arrow.Schema, error) {
	addr, err := h.take()
	if err != nil {
		return nil, err
	}
	schema, err := cdata.ImportCArrowSchema((*cdata.CArrowSchema)(unsafe.Pointer(addr)))
	if err != nil {
		return nil, fmt.Errorf("interchange: import c schema: %w", err)
	}
	return schema, nil
}

func (*CDataBridge) ImportBatch(h ArrayHandle, schema *arrow.Schema) (arrow.Record, error) {
	addr, err := h.take()
	if err != nil {
		return nil, err
	}
	carr := (*cdata.CArrowArray)(unsafe.Pointer(addr))
	rec, err := cdata.ImportCRecordBatchWithSchema(carr, schema)
	if err != nil {
		// Import failed before taking ownership of the buffers.
		cdata.ReleaseCArrowArray(carr)
		return nil, fmt.Errorf("interchange: import c record batch: %w", err)
	}
	return rec, nil
}

func (*CDataBridge) ExportSchema(schema *arrow.Schema, schemaAddr uintptr) error {
	cdata.ExportArrowSchema(schema, (*cdata.CArrowSchema)(unsafe.Pointer(schemaAddr)))
	return nil
}

func (*CDataBridge) ExportBatch(rec arrow.Record, schemaAddr, arrayAddr uintptr) error {
	var csc *cdata.CArrowSchema
	if schemaAddr != 0 {
		csc = (*cdata.CArrowSchema)(unsafe.Pointer(schemaAddr))
	}
	cdata.ExportArrowRecordBatch(rec, (*cdata.CArrowArray)(unsafe.Pointer(arrayAddr)), csc)
	return nil
}

// ReleaseCSchema frees an unconsumed schema descriptor.
func ReleaseCSchema(addr uintptr) {
	cdata.ReleaseCArrowSchema((*cdata.CArrowSchema)(unsafe.Pointer(addr)))
}

// ReleaseCArray frees an unconsumed array descriptor.
func ReleaseCArray(addr uintptr) {
	cdata.ReleaseCArrowArray((*cdata.CArrowArray)(unsafe.Pointer(addr)))
}

var (
	_ Importer = (*CDataBridge)(nil)
	_ Exporter = (*CDataBridge)(nil)
)
