package interchange

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Importer brings descriptors from the native side into the host. Both calls
// take ownership of their handle: on return, success or failure, the handle
// is spent and the native-side descriptor has been consumed or released.
type Importer interface {
	// ImportSchema imports the schema descriptor behind the handle.
	ImportSchema(h SchemaHandle) (*arrow.Schema, error)

	// ImportBatch imports the array descriptor behind the handle as one
	// record batch of the given schema. The caller must Release the record.
	ImportBatch(h ArrayHandle, schema *arrow.Schema) (arrow.Record, error)
}

// Exporter writes host-side data into consumer-provided descriptor
// locations, handing ownership of the exported buffers to the receiver.
type Exporter interface {
	// ExportSchema writes the schema into the descriptor at schemaAddr.
	ExportSchema(schema *arrow.Schema, schemaAddr uintptr) error

	// ExportBatch writes the record into the descriptor at arrayAddr, and
	// the schema into schemaAddr unless schemaAddr is zero.
	ExportBatch(rec arrow.Record, schemaAddr, arrayAddr uintptr) error
}
