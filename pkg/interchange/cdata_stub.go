//go:build !cdata

package interchange

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrCDataNotAvailable is returned when the C-data interchange is used
// without the cdata build tag.
var ErrCDataNotAvailable = errors.New("C-data interchange requires building with -tags cdata")

// CDataBridge is a stub for the C-data interchange implementation.
type CDataBridge struct{}

// NewCDataBridge returns an error when cdata support is not compiled in.
func NewCDataBridge() (*CDataBridge, error) {
	return nil, ErrCDataNotAvailable
}

// ImportSchema is a stub.
func (*CDataBridge) ImportSchema(_ SchemaHandle) (*arrow.Schema, error) {
	return nil, ErrCDataNotAvailable
}

// ImportBatch is a stub.
func (*CDataBridge) ImportBatch(_ ArrayHandle, _ *arrow.Schema) (arrow.Record, error) {
	return nil, ErrCDataNotAvailable
}

// ExportSchema is a stub.
func (*CDataBridge) ExportSchema(_ *arrow.Schema, _ uintptr) error {
	return ErrCDataNotAvailable
}

// ExportBatch is a stub.
func (*CDataBridge) ExportBatch(_ arrow.Record, _, _ uintptr) error {
	return ErrCDataNotAvailable
}
