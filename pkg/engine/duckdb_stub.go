//go:build !duckdb

package engine

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vexdata/ember/pkg/interchange"
)

// ErrDuckDBNotAvailable is returned when the DuckDB engine is used without
// the duckdb build tag.
var ErrDuckDBNotAvailable = errors.New("DuckDB engine requires building with -tags duckdb")

// DuckDB is a stub for the DuckDB-backed engine.
type DuckDB struct{}

// NewDuckDB returns an error when DuckDB is not compiled in.
func NewDuckDB(_ *interchange.Loopback, _ memory.Allocator, _ int64) (*DuckDB, error) {
	return nil, ErrDuckDBNotAvailable
}

// StartTask is a stub.
func (*DuckDB) StartTask(_ []byte, _ ReverseCalls, _ TaskInfo) (TaskHandle, error) {
	return 0, ErrDuckDBNotAvailable
}

// PullNextBatch is a stub.
func (*DuckDB) PullNextBatch(_ TaskHandle) (bool, error) {
	return false, ErrDuckDBNotAvailable
}

// FinalizeTask is a stub.
func (*DuckDB) FinalizeTask(_ TaskHandle) error { return nil }
