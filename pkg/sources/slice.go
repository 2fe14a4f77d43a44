package sources

import (
	"github.com/vexdata/ember/pkg/bridge"
)

// Slice is an in-memory row source over a fixed set of rows.
type Slice struct {
	rows []bridge.Row
	pos  int
	cur  bridge.Row
}

// NewSlice creates a source yielding the given rows in order.
func NewSlice(rows []bridge.Row) *Slice {
	return &Slice{rows: rows}
}

func (s *Slice) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.cur = s.rows[s.pos]
	s.pos++
	return true
}

func (s *Slice) Row() bridge.Row { return s.cur }

func (s *Slice) Err() error { return nil }

func (s *Slice) Close() error { return nil }

var _ bridge.RowSource = (*Slice)(nil)
