// Package sources implements host-side row sequences that feed the source
// direction of the bridge.
package sources

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/vexdata/ember/pkg/bridge"
)

// Generator produces deterministic synthetic rows for an Arrow schema.
type Generator struct {
	schema  *arrow.Schema
	maxRows int64
	seq     int64
	cur     bridge.Row
	start   int64
}

// NewGenerator creates a generator yielding maxRows rows.
func NewGenerator(schema *arrow.Schema, maxRows int64) *Generator {
	return &Generator{
		schema:  schema,
		maxRows: maxRows,
		start:   time.Now().UnixMilli(),
	}
}

func (g *Generator) Next() bool {
	if g.seq >= g.maxRows {
		return false
	}
	row := make(bridge.Row, g.schema.NumFields())
	for i := 0; i < g.schema.NumFields(); i++ {
		f := g.schema.Field(i)
		switch f.Type.ID() {
		case arrow.INT8:
			row[i] = int8(g.seq)
		case arrow.INT16:
			row[i] = int16(g.seq)
		case arrow.INT32:
			row[i] = int32(g.seq)
		case arrow.INT64:
			row[i] = g.seq
		case arrow.FLOAT32:
			row[i] = float32(g.seq) * 1.1
		case arrow.FLOAT64:
			row[i] = float64(g.seq) * 1.1
		case arrow.STRING:
			row[i] = fmt.Sprintf("%s_%d", f.Name, g.seq)
		case arrow.BINARY:
			row[i] = []byte{byte(g.seq), byte(g.seq >> 8)}
		case arrow.BOOL:
			row[i] = g.seq%2 == 0
		case arrow.TIMESTAMP:
			row[i] = arrow.Timestamp(g.start + g.seq)
		default:
			row[i] = nil
		}
	}
	g.cur = row
	g.seq++
	return true
}

func (g *Generator) Row() bridge.Row { return g.cur }

func (g *Generator) Err() error { return nil }

func (g *Generator) Close() error { return nil }

var _ bridge.RowSource = (*Generator)(nil)
