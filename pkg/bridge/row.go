package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Row is the host-side row representation: one value per column, nil for
// null. Values are defensively copied out of the backing batch, so a Row
// stays valid after the batch is released.
type Row []any

// RowSource is a pull sequence of rows feeding the source direction of the
// bridge.
type RowSource interface {
	// Next advances to the next row, returning false on exhaustion or error.
	Next() bool

	// Row returns the current row. Valid only after Next returned true.
	Row() Row

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the source's resources.
	Close() error
}

// decodeRow converts one row of a columnar batch into a Row, copying every
// value out of the batch's buffers.
func decodeRow(rec arrow.Record, i int) (Row, error) {
	row := make(Row, rec.NumCols())
	for col := 0; col < int(rec.NumCols()); col++ {
		arr := rec.Column(col)
		if arr.IsNull(i) {
			row[col] = nil
			continue
		}
		switch a := arr.(type) {
		case *array.Int8:
			row[col] = a.Value(i)
		case *array.Int16:
			row[col] = a.Value(i)
		case *array.Int32:
			row[col] = a.Value(i)
		case *array.Int64:
			row[col] = a.Value(i)
		case *array.Float32:
			row[col] = a.Value(i)
		case *array.Float64:
			row[col] = a.Value(i)
		case *array.Boolean:
			row[col] = a.Value(i)
		case *array.String:
			// Value returns a string over the batch's buffer; copy it.
			row[col] = strings.Clone(a.Value(i))
		case *array.Binary:
			row[col] = bytes.Clone(a.Value(i))
		case *array.Timestamp:
			row[col] = a.Value(i)
		default:
			return nil, fmt.Errorf("bridge: unsupported column type %s", arr.DataType())
		}
	}
	return row, nil
}

// appendRow writes one Row into the builder's column builders.
func appendRow(b *array.RecordBuilder, schema *arrow.Schema, row Row) error {
	if len(row) != schema.NumFields() {
		return fmt.Errorf("bridge: row has %d values, schema has %d fields", len(row), schema.NumFields())
	}
	for col, val := range row {
		fb := b.Field(col)
		if val == nil {
			fb.AppendNull()
			continue
		}
		if err := appendValue(fb, val); err != nil {
			return fmt.Errorf("bridge: column %q: %w", schema.Field(col).Name, err)
		}
	}
	return nil
}

func appendValue(fb array.Builder, val any) error {
	switch b := fb.(type) {
	case *array.Int8Builder:
		v, ok := val.(int8)
		if !ok {
			return typeMismatch(val, "int8")
		}
		b.Append(v)
	case *array.Int16Builder:
		v, ok := val.(int16)
		if !ok {
			return typeMismatch(val, "int16")
		}
		b.Append(v)
	case *array.Int32Builder:
		v, ok := val.(int32)
		if !ok {
			return typeMismatch(val, "int32")
		}
		b.Append(v)
	case *array.Int64Builder:
		v, ok := val.(int64)
		if !ok {
			return typeMismatch(val, "int64")
		}
		b.Append(v)
	case *array.Float32Builder:
		v, ok := val.(float32)
		if !ok {
			return typeMismatch(val, "float32")
		}
		b.Append(v)
	case *array.Float64Builder:
		v, ok := val.(float64)
		if !ok {
			return typeMismatch(val, "float64")
		}
		b.Append(v)
	case *array.BooleanBuilder:
		v, ok := val.(bool)
		if !ok {
			return typeMismatch(val, "bool")
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := val.(string)
		if !ok {
			return typeMismatch(val, "string")
		}
		b.Append(v)
	case *array.BinaryBuilder:
		v, ok := val.([]byte)
		if !ok {
			return typeMismatch(val, "[]byte")
		}
		b.Append(v)
	case *array.TimestampBuilder:
		switch v := val.(type) {
		case arrow.Timestamp:
			b.Append(v)
		case int64:
			b.Append(arrow.Timestamp(v))
		default:
			return typeMismatch(val, "timestamp")
		}
	default:
		return fmt.Errorf("unsupported builder type %T", fb)
	}
	return nil
}

func typeMismatch(val any, want string) error {
	return fmt.Errorf("value %T does not fit %s column", val, want)
}
