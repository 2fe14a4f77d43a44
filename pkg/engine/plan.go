package engine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pingcap/tidb/pkg/parser"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Plan is the task definition format understood by the bundled engines. The
// bridge itself never looks inside the plan bytes; this format belongs to
// the engine side of the boundary.
type Plan struct {
	// SQL is the statement the engine executes. Required by the DuckDB
	// engine; ignored by the InProc engine when Generate is set.
	SQL string `json:"sql,omitempty"`

	// Generate describes a synthetic source for the InProc engine.
	Generate *GenerateSpec `json:"generate,omitempty"`

	// BatchRows caps the rows per produced batch. Zero uses the engine default.
	BatchRows int `json:"batch_rows,omitempty"`
}

// GenerateSpec describes a synthetic columnar source.
type GenerateSpec struct {
	Fields []FieldSpec `json:"fields"`
	Rows   int64       `json:"rows"`
}

// FieldSpec is one column of a generated source.
type FieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// ParsePlan deserializes and validates a task plan. SQL statements are
// checked host-side so a malformed plan fails at task start instead of
// inside the native call.
func ParsePlan(data []byte) (*Plan, error) {
	plan := &Plan{}
	if err := json.Unmarshal(data, plan); err != nil {
		return nil, fmt.Errorf("unmarshal task plan: %w", err)
	}
	if plan.SQL == "" && plan.Generate == nil {
		return nil, fmt.Errorf("task plan has neither sql nor generate source")
	}
	if plan.SQL != "" {
		p := parser.New()
		if _, err := p.ParseOneStmt(plan.SQL, "", ""); err != nil {
			return nil, fmt.Errorf("parse plan sql: %w", err)
		}
	}
	if plan.Generate != nil {
		if _, err := plan.Generate.ArrowSchema(); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// LoadPlan reads a serialized task plan from a file path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ArrowSchema builds the Arrow schema for a generated source.
func (g *GenerateSpec) ArrowSchema() (*arrow.Schema, error) {
	if len(g.Fields) == 0 {
		return nil, fmt.Errorf("generate source has no fields")
	}
	fields := make([]arrow.Field, len(g.Fields))
	for i, f := range g.Fields {
		dt, err := fieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

func fieldType(name string) (arrow.DataType, error) {
	switch name {
	case "int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "string":
		return arrow.BinaryTypes.String, nil
	case "binary":
		return arrow.BinaryTypes.Binary, nil
	case "bool":
		return arrow.FixedWidthTypes.Boolean, nil
	case "timestamp_ms":
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	case "timestamp_us":
		return arrow.FixedWidthTypes.Timestamp_us, nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", name)
	}
}
