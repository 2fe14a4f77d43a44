package engine

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
)

func TestParsePlanGenerate(t *testing.T) {
	plan, err := ParsePlan([]byte(`{
		"generate": {
			"fields": [
				{"name": "id", "type": "int64"},
				{"name": "name", "type": "string", "nullable": true}
			],
			"rows": 100
		},
		"batch_rows": 10
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if plan.Generate == nil || plan.Generate.Rows != 100 {
		t.Fatalf("unexpected generate spec: %+v", plan.Generate)
	}

	schema, err := plan.Generate.ArrowSchema()
	if err != nil {
		t.Fatal(err)
	}
	if schema.NumFields() != 2 {
		t.Fatalf("expected 2 fields, got %d", schema.NumFields())
	}
	if schema.Field(0).Type.ID() != arrow.INT64 {
		t.Errorf("expected int64 first field, got %s", schema.Field(0).Type)
	}
	if !schema.Field(1).Nullable {
		t.Error("expected second field nullable")
	}
}

func TestParsePlanValidatesSQL(t *testing.T) {
	if _, err := ParsePlan([]byte(`{"sql": "SELECT id FROM input WHERE id > 10"}`)); err != nil {
		t.Fatalf("valid sql rejected: %v", err)
	}
	if _, err := ParsePlan([]byte(`{"sql": "SELEC id FRM"}`)); err == nil {
		t.Fatal("expected parse error for malformed sql")
	}
}

func TestParsePlanRejectsEmpty(t *testing.T) {
	if _, err := ParsePlan([]byte(`{}`)); err == nil {
		t.Fatal("expected error for plan without sql or generate")
	}
	if _, err := ParsePlan([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestParsePlanRejectsUnknownType(t *testing.T) {
	_, err := ParsePlan([]byte(`{
		"generate": {"fields": [{"name": "x", "type": "decimal"}], "rows": 1}
	}`))
	if err == nil {
		t.Fatal("expected error for unsupported field type")
	}
}
