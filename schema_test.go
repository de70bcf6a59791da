package appagent

import (
	"strings"
	"testing"
)

func TestValidateAgainstSchemaAccepts(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"count":   map[string]any{"type": "integer"},
			"score":   map[string]any{"type": "number"},
			"detail": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string"},
				},
				"required": []any{"reason"},
			},
		},
		"required": []any{"success"},
	}
	value := map[string]any{
		"success": true,
		"count":   float64(3),
		"score":   0.75,
		"detail":  map[string]any{"reason": "ok"},
	}
	if err := validateAgainstSchema(schema, value); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateAgainstSchemaMissingRequired(t *testing.T) {
	err := validateAgainstSchema(readinessResultSchema(), map[string]any{"reason": "no flag"})
	if err == nil || !strings.Contains(err.Error(), "success") {
		t.Fatalf("expected missing-field error naming success, got %v", err)
	}
}

func TestValidateAgainstSchemaWrongType(t *testing.T) {
	err := validateAgainstSchema(readinessResultSchema(), map[string]any{"success": "yes"})
	if err == nil {
		t.Fatalf("expected type error for string success")
	}
}

func TestValidateAgainstSchemaIntegerRejectsFraction(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	}
	if err := validateAgainstSchema(schema, map[string]any{"x": float64(540)}); err != nil {
		t.Fatalf("whole float must pass integer check, got %v", err)
	}
	if err := validateAgainstSchema(schema, map[string]any{"x": 540.5}); err == nil {
		t.Fatalf("fractional value must fail integer check")
	}
}

func TestValidateAgainstSchemaAdditionalProperties(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required":             []any{"text"},
		"additionalProperties": false,
	}
	if err := validateAgainstSchema(schema, map[string]any{"text": "hi", "extra": 1}); err == nil {
		t.Fatalf("unexpected property must be rejected")
	}
	if err := validateAgainstSchema(schema, map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateAgainstSchemaEmptySchema(t *testing.T) {
	if err := validateAgainstSchema(nil, map[string]any{"anything": 1}); err != nil {
		t.Fatalf("empty schema accepts everything, got %v", err)
	}
}
