package toolloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFunctionSchema_ValidSchemaPassesThrough(t *testing.T) {
	spec := ToolSpec{
		Name:        "fs.read",
		Description: "Read a file",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
	}

	schema, ok := ToFunctionSchema(spec)
	assert.True(t, ok)
	assert.Equal(t, "fs.read", schema.Name)
	assert.Equal(t, spec.InputSchema, schema.Parameters)
}

func TestToFunctionSchema_NilSchemaBecomesEmptyObject(t *testing.T) {
	schema, ok := ToFunctionSchema(ToolSpec{Name: "noop"})
	assert.True(t, ok)
	assert.Equal(t, "object", schema.Parameters["type"])
}

func TestToFunctionSchema_UncompilableSchemaFlattens(t *testing.T) {
	spec := ToolSpec{
		Name: "weird",
		InputSchema: map[string]interface{}{
			// "type" must be a string or array of strings; an integer makes
			// the schema fail compilation and triggers the permissive fallback.
			"type": 42,
		},
	}

	schema, ok := ToFunctionSchema(spec)
	assert.False(t, ok)
	assert.Equal(t, "object", schema.Parameters["type"])
	assert.Equal(t, true, schema.Parameters["additionalProperties"])
	assert.Contains(t, schema.Parameters["description"], "flattened")
}
