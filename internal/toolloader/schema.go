package toolloader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled jsonschema.Schema by their raw JSON text, so
// repeated tool selections across turns of the same workflow don't
// recompile identical MCP-advertised schemas (§4.6 "Library cache" is a
// separate, semantic cache; this one is purely mechanical).
var schemaCache sync.Map

// ToFunctionSchema converts a tool's MCP-style input_schema into the
// function-calling schema shape. Unsupported constructs (schemas that don't
// even compile as JSON Schema) are flattened to a permissive catch-all
// object with a textual note, and ok is false so the caller can emit a
// warning event per §4.6.
func ToFunctionSchema(spec ToolSpec) (FunctionSchema, bool) {
	params, ok := compileAndNormalize(spec.Name, spec.InputSchema)
	return FunctionSchema{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  params,
	}, ok
}

func compileAndNormalize(name string, raw map[string]interface{}) (map[string]interface{}, bool) {
	if raw == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, true
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return permissiveFallback(), false
	}

	if _, err := compileSchema(name, encoded); err != nil {
		return permissiveFallback(), false
	}

	// Valid JSON Schema: pass it through as-is. Most MCP tool schemas are
	// already "type: object" with "properties"/"required", which function
	// calling accepts directly.
	return raw, true
}

func compileSchema(name string, encoded []byte) (*jsonschema.Schema, error) {
	key := name + ":" + string(encoded)
	if cached, ok := schemaCache.Load(key); ok {
		if s, ok := cached.(*jsonschema.Schema); ok {
			return s, nil
		}
	}

	compiler := jsonschema.NewCompiler()
	resourceName := fmt.Sprintf("%s.schema.json", name)
	if err := compiler.AddResource(resourceName, bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

func permissiveFallback() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}{},
		"additionalProperties": true,
		"description":          "schema flattened: original input schema was not representable for function calling",
	}
}
