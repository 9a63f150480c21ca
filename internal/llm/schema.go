package llm

import (
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

var keyValueSchema = mustCompile(KeyValueJSONSchema())

// KeyValueJSONSchema describes the <response> body of the supplier extraction passes:
// a flat JSON object whose values are scalars, scalar arrays or small objects.
func KeyValueJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"type": []string{"string", "number", "boolean", "null", "array", "object"},
		},
	}
}

// IssueTuplesJSONSchema describes the strict form of the issue extraction response.
func IssueTuplesJSONSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": []string{"string", "number", "boolean", "null"}},
		},
	}
}

func mustCompile(m map[string]any) *jsonschema.Schema {
	s, err := common.CompileSchema(m)
	if err != nil {
		panic(err)
	}
	return s
}
