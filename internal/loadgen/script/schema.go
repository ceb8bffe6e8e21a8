package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// forecastSchema describes the body of GET /weatherforecast.
const forecastSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["date", "temperatureC", "temperatureF", "summary"],
		"properties": {
			"date": { "type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$" },
			"temperatureC": { "type": "integer", "minimum": -20, "maximum": 55 },
			"temperatureF": { "type": "integer" },
			"summary": { "type": "string", "minLength": 1 }
		}
	}
}`

// compileSchema compiles a JSON schema document.
func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return compiled, nil
}

// matchesSchema reports whether body is JSON valid against schema.
func matchesSchema(schema *jsonschema.Schema, body []byte) bool {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return schema.Validate(doc) == nil
}
