package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const codeFence = "```"

// Element schemas. The array is validated element by element: a bad element
// fails only the signal it belongs to, but is never partially parsed.
var recommendationSchema = mustCompile(`{
	"type": "object",
	"required": ["signal_id", "conviction", "thesis"],
	"properties": {
		"signal_id": {"type": "string", "minLength": 1},
		"conviction": {"type": "integer", "minimum": 0, "maximum": 100},
		"thesis": {"type": "string", "minLength": 1}
	}
}`)

var reviewSchema = mustCompile(`{
	"type": "object",
	"required": ["contract_symbol", "conviction", "thesis_intact"],
	"properties": {
		"contract_symbol": {"type": "string", "minLength": 1},
		"conviction": {"type": "integer", "minimum": 0, "maximum": 100},
		"thesis_intact": {"type": "boolean"},
		"note": {"type": "string"}
	}
}`)

func mustCompile(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("schema.json")
}

// extractArray pulls the JSON array out of a model reply that may be wrapped
// in a code fence or surrounded by prose.
func extractArray(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty model response")
	}
	if start := strings.Index(raw, codeFence); start != -1 {
		rest := raw[start+len(codeFence):]
		if end := strings.Index(rest, codeFence); end != -1 {
			block := rest[:end]
			if idx := strings.Index(block, "\n"); idx != -1 {
				first := strings.TrimSpace(block[:idx])
				if first != "" && !strings.ContainsAny(first, "[{") {
					block = block[idx+1:]
				}
			}
			raw = strings.TrimSpace(block)
		}
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON array in model response")
	}
	arr := raw[start : end+1]
	if !gjson.Valid(arr) {
		return "", fmt.Errorf("model response array is not valid JSON")
	}
	if !gjson.Parse(arr).IsArray() {
		return "", fmt.Errorf("model response root is not an array")
	}
	return arr, nil
}

// validateElement schema-checks one array element.
func validateElement(el gjson.Result, schema *jsonschema.Schema) error {
	var doc any
	if err := json.Unmarshal([]byte(el.Raw), &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("element failed schema validation: %w", err)
	}
	return nil
}
