package jsonshape

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateSchema checks an already-parsed document against a JSON Schema.
// Suites may attach a schema to their expected format; this is a strict
// compliance gate layered on top of ValidateStrict, so failures are
// returned as Results, never panics.
func ValidateSchema(schemaSource string, doc any) Result {
	schema, err := jsonschema.CompileString("suite.schema.json", schemaSource)
	if err != nil {
		return Result{Reason: fmt.Sprintf("invalid schema: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return Result{Reason: fmt.Sprintf("schema violation: %v", err)}
	}
	return Result{OK: true, Value: doc}
}
