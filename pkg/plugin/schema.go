package plugin

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/check_output_schema.json
var checkOutputSchema string

var (
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
	compileSchemaOnce sync.Once
)

// outputSchema compiles the embedded check-output schema once.
func outputSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()

		var schemaDoc any
		if err := json.Unmarshal([]byte(checkOutputSchema), &schemaDoc); err != nil {
			compiledSchemaErr = fmt.Errorf("parsing check output schema: %w", err)
			return
		}

		const schemaURL = "nixhound:///check_output_schema.json"
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			compiledSchemaErr = fmt.Errorf("adding check output schema resource: %w", err)
			return
		}

		compiledSchema, compiledSchemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// validateOutput checks a plugin's decoded stdout against the protocol
// schema. Shape problems are caught here once instead of being
// discovered field by field downstream.
func validateOutput(payload []byte) error {
	schema, err := outputSchema()
	if err != nil {
		return err
	}

	// The schema library validates the any-decoded form, which also
	// rejects non-JSON output up front.
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("output does not match the check output schema: %w", err)
	}
	return nil
}
