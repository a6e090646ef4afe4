package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validator holds the compiled argument schema for every catalog tool.
// Schemas are compiled once at executor construction.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	for name, raw := range toolSchemas {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
	}
	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(toolSchemas))}
	for name := range toolSchemas {
		schema, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// validate checks args against the tool's schema. Tools without a schema
// pass; dispatch rejects unknown names later.
func (v *validator) validate(name string, args map[string]any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so hand-built argument maps validate the
	// same way decoded wire arguments do.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode %s args: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s args: %w", name, err)
	}
	return nil
}
