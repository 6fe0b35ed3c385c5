package sim

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed scenario.schema.json
var scenarioSchemaJSON string

const scenarioSchemaURL = "popsim://scenario.schema.json"

var scenarioSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString(scenarioSchemaURL, scenarioSchemaJSON)
})

// ScenarioSchema returns the JSON schema every scenario document must satisfy.
func ScenarioSchema() string { return scenarioSchemaJSON }

// checkSchema validates the raw document shape before the typed decode. The
// YAML tree is normalized through JSON so the validator sees json.Number and
// map[string]any only.
func checkSchema(data []byte) error {
	schema, err := scenarioSchema()
	if err != nil {
		return fmt.Errorf("compiling scenario schema: %w", err)
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("parsing scenario: %v", err)}
	}
	if tree == nil {
		tree = map[string]any{}
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("scenario is not a plain mapping: %v", err)}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("normalizing scenario: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			field := strings.TrimPrefix(strings.ReplaceAll(leaf.InstanceLocation, "/", "."), ".")
			return &ConfigurationError{Field: field, Reason: leaf.Message}
		}
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
