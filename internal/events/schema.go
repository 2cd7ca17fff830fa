package events

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/lifecycle_event.json
var lifecycleSchemaJSON []byte

const lifecycleSchemaURL = "lifecycle_event.json"

// ErrSchemaViolation marks a payload that does not match the published
// lifecycle event schema.
var ErrSchemaViolation = errors.New("event does not match lifecycle schema")

var lifecycleSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(lifecycleSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse lifecycle schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	if err := compiler.AddResource(lifecycleSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add lifecycle schema: %w", err)
	}
	return compiler.Compile(lifecycleSchemaURL)
})

// SchemaJSON returns the JSON Schema consumers can use for the topic.
func SchemaJSON() []byte {
	return bytes.Clone(lifecycleSchemaJSON)
}

// ValidatePayload checks an encoded event against the lifecycle schema.
func ValidatePayload(payload []byte) error {
	schema, err := lifecycleSchema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s", ErrSchemaViolation, describeViolation(err))
	}
	return nil
}

// describeViolation reduces a validation error to "$.path: message".
func describeViolation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := "$"
	if len(leaf.InstanceLocation) > 0 {
		path = "$." + strings.Join(leaf.InstanceLocation, ".")
	}
	return path + ": " + strings.TrimSpace(leaf.Error())
}
