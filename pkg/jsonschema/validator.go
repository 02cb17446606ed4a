// Package jsonschema validates response bodies against JSON Schema documents.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON Schema. It is safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a schema document.
func Compile(doc string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// Validate checks body against the schema. A body that is not JSON yields a
// plain error; schema violations yield ValidationErrors listing every
// failing location.
func (s *Schema) Validate(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return flatten(verr)
		}
		return ValidationErrors{err}
	}
	return nil
}

func flatten(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	if len(err.Causes) == 0 {
		errs = append(errs, fmt.Errorf("at %q: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, flatten(cause)...)
	}
	return errs
}
