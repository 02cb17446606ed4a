package jsonschema

import (
	"errors"
	"strings"
	"testing"
)

const productSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"id": { "type": "string" },
			"price": { "type": "number", "minimum": 0 }
		},
		"required": ["id"]
	}
}`

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile(productSchema)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	tests := []struct {
		name      string
		body      string
		wantValid bool
	}{
		{name: "Valid list", body: `[{"id": "1", "price": 9.99}, {"id": "2"}]`, wantValid: true},
		{name: "Empty list", body: `[]`, wantValid: true},
		{name: "Missing id", body: `[{"price": 1}]`},
		{name: "Negative price", body: `[{"id": "1", "price": -1}]`},
		{name: "Not an array", body: `{"id": "1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate([]byte(tt.body))
			if tt.wantValid && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
			if !tt.wantValid {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) || len(verrs) == 0 {
					t.Errorf("Validate() = %v, want ValidationErrors", err)
				}
			}
		})
	}
}

func TestSchema_ValidateCollectsEveryViolation(t *testing.T) {
	schema, err := Compile(productSchema)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	err = schema.Validate([]byte(`[{"price": -1}, {"id": 3}]`))
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() = %v, want ValidationErrors", err)
	}
	if len(verrs) < 3 {
		t.Errorf("got %d violations, want at least 3: %v", len(verrs), verrs)
	}
	if !strings.Contains(verrs.Error(), "; ") {
		t.Errorf("Error() should join violations, got %q", verrs.Error())
	}
}

func TestSchema_InvalidBody(t *testing.T) {
	schema, err := Compile(`{"type": "object"}`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	err = schema.Validate([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		t.Error("malformed JSON should not be reported as a schema violation")
	}
}

func TestCompile_InvalidSchema(t *testing.T) {
	for _, doc := range []string{`{`, `{"type": 12}`} {
		if _, err := Compile(doc); err == nil {
			t.Errorf("Compile(%q) expected error", doc)
		}
	}
}

func TestSchema_ValidateNumbers(t *testing.T) {
	schema, err := Compile(`{"type": "object", "properties": {"stock": {"type": "integer", "maximum": 9007199254740993}}}`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	tests := []struct {
		body      string
		wantValid bool
	}{
		{body: `{"stock": 3}`, wantValid: true},
		{body: `{"stock": 9007199254740993}`, wantValid: true},
		{body: `{"stock": 3.5}`},
		{body: `{"stock": "3"}`},
	}
	for _, tt := range tests {
		err := schema.Validate([]byte(tt.body))
		if tt.wantValid && err != nil {
			t.Errorf("Validate(%s) unexpected error: %v", tt.body, err)
		}
		if !tt.wantValid && err == nil {
			t.Errorf("Validate(%s) expected a violation", tt.body)
		}
	}
}
