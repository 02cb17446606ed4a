// Package check evaluates named assertions against HTTP responses.
//
// Checks are recorded in the checks rate metric. A failing check never
// marks the request itself as failed; that is decided by the request's
// expected statuses.
package check

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/volleyload/volley/pkg/jsonpath"
	"github.com/volleyload/volley/pkg/jsonschema"
)

// Check types.
const (
	TypeStatus     = "status"
	TypeBody       = "body"
	TypeHeader     = "header"
	TypeDuration   = "duration"
	TypeJSONPath   = "jsonPath"
	TypeJSONSchema = "jsonSchema"
)

var validTypes = map[string]bool{
	TypeStatus: true, TypeBody: true, TypeHeader: true,
	TypeDuration: true, TypeJSONPath: true, TypeJSONSchema: true,
}

var validConditions = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"contains": true, "matches": true, "exists": true,
}

// Definition is a check as written in a test file.
type Definition struct {
	// Name identifies the check in results; generated when empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of status, body, header, duration, jsonPath, jsonSchema
	Type string `json:"type" yaml:"type"`

	// In is the acceptance set of a status check
	In []int `json:"in,omitempty" yaml:"in,omitempty"`

	// Condition is the comparison: eq, ne, gt, lt, gte, lte, contains, matches, exists
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value. Duration checks take milliseconds or a Go duration.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name, or a JSONPath into the body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON Schema document for jsonSchema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Response is what a check sees of one request.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration

	// Err is set when no response was received
	Err error
}

// Outcome is the result of evaluating one check.
type Outcome struct {
	Name    string
	Passed  bool
	Message string
}

// Check is a compiled Definition. It is immutable and safe for concurrent use.
type Check struct {
	def    Definition
	in     map[int]bool
	re     *regexp.Regexp
	path   jsonpath.Path
	schema *jsonschema.Schema
	number float64
}

// Name returns the check's display name.
func (c *Check) Name() string { return c.def.Name }

// Compile validates a definition and prepares it for evaluation.
func Compile(def Definition) (*Check, error) {
	if !validTypes[def.Type] {
		if def.Type == "" {
			return nil, fmt.Errorf("check type is required")
		}
		return nil, fmt.Errorf("invalid check type: %s", def.Type)
	}
	if def.Condition != "" && !validConditions[def.Condition] {
		return nil, fmt.Errorf("invalid condition: %s", def.Condition)
	}

	c := &Check{def: def}

	switch def.Type {
	case TypeStatus:
		if len(def.In) == 0 && def.Condition == "" {
			return nil, fmt.Errorf("status check needs either 'in' or a condition")
		}
		if len(def.In) > 0 {
			c.in = make(map[int]bool, len(def.In))
			for _, code := range def.In {
				if code < 100 || code > 599 {
					return nil, fmt.Errorf("status %d is not a valid HTTP status", code)
				}
				c.in[code] = true
			}
		}
	case TypeHeader:
		if def.Path == "" {
			return nil, fmt.Errorf("header check needs the header name in 'path'")
		}
	case TypeJSONPath:
		p, err := jsonpath.Compile(def.Path)
		if err != nil {
			return nil, fmt.Errorf("jsonPath check: %w", err)
		}
		c.path = p
	case TypeJSONSchema:
		if def.Schema == "" {
			return nil, fmt.Errorf("jsonSchema check needs a schema")
		}
		s, err := jsonschema.Compile(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("jsonSchema check: %w", err)
		}
		c.schema = s
	case TypeBody:
		if def.Path != "" {
			p, err := jsonpath.Compile(def.Path)
			if err != nil {
				return nil, fmt.Errorf("body check: %w", err)
			}
			c.path = p
		}
	}

	if def.Type != TypeJSONSchema && len(def.In) == 0 && def.Condition == "" {
		return nil, fmt.Errorf("%s check needs a condition", def.Type)
	}

	switch def.Condition {
	case "matches":
		re, err := regexp.Compile(def.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", def.Value, err)
		}
		c.re = re
	case "gt", "lt", "gte", "lte":
		n, err := parseNumber(def.Type, def.Value)
		if err != nil {
			return nil, err
		}
		c.number = n
	}
	if def.Type == TypeDuration && (def.Condition == "eq" || def.Condition == "ne") {
		n, err := parseNumber(def.Type, def.Value)
		if err != nil {
			return nil, err
		}
		c.number = n
	}

	if c.def.Name == "" {
		c.def.Name = defaultName(def)
	}
	return c, nil
}

// CompileAll compiles definitions in order. Errors name the failing index.
func CompileAll(defs []Definition) ([]*Check, error) {
	checks := make([]*Check, 0, len(defs))
	for i, def := range defs {
		c, err := Compile(def)
		if err != nil {
			return nil, fmt.Errorf("check %d: %w", i, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func parseNumber(typ, s string) (float64, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, nil
	}
	if typ == TypeDuration {
		if d, err := time.ParseDuration(s); err == nil {
			return float64(d) / float64(time.Millisecond), nil
		}
	}
	return 0, fmt.Errorf("%s check: %q is not a number", typ, s)
}

func defaultName(def Definition) string {
	if len(def.In) > 0 {
		codes := append([]int(nil), def.In...)
		sort.Ints(codes)
		parts := make([]string, len(codes))
		for i, c := range codes {
			parts[i] = strconv.Itoa(c)
		}
		return "status in " + strings.Join(parts, "/")
	}

	name := def.Type
	if def.Path != "" {
		name += " " + def.Path
	}
	if def.Condition != "" {
		name += " " + def.Condition
	}
	if def.Value != "" {
		name += " " + def.Value
	}
	return name
}

// Evaluate runs the check against a response.
func (c *Check) Evaluate(resp Response) Outcome {
	out := Outcome{Name: c.def.Name}
	if resp.Err != nil {
		out.Message = "no response: " + resp.Err.Error()
		return out
	}

	out.Passed, out.Message = c.evaluate(resp)
	return out
}

func (c *Check) evaluate(resp Response) (bool, string) {
	switch c.def.Type {
	case TypeStatus:
		if c.in != nil && !c.in[resp.Status] {
			return false, fmt.Sprintf("status %d not in %v", resp.Status, c.def.In)
		}
		if c.def.Condition == "" {
			return true, ""
		}
		return c.compare(strconv.Itoa(resp.Status), true, float64(resp.Status))

	case TypeDuration:
		ms := float64(resp.Duration) / float64(time.Millisecond)
		return c.compare(strconv.FormatFloat(ms, 'f', -1, 64), true, ms)

	case TypeHeader:
		values := resp.Headers.Values(c.def.Path)
		if len(values) == 0 {
			return c.compare("", false, 0)
		}
		return c.compare(values[0], true, 0)

	case TypeBody:
		if c.def.Path == "" {
			return c.compare(string(resp.Body), true, 0)
		}
		return c.lookup(resp.Body)

	case TypeJSONPath:
		return c.lookup(resp.Body)

	case TypeJSONSchema:
		if err := c.schema.Validate(resp.Body); err != nil {
			return false, err.Error()
		}
		return true, ""
	}
	return false, "unknown check type " + c.def.Type
}

func (c *Check) lookup(body []byte) (bool, string) {
	r, ok := c.path.Lookup(body)
	if !ok {
		return c.compare("", false, 0)
	}
	return c.compare(r.String(), true, r.Float())
}

// compare applies the condition to an actual value. present is false when
// the value does not exist at all (missing header or JSON path).
func (c *Check) compare(actual string, present bool, num float64) (bool, string) {
	expected := c.def.Value

	if c.def.Condition == "exists" {
		want := expected == "" || expected == "true"
		if present == want {
			return true, ""
		}
		return false, fmt.Sprintf("exists=%v, expected %v", present, want)
	}
	if !present {
		return false, "value not found"
	}

	numeric := c.def.Type == TypeStatus || c.def.Type == TypeDuration
	if !numeric {
		switch c.def.Condition {
		case "gt", "lt", "gte", "lte":
			n, err := strconv.ParseFloat(actual, 64)
			if err != nil {
				return false, fmt.Sprintf("%q is not a number", truncate(actual, 64))
			}
			num = n
		}
	}

	var ok bool
	switch c.def.Condition {
	case "eq":
		if c.def.Type == TypeDuration {
			ok = num == c.number
		} else {
			ok = actual == expected
		}
	case "ne":
		if c.def.Type == TypeDuration {
			ok = num != c.number
		} else {
			ok = actual != expected
		}
	case "gt":
		ok = num > c.number
	case "lt":
		ok = num < c.number
	case "gte":
		ok = num >= c.number
	case "lte":
		ok = num <= c.number
	case "contains":
		ok = strings.Contains(actual, expected)
	case "matches":
		ok = c.re.MatchString(actual)
	}

	if ok {
		return true, ""
	}
	return false, fmt.Sprintf("%s %s %s failed (actual %q)", c.def.Type, c.def.Condition, expected, truncate(actual, 64))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// EvaluateAll runs every check against the response.
func EvaluateAll(checks []*Check, resp Response) []Outcome {
	outcomes := make([]Outcome, len(checks))
	for i, c := range checks {
		outcomes[i] = c.Evaluate(resp)
	}
	return outcomes
}
