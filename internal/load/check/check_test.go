package check

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIn_AcceptanceSet(t *testing.T) {
	c, err := Compile(Definition{Name: "status ok/404/500", Type: TypeStatus, In: []int{200, 404, 500}})
	require.NoError(t, err)
	assert.Equal(t, "status ok/404/500", c.Name())

	for _, code := range []int{200, 404, 500} {
		assert.True(t, c.Evaluate(Response{Status: code}).Passed, "status %d", code)
	}
	for _, code := range []int{201, 301, 400, 403, 502, 503} {
		out := c.Evaluate(Response{Status: code})
		assert.False(t, out.Passed, "status %d", code)
		assert.Contains(t, out.Message, "not in")
	}
}

func TestTransportErrorFailsEveryCheck(t *testing.T) {
	checks, err := CompileAll([]Definition{
		{Type: TypeStatus, In: []int{200}},
		{Type: TypeHeader, Path: "X-Trace", Condition: "exists", Value: "false"},
		{Type: TypeDuration, Condition: "lt", Value: "1s"},
	})
	require.NoError(t, err)

	for _, out := range EvaluateAll(checks, Response{Err: errors.New("connection refused")}) {
		assert.False(t, out.Passed, out.Name)
		assert.Contains(t, out.Message, "connection refused")
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"missing type", Definition{}, "type is required"},
		{"bad type", Definition{Type: "xml"}, "invalid check type"},
		{"bad condition", Definition{Type: TypeBody, Condition: "like"}, "invalid condition"},
		{"status without rule", Definition{Type: TypeStatus}, "either 'in'"},
		{"status out of range", Definition{Type: TypeStatus, In: []int{42}}, "not a valid HTTP status"},
		{"header without name", Definition{Type: TypeHeader, Condition: "exists"}, "header name"},
		{"bad regex", Definition{Type: TypeBody, Condition: "matches", Value: "("}, "invalid regex"},
		{"bad number", Definition{Type: TypeDuration, Condition: "lt", Value: "soon"}, "not a number"},
		{"missing condition", Definition{Type: TypeBody}, "needs a condition"},
		{"schema missing", Definition{Type: TypeJSONSchema}, "needs a schema"},
		{"schema invalid", Definition{Type: TypeJSONSchema, Schema: "{"}, "invalid schema"},
		{"empty json path", Definition{Type: TypeJSONPath, Condition: "exists"}, "empty JSONPath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := CompileAll([]Definition{{Type: TypeStatus, In: []int{200}}, {Type: "nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check 1")
}

func TestDefaultNames(t *testing.T) {
	c, err := Compile(Definition{Type: TypeStatus, In: []int{500, 200, 404}})
	require.NoError(t, err)
	assert.Equal(t, "status in 200/404/500", c.Name())

	c, err = Compile(Definition{Type: TypeHeader, Path: "Content-Type", Condition: "contains", Value: "json"})
	require.NoError(t, err)
	assert.Equal(t, "header Content-Type contains json", c.Name())
}

func TestConditions(t *testing.T) {
	body := []byte(`{"items": [{"id": "8", "price": 12.5}], "total": 3, "name": "similar"}`)
	headers := http.Header{"Content-Type": []string{"application/json; charset=utf-8"}}
	resp := Response{Status: 404, Headers: headers, Body: body, Duration: 120 * time.Millisecond}

	tests := []struct {
		name string
		def  Definition
		want bool
	}{
		{"status eq", Definition{Type: TypeStatus, Condition: "eq", Value: "404"}, true},
		{"status ne", Definition{Type: TypeStatus, Condition: "ne", Value: "404"}, false},
		{"status lt", Definition{Type: TypeStatus, Condition: "lt", Value: "500"}, true},
		{"status in and gte", Definition{Type: TypeStatus, In: []int{404}, Condition: "gte", Value: "400"}, true},
		{"duration lt ms", Definition{Type: TypeDuration, Condition: "lt", Value: "200"}, true},
		{"duration lt go", Definition{Type: TypeDuration, Condition: "lt", Value: "100ms"}, false},
		{"duration gte", Definition{Type: TypeDuration, Condition: "gte", Value: "120ms"}, true},
		{"header contains", Definition{Type: TypeHeader, Path: "content-type", Condition: "contains", Value: "json"}, true},
		{"header matches", Definition{Type: TypeHeader, Path: "Content-Type", Condition: "matches", Value: `^application/\w+`}, true},
		{"header eq", Definition{Type: TypeHeader, Path: "Content-Type", Condition: "eq", Value: "text/html"}, false},
		{"header missing", Definition{Type: TypeHeader, Path: "X-Trace", Condition: "exists"}, false},
		{"header absent", Definition{Type: TypeHeader, Path: "X-Trace", Condition: "exists", Value: "false"}, true},
		{"header missing eq", Definition{Type: TypeHeader, Path: "X-Trace", Condition: "eq", Value: ""}, false},
		{"body contains", Definition{Type: TypeBody, Condition: "contains", Value: `"similar"`}, true},
		{"body path", Definition{Type: TypeBody, Path: "$.name", Condition: "eq", Value: "similar"}, true},
		{"json path eq", Definition{Type: TypeJSONPath, Path: "$.items[0].id", Condition: "eq", Value: "8"}, true},
		{"json path gt", Definition{Type: TypeJSONPath, Path: "$.total", Condition: "gt", Value: "2"}, true},
		{"json path lte", Definition{Type: TypeJSONPath, Path: "$.items[0].price", Condition: "lte", Value: "10"}, false},
		{"json path not numeric", Definition{Type: TypeJSONPath, Path: "$.name", Condition: "gt", Value: "1"}, false},
		{"json path exists", Definition{Type: TypeJSONPath, Path: "$.items", Condition: "exists"}, true},
		{"json path missing", Definition{Type: TypeJSONPath, Path: "$.nope", Condition: "exists", Value: "false"}, true},
		{"json path missing eq", Definition{Type: TypeJSONPath, Path: "$.nope", Condition: "eq", Value: "x"}, false},
		{"json schema", Definition{Type: TypeJSONSchema, Schema: `{"type":"object","required":["items"]}`}, true},
		{"json schema fails", Definition{Type: TypeJSONSchema, Schema: `{"type":"array"}`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.def)
			require.NoError(t, err)
			out := c.Evaluate(resp)
			assert.Equal(t, tt.want, out.Passed, out.Message)
			if !out.Passed {
				assert.NotEmpty(t, out.Message)
			}
		})
	}
}

func TestJSONPathOnNonJSONBody(t *testing.T) {
	c, err := Compile(Definition{Type: TypeJSONPath, Path: "$.id", Condition: "exists"})
	require.NoError(t, err)

	out := c.Evaluate(Response{Status: 500, Body: []byte("Internal Server Error")})
	assert.False(t, out.Passed)
}
