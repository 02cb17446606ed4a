// Package jsonpath resolves simple JSONPath expressions against response bodies.
//
// Only the dotted/bracketed subset is supported ($.a.b, $.items[0].id,
// $['name']); expressions are translated once into gjson paths.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a compiled JSONPath expression.
type Path struct {
	expr  string
	gpath string
}

// Compile translates expr into a reusable path.
func Compile(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, fmt.Errorf("empty JSONPath expression")
	}
	return Path{expr: expr, gpath: toGjson(expr)}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return p.expr }

// Lookup resolves the path in body. The boolean is false when body is not
// valid JSON or the path does not exist.
func (p Path) Lookup(body []byte) (gjson.Result, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	r := gjson.GetBytes(body, p.gpath)
	return r, r.Exists()
}

// Extract resolves expr in body and returns the value as a string. JSON null
// is returned as "null".
func Extract(body []byte, expr string) (string, error) {
	p, err := Compile(expr)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON document")
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid JSON document")
	}

	r, ok := p.Lookup(body)
	if !ok {
		return "", fmt.Errorf("path not found: %s", expr)
	}
	if r.Type == gjson.Null {
		return "null", nil
	}
	return r.String(), nil
}

// toGjson converts $.users[0].name into users.0.name.
func toGjson(expr string) string {
	path := strings.TrimPrefix(expr, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c != '[' {
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			b.WriteString(path[i:])
			break
		}
		key := strings.Trim(path[i+1:i+end], `'"`)
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(key)
		i += end
	}
	return b.String()
}
