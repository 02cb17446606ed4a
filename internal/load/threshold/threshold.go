// Package threshold evaluates pass/fail conditions against aggregated metrics.
//
// A threshold names a metric, optionally filtered by tags, and an expression
// over one of its aggregations:
//
//	http_req_failed: rate<0.05
//	http_req_duration: p(95)<800
//	http_req_duration{endpoint:similar}: avg < 300ms
//
// Trend values are compared in milliseconds; a duration on the right-hand
// side is converted to milliseconds before comparison.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/volleyload/volley/internal/load/metrics"
)

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|value|p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)|p([0-9]+(?:\.[0-9]+)?))\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`,
)

// Expression is a parsed comparison such as "p(95)<800".
type Expression struct {
	Agg   metrics.Aggregation
	Op    string
	Value float64
	Text  string
}

// ParseExpression parses "<aggregation> <operator> <value>".
func ParseExpression(s string) (Expression, error) {
	m := exprPattern.FindStringSubmatch(s)
	if m == nil {
		return Expression{}, fmt.Errorf("invalid threshold expression %q", s)
	}

	expr := Expression{Op: m[4], Text: strings.TrimSpace(s)}

	switch {
	case m[2] != "" || m[3] != "":
		raw := m[2]
		if raw == "" {
			raw = m[3]
		}
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 || p > 100 {
			return Expression{}, fmt.Errorf("invalid percentile in %q: must be in (0, 100]", s)
		}
		expr.Agg = metrics.Aggregation{Method: "p", Percentile: p}
	default:
		expr.Agg = metrics.Aggregation{Method: m[1]}
	}

	value, err := parseValue(m[5])
	if err != nil {
		return Expression{}, fmt.Errorf("invalid threshold value in %q: %w", s, err)
	}
	expr.Value = value

	return expr, nil
}

func parseValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a number nor a duration", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Holds reports whether v satisfies the expression.
func (e Expression) Holds(v float64) bool {
	switch e.Op {
	case "<":
		return v < e.Value
	case "<=":
		return v <= e.Value
	case ">":
		return v > e.Value
	case ">=":
		return v >= e.Value
	case "==":
		return v == e.Value
	case "!=":
		return v != e.Value
	}
	return false
}

// Selector identifies a metric and an optional tag filter.
type Selector struct {
	Metric string
	Tags   map[string]string
}

// ParseSelector parses "metric" or "metric{key:value,...}".
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)

	open := strings.IndexByte(s, '{')
	if open < 0 {
		if s == "" {
			return Selector{}, fmt.Errorf("empty metric name")
		}
		return Selector{Metric: s}, nil
	}
	if !strings.HasSuffix(s, "}") {
		return Selector{}, fmt.Errorf("metric selector %q: missing closing brace", s)
	}

	sel := Selector{Metric: strings.TrimSpace(s[:open]), Tags: map[string]string{}}
	if sel.Metric == "" {
		return Selector{}, fmt.Errorf("metric selector %q: empty metric name", s)
	}

	body := strings.TrimSpace(s[open+1 : len(s)-1])
	if body == "" {
		return Selector{}, fmt.Errorf("metric selector %q: empty tag filter", s)
	}
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if !ok || k == "" {
			return Selector{}, fmt.Errorf("metric selector %q: tag %q is not key:value", s, strings.TrimSpace(pair))
		}
		sel.Tags[k] = v
	}
	return sel, nil
}

func (s Selector) String() string {
	if len(s.Tags) == 0 {
		return s.Metric
	}
	return s.Metric + "{" + metrics.TagKey(s.Tags) + "}"
}

// Definition is one threshold as written in a test file.
type Definition struct {
	Metric         string
	Expression     string
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Threshold is a compiled definition.
type Threshold struct {
	Selector       Selector
	Expr           Expression
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Compile parses and type-checks every definition. All problems are reported
// together.
func Compile(defs []Definition) ([]Threshold, error) {
	var (
		result []Threshold
		errs   *multierror.Error
	)

	for _, def := range defs {
		sel, err := ParseSelector(def.Metric)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		kind, ok := metrics.LookupMetric(sel.Metric)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("threshold on unknown metric %q", sel.Metric))
			continue
		}
		expr, err := ParseExpression(def.Expression)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", sel, err))
			continue
		}
		if !expr.Agg.ValidFor(kind) {
			errs = multierror.Append(errs, fmt.Errorf("%s: aggregation %s is not valid for a %s metric", sel, expr.Agg, kind))
			continue
		}
		if def.DelayAbortEval < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: delayAbortEval must not be negative", sel))
			continue
		}

		result = append(result, Threshold{
			Selector:       sel,
			Expr:           expr,
			AbortOnFail:    def.AbortOnFail,
			DelayAbortEval: def.DelayAbortEval,
		})
	}

	return result, errs.ErrorOrNil()
}
