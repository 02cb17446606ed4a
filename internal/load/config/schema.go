// Package config provides configuration parsing and validation for load tests.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volleyload/volley/internal/load/check"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Catalog"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	pickers:
//	  sku:
//	    pools:
//	      - weight: 0.9
//	        values: ["a1", "a2"]
//	      - weight: 0.1
//	        values: ["missing"]
//	workload:
//	  requests:
//	    - method: GET
//	      url: "{{baseUrl}}/items/{{sku}}"
//	  sleep: 1s
//	scenarios:
//	  browse:
//	    executor: constant-vus
//	    vus: 10
//	    duration: 30s
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all requests
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Pickers draw a fresh value into a variable of the same name every iteration
	Pickers map[string]*PickerConfig `json:"pickers,omitempty" yaml:"pickers,omitempty"`

	// Workload is the default iteration body for scenarios that do not define their own
	Workload *WorkloadConfig `json:"workload,omitempty" yaml:"workload,omitempty"`

	// Scenarios defines the load profiles to run, in declaration order
	Scenarios Scenarios `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is the default base URL for all requests
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Name is the scenario's key in the scenarios mapping
	Name string `json:"-" yaml:"-"`

	// Executor specifies the load generation strategy
	// Options: "constant-vus", "ramping-vus", "constant-arrival-rate", "ramping-arrival-rate"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the VU count before the first stage (ramping-vus)
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations per TimeUnit (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// StartRate is the rate before the first stage (ramping-arrival-rate)
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// TimeUnit is the period Rate and stage targets are expressed in (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs started up front (arrival-rate executors)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the maximum number of VUs (arrival-rate executors, default PreAllocatedVUs)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// StartTime is the offset from test start at which this scenario begins
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop is how long in-flight iterations may run past the end
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown is how long VUs removed during a ramp-down may finish (ramping-vus)
	GracefulRampDown string `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Pacing controls time between iterations (VU executors)
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Tags are added to every metric sample of this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Workload overrides the top-level workload for this scenario
	Workload *WorkloadConfig `json:"workload,omitempty" yaml:"workload,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate per TimeUnit (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// WorkloadConfig is the body of one iteration.
type WorkloadConfig struct {
	// Requests are executed in order
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// Sleep is the pause at the end of every iteration
	Sleep string `json:"sleep,omitempty" yaml:"sleep,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics); defaults to the URL template
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are added to this request's metric samples
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// ExpectedStatuses decide http_req_failed, e.g. [200, "300-399"]. Default 200-399.
	ExpectedStatuses []StatusSpec `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`

	// Checks are named assertions recorded in the checks metric
	Checks []check.Definition `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract defines variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex is an optional pattern; its first group (or whole match) is stored
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// PickerConfig is a weighted random picker over disjoint pools.
type PickerConfig struct {
	Pools []PoolConfig `json:"pools" yaml:"pools"`
}

// PoolConfig is one weighted pool of a picker.
type PoolConfig struct {
	Weight float64  `json:"weight" yaml:"weight"`
	Values []string `json:"values" yaml:"values"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// NoConnectionReuse gives every VU its own HTTP client and connection pool
	NoConnectionReuse bool `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse,omitempty"`

	// ThresholdInterval is how often thresholds are evaluated during the run (default 2s)
	ThresholdInterval string `json:"thresholdInterval,omitempty" yaml:"thresholdInterval,omitempty"`

	// GracefulStop is the default gracefulStop for scenarios (default 30s)
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StatusSpec is a single status code ("404") or an inclusive range ("200-399").
type StatusSpec string

// UnmarshalJSON accepts both numbers and strings.
func (s *StatusSpec) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = StatusSpec(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected status must be a number or string: %w", err)
	}
	*s = StatusSpec(n.String())
	return nil
}

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min, Max int
}

// Contains reports whether code lies in the range.
func (r StatusRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// DefaultExpectedStatuses is used when a request lists none.
var DefaultExpectedStatuses = []StatusRange{{Min: 200, Max: 399}}

// ParseStatusRanges parses expected status specifications.
func ParseStatusRanges(specs []StatusSpec) ([]StatusRange, error) {
	if len(specs) == 0 {
		return DefaultExpectedStatuses, nil
	}

	ranges := make([]StatusRange, 0, len(specs))
	for _, spec := range specs {
		raw := strings.TrimSpace(string(spec))
		lo, hi, isRange := strings.Cut(raw, "-")

		min, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", raw)
		}
		max := min
		if isRange {
			if max, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid status range %q", raw)
			}
		}
		if min < 100 || max > 599 || min > max {
			return nil, fmt.Errorf("invalid status range %q", raw)
		}
		ranges = append(ranges, StatusRange{Min: min, Max: max})
	}
	return ranges, nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
