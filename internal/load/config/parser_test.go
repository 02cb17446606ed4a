package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "padded", input: " 35s ", expected: 35 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing junk", input: "30x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

const orderedYAML = `
name: ordered
workload:
  requests:
    - url: "{{baseUrl}}/a"
scenarios:
  zulu:
    executor: constant-vus
    vus: 1
    duration: 1s
  alpha:
    executor: constant-vus
    vus: 1
    duration: 1s
    startTime: 5s
  mike:
    executor: constant-arrival-rate
    rate: 5
    duration: 1s
thresholds:
  http_req_failed: ["rate<0.05"]
  http_req_duration{endpoint:a}:
    - p(95)<800
    - threshold: avg<200
      abortOnFail: true
      delayAbortEval: 10s
`

func TestParseConfig_YAMLPreservesOrder(t *testing.T) {
	cfg, err := ParseConfig([]byte(orderedYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	want := []string{"zulu", "alpha", "mike"}
	if got := cfg.Scenarios.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("scenario order = %v, want %v", got, want)
	}

	alpha, ok := cfg.Scenarios.Get("alpha")
	if !ok || alpha.StartTime != "5s" {
		t.Errorf("alpha = %+v", alpha)
	}

	if len(cfg.Thresholds) != 2 {
		t.Fatalf("thresholds = %d, want 2", len(cfg.Thresholds))
	}
	if cfg.Thresholds[0].Metric != "http_req_failed" || cfg.Thresholds[1].Metric != "http_req_duration{endpoint:a}" {
		t.Errorf("threshold order = %s, %s", cfg.Thresholds[0].Metric, cfg.Thresholds[1].Metric)
	}

	rules := cfg.Thresholds[1].Rules
	if len(rules) != 2 || rules[0].Threshold != "p(95)<800" || !rules[1].AbortOnFail {
		t.Errorf("rules = %+v", rules)
	}

	defs, err := cfg.Thresholds.Definitions()
	if err != nil {
		t.Fatalf("Definitions() error: %v", err)
	}
	if len(defs) != 3 || defs[2].DelayAbortEval != 10*time.Second {
		t.Errorf("definitions = %+v", defs)
	}
}

const orderedJSON = `{
  "name": "ordered",
  "workload": {"requests": [{"url": "{{baseUrl}}/a", "expectedStatuses": [200, "400-404"]}]},
  "scenarios": {
    "zulu": {"executor": "constant-vus", "vus": 1, "duration": "1s"},
    "alpha": {"executor": "constant-vus", "vus": 1, "duration": "1s"}
  },
  "thresholds": {
    "http_req_failed": ["rate<0.05", {"threshold": "rate<0.5", "abortOnFail": true}]
  },
  "settings": {"timeout": "5s"}
}`

func TestParseConfig_JSON(t *testing.T) {
	cfg, err := ParseConfig([]byte(orderedJSON), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	if got := cfg.Scenarios.Names(); !reflect.DeepEqual(got, []string{"zulu", "alpha"}) {
		t.Errorf("scenario order = %v", got)
	}
	if cfg.Settings.Timeout.GetDuration(0) != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Settings.Timeout)
	}

	rules := cfg.Thresholds[0].Rules
	if len(rules) != 2 || rules[0].Threshold != "rate<0.05" || !rules[1].AbortOnFail {
		t.Errorf("rules = %+v", rules)
	}

	statuses := cfg.Workload.Requests[0].ExpectedStatuses
	if !reflect.DeepEqual(statuses, []StatusSpec{"200", "400-404"}) {
		t.Errorf("expectedStatuses = %v", statuses)
	}
}

func TestParseConfig_DuplicateScenario(t *testing.T) {
	data := `
scenarios:
  smoke:
    executor: constant-vus
  smoke:
    executor: ramping-vus
`
	if _, err := ParseConfig([]byte(data), "dup.yaml"); err == nil {
		t.Error("expected error for duplicate scenario name")
	}

	jsonData := `{"scenarios": {"smoke": {}, "smoke": {}}}`
	if _, err := ParseConfig([]byte(jsonData), "dup.json"); err == nil {
		t.Error("expected error for duplicate scenario name in JSON")
	}
}

func TestParseConfig_ScenariosMustBeMapping(t *testing.T) {
	if _, err := ParseConfig([]byte("scenarios: [a, b]"), "x.yml"); err == nil {
		t.Error("expected error when scenarios is a list")
	}
	if _, err := ParseConfig([]byte(`{"scenarios": []}`), "x.json"); err == nil {
		t.Error("expected error when scenarios is an array")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(orderedYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Name != "ordered" {
		t.Errorf("Name = %q", cfg.Name)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(orderedYAML), "test.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(cfg)

	if cfg.Settings.Timeout.GetDuration(0) != DefaultTimeout {
		t.Errorf("Timeout = %v", cfg.Settings.Timeout)
	}
	if cfg.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", cfg.Settings.UserAgent)
	}

	req := cfg.Workload.Requests[0]
	if req.Method != "GET" || req.Name != "{{baseUrl}}/a" {
		t.Errorf("request defaults = %+v", req)
	}

	zulu, _ := cfg.Scenarios.Get("zulu")
	if zulu.GracefulStop != "30s" || zulu.StartTime != "0s" {
		t.Errorf("zulu defaults = %+v", zulu)
	}
	if zulu.Workload != cfg.Workload {
		t.Error("scenario should inherit the top-level workload")
	}

	mike, _ := cfg.Scenarios.Get("mike")
	if mike.TimeUnit != "1s" || mike.PreAllocatedVUs != 1 || mike.MaxVUs != 1 {
		t.Errorf("arrival-rate defaults = %+v", mike)
	}
}

func TestApplyDefaults_MaxVUsFollowsPreAllocated(t *testing.T) {
	cfg := &TestConfig{Scenarios: Scenarios{
		{Name: "a", Executor: "ramping-arrival-rate", PreAllocatedVUs: 60},
		{Name: "b", Executor: "ramping-vus"},
	}}
	ApplyDefaults(cfg)

	if cfg.Scenarios[0].MaxVUs != 60 {
		t.Errorf("MaxVUs = %d, want 60", cfg.Scenarios[0].MaxVUs)
	}
	if cfg.Scenarios[1].GracefulRampDown != "30s" {
		t.Errorf("GracefulRampDown = %q, want 30s", cfg.Scenarios[1].GracefulRampDown)
	}
}

func TestResolveVariables(t *testing.T) {
	globals := map[string]string{"baseUrl": "http://a", "id": "1"}
	iteration := map[string]string{"id": "500"}

	tests := []struct {
		in   string
		want string
	}{
		{"{{baseUrl}}/product/{{id}}/similar", "http://a/product/500/similar"},
		{"{{ baseUrl }}", "http://a"},
		{"{{unknown}}/x", "{{unknown}}/x"},
		{"no placeholders", "no placeholders"},
		{"{{unterminated", "{{unterminated"},
	}
	for _, tt := range tests {
		if got := ResolveVariables(tt.in, globals, iteration); got != tt.want {
			t.Errorf("ResolveVariables(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStatusRanges(t *testing.T) {
	ranges, err := ParseStatusRanges(nil)
	if err != nil || !reflect.DeepEqual(ranges, DefaultExpectedStatuses) {
		t.Errorf("default ranges = %v, %v", ranges, err)
	}

	ranges, err = ParseStatusRanges([]StatusSpec{"200", "400-404"})
	if err != nil {
		t.Fatalf("ParseStatusRanges() error: %v", err)
	}
	want := []StatusRange{{200, 200}, {400, 404}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("ranges = %v, want %v", ranges, want)
	}
	if !ranges[1].Contains(404) || ranges[1].Contains(405) {
		t.Error("range 400-404 membership is wrong")
	}

	for _, bad := range []StatusSpec{"abc", "99", "500-400", "200-"} {
		if _, err := ParseStatusRanges([]StatusSpec{bad}); err == nil {
			t.Errorf("ParseStatusRanges(%q) expected error", bad)
		}
	}
}
