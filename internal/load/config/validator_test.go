package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/volleyload/volley/internal/load/check"
)

func validConfig() *TestConfig {
	cfg := &TestConfig{
		Name: "valid",
		Workload: &WorkloadConfig{
			Requests: []RequestConfig{{
				Method: "GET",
				URL:    "{{baseUrl}}/product/{{productId}}/similar",
				Checks: []check.Definition{{Type: check.TypeStatus, In: []int{200, 404, 500}}},
			}},
			Sleep: "100ms",
		},
		Pickers: map[string]*PickerConfig{
			"productId": {Pools: []PoolConfig{
				{Weight: 0.6, Values: []string{"1"}},
				{Weight: 0.4, Values: []string{"500"}},
			}},
		},
		Scenarios: Scenarios{
			{Name: "smoke", Executor: "constant-vus", VUs: 2, Duration: "30s"},
			{Name: "ramp", Executor: "ramping-vus", Stages: []StageConfig{{Duration: "10s", Target: 5}}},
			{Name: "rate", Executor: "constant-arrival-rate", Rate: 20, Duration: "1m", PreAllocatedVUs: 20},
			{Name: "spike", Executor: "ramping-arrival-rate", Stages: []StageConfig{{Duration: "30s", Target: 50}}, PreAllocatedVUs: 10},
		},
		Thresholds: Thresholds{
			{Metric: "http_req_failed", Rules: []ThresholdRule{{Threshold: "rate<0.05"}}},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios[0].VUs = 0
	cfg.Scenarios[1].Stages = nil
	cfg.Scenarios[2].Rate = 0
	cfg.Scenarios[3].MaxVUs = 5
	cfg.Workload.Requests[0].Method = "FETCH"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 5 {
		t.Errorf("got %d errors, want 5:\n%v", len(verrs.Errors), err)
	}

	for _, field := range []string{
		"scenarios.smoke.vus",
		"scenarios.ramp.stages",
		"scenarios.rate.rate",
		"scenarios.spike.preAllocatedVUs",
		"workload.requests[0].method",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s", field)
		}
	}
}

func TestValidate_Cases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TestConfig)
		field  string
	}{
		{"no scenarios", func(c *TestConfig) { c.Scenarios = nil }, "scenarios"},
		{"unknown executor", func(c *TestConfig) { c.Scenarios[0].Executor = "per-vu-iterations" }, "scenarios.smoke.executor"},
		{"bad duration", func(c *TestConfig) { c.Scenarios[0].Duration = "soon" }, "scenarios.smoke.duration"},
		{"negative start", func(c *TestConfig) { c.Scenarios[0].StartTime = "-5s" }, "scenarios.smoke.startTime"},
		{"negative start vus", func(c *TestConfig) { c.Scenarios[1].StartVUs = -1 }, "scenarios.ramp.startVUs"},
		{"negative start rate", func(c *TestConfig) { c.Scenarios[3].StartRate = -1 }, "scenarios.spike.startRate"},
		{"zero time unit", func(c *TestConfig) { c.Scenarios[2].TimeUnit = "0s" }, "scenarios.rate.timeUnit"},
		{"negative stage target", func(c *TestConfig) { c.Scenarios[1].Stages[0].Target = -1 }, "scenarios.ramp.stages[0].target"},
		{"no workload", func(c *TestConfig) {
			c.Workload = nil
			for _, sc := range c.Scenarios {
				sc.Workload = nil
			}
		}, "scenarios.smoke.workload"},
		{"no requests", func(c *TestConfig) { c.Workload.Requests = nil }, "workload.requests"},
		{"missing url", func(c *TestConfig) { c.Workload.Requests[0].URL = "" }, "workload.requests[0].url"},
		{"bad status", func(c *TestConfig) {
			c.Workload.Requests[0].ExpectedStatuses = []StatusSpec{"ok"}
		}, "workload.requests[0].expectedStatuses"},
		{"bad check", func(c *TestConfig) {
			c.Workload.Requests[0].Checks = []check.Definition{{Type: "xml"}}
		}, "workload.requests[0].checks[0]"},
		{"bad extract", func(c *TestConfig) {
			c.Workload.Requests[0].Extract = []ExtractConfig{{Name: "x", Source: "cookie"}}
		}, "workload.requests[0].extract[0].source"},
		{"bad sleep", func(c *TestConfig) { c.Workload.Sleep = "zzz" }, "workload.sleep"},
		{"overlapping picker", func(c *TestConfig) {
			c.Pickers["productId"].Pools[1].Values = []string{"1"}
		}, "pickers.productId"},
		{"bad threshold", func(c *TestConfig) {
			c.Thresholds = Thresholds{{Metric: "http_req_failed", Rules: []ThresholdRule{{Threshold: "p(95)<1"}}}}
		}, "thresholds.http_req_failed"},
		{"unknown threshold metric", func(c *TestConfig) {
			c.Thresholds = Thresholds{{Metric: "latency", Rules: []ThresholdRule{{Threshold: "avg<1"}}}}
		}, "thresholds.latency"},
		{"relative base url", func(c *TestConfig) { c.Settings.BaseURL = "localhost" }, "settings.baseUrl"},
		{"bad threshold interval", func(c *TestConfig) { c.Options.ThresholdInterval = "0s" }, "options.thresholdInterval"},
		{"bad pacing", func(c *TestConfig) {
			c.Scenarios[0].Pacing = &PacingConfig{Type: "random", Min: "2s", Max: "1s"}
		}, "scenarios.smoke.pacing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), "'"+tt.field) {
				t.Errorf("error does not mention field %s:\n%v", tt.field, err)
			}
		})
	}
}

func TestValidate_ScenarioWorkloadOverride(t *testing.T) {
	cfg := validConfig()
	cfg.Scenarios[0].Workload = &WorkloadConfig{Requests: []RequestConfig{{Method: "POST"}}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "scenarios.smoke.workload.requests[0].url") {
		t.Errorf("expected override workload to be validated, got %v", err)
	}
}
