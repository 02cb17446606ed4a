package output

import (
	"strings"
	"testing"
	"time"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/threshold"
)

func sampleResult() *engine.TestResult {
	return &engine.TestResult{
		RunID:     "6f1c1f9e-0000-4000-8000-000000000000",
		Name:      "similar products",
		BaseURL:   "http://localhost:5000",
		StartTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  30 * time.Second,
		Passed:    false,
		Scenarios: []*engine.ScenarioResult{
			{Name: "smoke", Executor: "constant-vus", Duration: 30 * time.Second, Requests: 900, Failed: 360, Iterations: 900,
				Latency: metrics.LatencyStats{Mean: 20 * time.Millisecond, P95: 45 * time.Millisecond}},
			{Name: "spike", Executor: "ramping-arrival-rate", StartOffset: 4 * time.Minute, Skipped: true},
		},
		Metrics: &metrics.Snapshot{
			TotalRequests:   1000,
			SuccessRequests: 600,
			FailedRequests:  400,
			ErrorRate:       0.4,
			RPS:             33.3,
			TotalBytes:      4096,
			Iterations:      1000,
			MaxVUs:          4,
			Latency: metrics.LatencyStats{
				Min: 10 * time.Millisecond, Max: 100 * time.Millisecond, Mean: 30 * time.Millisecond,
				P50: 25 * time.Millisecond, P90: 50 * time.Millisecond, P95: 60 * time.Millisecond,
				P99: 80 * time.Millisecond, Count: 1000,
			},
		},
		Throughput:    &metrics.ThroughputSummary{Mean: 33, Median: 33, P90: 35, Max: 36, StdDev: 1, CV: 0.03},
		LatencySample: []float64{10, 12, 15, 20, 25, 30, 45, 60, 80, 100},
		StatusCounts:  map[int]int64{200: 600, 404: 300, 500: 100},
		Checks:        []metrics.CheckStats{{Name: "status ok/404/500", Passes: 1000}},
		Thresholds: []threshold.Result{
			{Metric: "http_req_failed", Expression: "rate<0.05", Passed: false, Value: 0.4},
			{Metric: "http_req_duration{endpoint:similar}", Expression: "p(95)<800", Passed: true, Value: 60},
		},
	}
}

func TestSummary_Sections(t *testing.T) {
	out := Summary(sampleResult(), nil)

	for _, want := range []string{
		"similar products - FAILED ✗",
		"Run ID:        6f1c1f9e",
		"Requests:      1,000 (33.3/s)",
		"Failed:        400 (40.00%)",
		"Throughput:    mean 33.0/s",
		"Scenarios:",
		"skipped",
		"Latency Distribution:",
		"P95: 60ms",
		"Status Codes:",
		"404",
		"Checks:",
		"✓ status ok/404/500",
		"Thresholds:",
		"✗ http_req_failed rate<0.05 (actual: 0.4)",
		"✓ http_req_duration{endpoint:similar} p(95)<800 (actual: 60)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if strings.Index(out, "smoke") > strings.Index(out, "spike") {
		t.Error("scenarios should keep declaration order")
	}
}

func TestSummary_PassedAndAborted(t *testing.T) {
	r := sampleResult()
	r.Passed = true
	r.Thresholds = nil
	if out := Summary(r, nil); !strings.Contains(out, "PASSED ✓") {
		t.Errorf("expected PASSED banner:\n%s", out)
	}

	r.Passed = false
	r.Aborted = true
	r.AbortReason = "threshold http_req_failed rate<0.05 failed"
	out := Summary(r, nil)
	if !strings.Contains(out, "ABORTED ✗") || !strings.Contains(out, "Aborted: threshold") {
		t.Errorf("expected abort banner and reason:\n%s", out)
	}
}

func TestSummary_NoMetrics(t *testing.T) {
	out := Summary(&engine.TestResult{Name: "empty", Interrupted: true}, nil)
	if !strings.Contains(out, "(interrupted)") {
		t.Errorf("expected interrupted marker:\n%s", out)
	}
	if strings.Contains(out, "Latency Distribution") {
		t.Error("latency section should be omitted without samples")
	}
}

func TestLatencyHistogram(t *testing.T) {
	if LatencyHistogram(nil) != "" {
		t.Error("empty sample should render nothing")
	}

	h := LatencyHistogram([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if rows := strings.Count(h, "\n"); rows != histogramBins {
		t.Errorf("histogram rows = %d, want %d:\n%s", rows, histogramBins, h)
	}
	if !strings.Contains(h, "1ms-") {
		t.Errorf("histogram labels should be latencies:\n%s", h)
	}

	same := LatencyHistogram([]float64{5, 5, 5})
	if rows := strings.Count(same, "\n"); rows != 1 {
		t.Errorf("identical samples should collapse to one bucket, got %d rows", rows)
	}
}
