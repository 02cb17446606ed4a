package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/threshold"
)

func createSampleTestResult() *engine.TestResult {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &engine.TestResult{
		RunID:     "run-1",
		Name:      "Sample Load Test",
		BaseURL:   "http://localhost:5000",
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Duration:  time.Minute,
		Passed:    true,
		Metrics: &metrics.Snapshot{
			TotalRequests:   1500,
			SuccessRequests: 1450,
			FailedRequests:  50,
			ErrorRate:       50.0 / 1500,
			RPS:             25,
			Latency:         metrics.LatencyStats{P50: 20 * time.Millisecond, P95: 45 * time.Millisecond, Count: 1500},
		},
		TimeSeries: []*metrics.TimeBucket{
			{Timestamp: start.Add(time.Second), IntervalRequests: 25, IntervalRPS: 25, LatencyP95: 40 * time.Millisecond, ActiveVUs: 2, Phase: metrics.PhaseSteady},
			{Timestamp: start.Add(2 * time.Second), IntervalRequests: 26, IntervalRPS: 26, LatencyP95: 45 * time.Millisecond, ActiveVUs: 2, Phase: metrics.PhaseSteady},
		},
		Scenarios: []*engine.ScenarioResult{
			{Name: "smoke", Executor: "constant-vus", Description: "2 VUs for 30s", Duration: 30 * time.Second, MaxVUs: 2, Requests: 700},
			{Name: "spike", Executor: "ramping-arrival-rate", StartOffset: 4 * time.Minute, Skipped: true},
		},
		Requests:      map[string]metrics.LatencyStats{"similar": {Count: 1500, P95: 45 * time.Millisecond}},
		StatusCounts:  map[int]int64{200: 1000, 404: 450, 500: 50},
		Checks:        []metrics.CheckStats{{Name: "status ok/404/500", Passes: 1500}},
		LatencySample: []float64{10, 20, 30, 45, 60},
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p(95)<800", Passed: true, Value: 45},
		},
	}
}

func TestGenerateHTMLString(t *testing.T) {
	html, err := GenerateHTMLString(createSampleTestResult())
	if err != nil {
		t.Fatalf("GenerateHTMLString failed: %v", err)
	}

	expectedContents := []string{
		"<!DOCTYPE html>",
		"<title>Sample Load Test - Load Test Report</title>",
		"PASSED",
		"http://localhost:5000",
		"1,500",
		"P95 Latency",
		"chart.js",
		"rpsChart",
		"latencyChart",
		"vusChart",
		"errorChart",
		"histChart",
		"smoke",
		"skipped",
		"status ok/404/500",
		"p(95)&lt;800",
		"similar",
	}
	for _, expected := range expectedContents {
		if !strings.Contains(html, expected) {
			t.Errorf("HTML does not contain expected content: %s", expected)
		}
	}

	if !strings.Contains(html, `"intervalRPS":25`) {
		t.Error("HTML does not contain time series data")
	}
	if strings.Index(html, ">smoke<") > strings.Index(html, ">spike<") {
		t.Error("scenarios should keep declaration order")
	}
}

func TestGenerateHTMLString_FailedAndAborted(t *testing.T) {
	r := createSampleTestResult()
	r.Passed = false
	r.Aborted = true
	r.AbortReason = "threshold http_req_failed rate<0.05 failed"

	html, err := GenerateHTMLString(r)
	if err != nil {
		t.Fatalf("GenerateHTMLString failed: %v", err)
	}
	if !strings.Contains(html, "ABORTED") || !strings.Contains(html, "Aborted: threshold") {
		t.Error("aborted run should show its reason")
	}
}

func TestGenerateHTMLString_NoMetrics(t *testing.T) {
	r := &engine.TestResult{Name: "empty"}
	if _, err := GenerateHTMLString(r); err != nil {
		t.Fatalf("GenerateHTMLString failed: %v", err)
	}
	if r.Metrics != nil {
		t.Error("rendering must not modify the result")
	}
}

func TestGenerateHTMLStringNilResult(t *testing.T) {
	if _, err := GenerateHTMLString(nil); err == nil {
		t.Error("Expected error for nil result, got nil")
	}
}

func TestGenerateHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "report.html")
	if err := GenerateHTML(createSampleTestResult(), path); err != nil {
		t.Fatalf("GenerateHTML failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	if !strings.Contains(string(content), "Sample Load Test") {
		t.Error("Generated file does not contain test name")
	}
}

func TestConvertTimeSeriesJSON(t *testing.T) {
	got, err := convertTimeSeriesJSON(time.Time{}, nil)
	if err != nil || got != "[]" {
		t.Errorf("empty series = %q, %v", got, err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = convertTimeSeriesJSON(start, []*metrics.TimeBucket{
		{Timestamp: start.Add(3 * time.Second), LatencyP95: 1500 * time.Microsecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `"offset":3`) || !strings.Contains(got, `"latencyP95":1.5`) {
		t.Errorf("unexpected point: %s", got)
	}
}

func TestStatusRows(t *testing.T) {
	rows := statusRows(map[int]int64{500: 1, 200: 3})
	if len(rows) != 2 || rows[0].Code != 200 || rows[1].Code != 500 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Percent != 75 {
		t.Errorf("200 share = %v, want 75", rows[0].Percent)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatLatency(1500 * time.Microsecond); got != "1.50ms" {
		t.Errorf("formatLatency = %q", got)
	}
	if got := formatDuration(90 * time.Second); got != "1m 30s" {
		t.Errorf("formatDuration = %q", got)
	}
	if got := formatBytes(2048); got != "2.00 KB" {
		t.Errorf("formatBytes = %q", got)
	}
	if got := statusClass(404); got != "warn" {
		t.Errorf("statusClass(404) = %q", got)
	}
	if got := statusClass(0); got != "fail" {
		t.Errorf("statusClass(0) = %q", got)
	}
}

func TestSampleResult(t *testing.T) {
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := SampleResult(end)

	if len(r.TimeSeries) != 330 || !r.TimeSeries[len(r.TimeSeries)-1].Timestamp.Equal(end) {
		t.Fatalf("time series = %d buckets ending %v", len(r.TimeSeries), r.TimeSeries[len(r.TimeSeries)-1].Timestamp)
	}
	if r.Metrics.TotalRequests != r.StatusCounts[200]+r.StatusCounts[404]+r.StatusCounts[500] {
		t.Errorf("status counts do not add up to %d: %v", r.Metrics.TotalRequests, r.StatusCounts)
	}
	if r.Metrics.DroppedIterations == 0 || r.Scenarios[3].DroppedIterations != r.Metrics.DroppedIterations {
		t.Errorf("dropped iterations = %d, spike = %d", r.Metrics.DroppedIterations, r.Scenarios[3].DroppedIterations)
	}
	for i := 1; i < len(r.Phases); i++ {
		if r.Phases[i].Timestamp.Before(r.Phases[i-1].Timestamp) {
			t.Fatalf("phase %d out of order", i)
		}
	}

	html, err := GenerateHTMLString(r)
	if err != nil {
		t.Fatalf("GenerateHTMLString() error: %v", err)
	}
	for _, want := range []string{"similar-products", "error_mix", "ramping-arrival-rate", "status ok/404/500", "p(95)&lt;800"} {
		if !strings.Contains(html, want) {
			t.Errorf("report is missing %q", want)
		}
	}
}
