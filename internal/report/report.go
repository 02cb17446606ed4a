// Package report renders a self-contained HTML report of a load test run.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/aybabtme/uniplot/histogram"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
)

// histogramBins is the number of bars of the latency distribution chart.
const histogramBins = 20

// ReportData contains all data needed to render the HTML report.
type ReportData struct {
	*engine.TestResult
	TimeSeriesJSON template.JS
	HistogramJSON  template.JS
	StatusCodes    []StatusRow
}

// StatusRow is one line of the status code table.
type StatusRow struct {
	Code    int
	Count   int64
	Percent float64
}

// TimeSeriesPoint represents a single point in the time series for JSON export.
type TimeSeriesPoint struct {
	Offset            float64 `json:"offset"`
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalDropped   int64   `json:"intervalDropped"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`
	LatencyP50        float64 `json:"latencyP50"`
	LatencyP95        float64 `json:"latencyP95"`
	LatencyP99        float64 `json:"latencyP99"`
	ActiveVUs         int     `json:"activeVUs"`
	Phase             string  `json:"phase"`
}

// HistogramBar is one bucket of the latency distribution, bounds in milliseconds.
type HistogramBar struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// GenerateHTML generates an HTML report from test results and writes it to a file.
func GenerateHTML(result *engine.TestResult, outputPath string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}

	return nil
}

// GenerateHTMLString generates an HTML report from test results and returns it as a string.
func GenerateHTMLString(result *engine.TestResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	timeSeriesJSON, err := convertTimeSeriesJSON(result.StartTime, result.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}
	histogramJSON, err := json.Marshal(latencyHistogram(result.LatencySample))
	if err != nil {
		return "", fmt.Errorf("failed to convert latency histogram: %w", err)
	}

	view := *result
	if view.Metrics == nil {
		view.Metrics = &metrics.Snapshot{}
	}
	data := ReportData{
		TestResult:     &view,
		TimeSeriesJSON: template.JS(timeSeriesJSON),
		HistogramJSON:  template.JS(histogramJSON),
		StatusCodes:    statusRows(result.StatusCounts),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// convertTimeSeriesJSON converts the time series buckets to JSON for chart
// rendering. Latencies are in milliseconds and offsets in seconds from start.
func convertTimeSeriesJSON(start time.Time, timeSeries []*metrics.TimeBucket) (string, error) {
	if len(timeSeries) == 0 {
		return "[]", nil
	}

	points := make([]TimeSeriesPoint, len(timeSeries))
	for i, bucket := range timeSeries {
		offset := float64(i + 1)
		if !start.IsZero() {
			offset = bucket.Timestamp.Sub(start).Seconds()
		}
		points[i] = TimeSeriesPoint{
			Offset:            offset,
			IntervalRequests:  bucket.IntervalRequests,
			IntervalRPS:       bucket.IntervalRPS,
			IntervalDropped:   bucket.IntervalDropped,
			IntervalErrorRate: bucket.IntervalErrorRate,
			LatencyP50:        millis(bucket.LatencyP50),
			LatencyP95:        millis(bucket.LatencyP95),
			LatencyP99:        millis(bucket.LatencyP99),
			ActiveVUs:         bucket.ActiveVUs,
			Phase:             string(bucket.Phase),
		}
	}

	jsonBytes, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}

	return string(jsonBytes), nil
}

func latencyHistogram(samples []float64) []HistogramBar {
	hist := histogram.Hist(histogramBins, samples)
	bars := make([]HistogramBar, 0, len(hist.Buckets))
	for _, b := range hist.Buckets {
		bars = append(bars, HistogramBar{Min: b.Min, Max: b.Max, Count: b.Count})
	}
	return bars
}

func statusRows(counts map[int]int64) []StatusRow {
	var total int64
	for _, n := range counts {
		total += n
	}
	rows := make([]StatusRow, 0, len(counts))
	for _, code := range metrics.StatusCodes(counts) {
		rows = append(rows, StatusRow{
			Code:    code,
			Count:   counts[code],
			Percent: float64(counts[code]) * 100 / float64(total),
		})
	}
	return rows
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
