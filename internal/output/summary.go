package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aybabtme/uniplot/histogram"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
)

// histogramBins is the number of buckets of the summary latency histogram.
const histogramBins = 10

// Summary renders the end-of-test summary.
func Summary(result *engine.TestResult, colors *ColorScheme) string {
	if colors == nil {
		colors = NoColorScheme()
	}
	var sb strings.Builder
	s := &summaryWriter{sb: &sb, colors: colors}

	s.banner(result)
	s.overview(result)
	s.scenarios(result)
	s.latency(result)
	s.statusCodes(result)
	s.checks(result)
	s.thresholds(result)
	s.errors(result)

	return sb.String()
}

type summaryWriter struct {
	sb     *strings.Builder
	colors *ColorScheme
}

func (s *summaryWriter) line(format string, args ...interface{}) {
	s.sb.WriteString(printer.Sprintf(format, args...))
	s.sb.WriteByte('\n')
}

func (s *summaryWriter) heading(title string) {
	s.line("%s", s.colors.Title.Sprint(title))
}

func (s *summaryWriter) banner(r *engine.TestResult) {
	status := s.colors.Pass.Sprint("PASSED ✓")
	switch {
	case r.Aborted:
		status = s.colors.Fail.Sprint("ABORTED ✗")
	case !r.Passed:
		status = s.colors.Fail.Sprint("FAILED ✗")
	}
	if r.Interrupted {
		status += s.colors.Warn.Sprint(" (interrupted)")
	}

	rule := s.colors.Rule.Sprint(strings.Repeat(boxHorizontal, 64))
	s.line("")
	s.line("%s", rule)
	s.line("%s - %s", s.colors.Title.Sprint(r.Name), status)
	s.line("%s", rule)
	s.line("")
}

func (s *summaryWriter) overview(r *engine.TestResult) {
	s.line("Run ID:        %s", r.RunID)
	s.line("Target:        %s", s.colors.Value.Sprint(r.BaseURL))
	s.line("Duration:      %s", s.colors.Value.Sprint(formatDuration(r.Duration)))

	m := r.Metrics
	if m == nil {
		s.line("")
		return
	}

	s.line("Requests:      %s (%.1f/s)", s.colors.Value.Sprint(formatNumber(m.TotalRequests)), m.RPS)
	errColor := s.colors.ErrorRate(m.ErrorRate)
	s.line("Failed:        %s (%s)", errColor.Sprint(formatNumber(m.FailedRequests)), errColor.Sprintf("%.2f%%", m.ErrorRate*100))
	s.line("Iterations:    %s, dropped %s", formatNumber(m.Iterations), formatNumber(m.DroppedIterations))
	s.line("Peak VUs:      %d", m.MaxVUs)
	s.line("Received:      %s", formatBytes(m.TotalBytes))
	if t := r.Throughput; t != nil {
		s.line("Throughput:    mean %.1f/s, median %.1f/s, p90 %.1f/s, max %.1f/s (cv %.2f)",
			t.Mean, t.Median, t.P90, t.Max, t.CV)
	}
	s.line("")
}

func (s *summaryWriter) scenarios(r *engine.TestResult) {
	if len(r.Scenarios) == 0 {
		return
	}
	s.heading("Scenarios:")
	s.line("  %-14s %-22s %8s %10s %10s %8s %8s %10s %10s",
		"NAME", "EXECUTOR", "START", "REQS", "ITERS", "DROPPED", "FAILED", "AVG", "P95")
	for _, sc := range r.Scenarios {
		if sc.Skipped {
			s.line("  %-14s %-22s %8s %s", sc.Name, sc.Executor, formatDuration(sc.StartOffset), s.colors.Dim.Sprint("skipped"))
			continue
		}
		s.line("  %-14s %-22s %8s %10d %10d %8d %7.1f%% %10s %10s",
			sc.Name, sc.Executor, formatDuration(sc.StartOffset),
			sc.Requests, sc.Iterations, sc.DroppedIterations, sc.ErrorRate()*100,
			formatDurationShort(sc.Latency.Mean), formatDurationShort(sc.Latency.P95))
	}
	s.line("")
}

func (s *summaryWriter) latency(r *engine.TestResult) {
	if r.Metrics == nil || r.Metrics.Latency.Count == 0 {
		return
	}
	l := r.Metrics.Latency
	s.heading("Latency Distribution:")
	s.line("  Min: %-9s Avg: %-9s StdDev: %s", formatDurationShort(l.Min), formatDurationShort(l.Mean), formatDurationShort(l.StdDev))
	s.line("  P50: %-9s P90: %-9s P95: %-9s P99: %-9s Max: %s",
		formatDurationShort(l.P50), formatDurationShort(l.P90), formatDurationShort(l.P95),
		formatDurationShort(l.P99), formatDurationShort(l.Max))

	if h := LatencyHistogram(r.LatencySample); h != "" {
		s.line("")
		for _, row := range strings.Split(strings.TrimRight(h, "\n"), "\n") {
			s.line("  %s", row)
		}
	}
	s.line("")
}

// LatencyHistogram draws a text histogram of latencies given in milliseconds.
func LatencyHistogram(samples []float64) string {
	if len(samples) == 0 {
		return ""
	}
	var buf bytes.Buffer
	hist := histogram.Hist(histogramBins, samples)
	err := histogram.Fprintf(&buf, hist, histogram.Linear(30), func(v float64) string {
		return formatDurationShort(time.Duration(v * float64(time.Millisecond)))
	})
	if err != nil {
		return ""
	}
	return buf.String()
}

func (s *summaryWriter) statusCodes(r *engine.TestResult) {
	if len(r.StatusCounts) == 0 {
		return
	}
	var total int64
	for _, n := range r.StatusCounts {
		total += n
	}

	s.heading("Status Codes:")
	for _, code := range metrics.StatusCodes(r.StatusCounts) {
		label := fmt.Sprintf("%d", code)
		if code == 0 {
			label = "error"
		}
		n := r.StatusCounts[code]
		s.line("  %-6s %10d  %6.2f%%", label, n, float64(n)*100/float64(total))
	}
	s.line("")
}

func (s *summaryWriter) checks(r *engine.TestResult) {
	if len(r.Checks) == 0 {
		return
	}
	s.heading("Checks:")
	for _, c := range r.Checks {
		icon := s.colors.Pass.Sprint("✓")
		if c.Fails > 0 {
			icon = s.colors.Fail.Sprint("✗")
		}
		s.line("  %s %-40s %6.2f%%  %d ✓ / %d ✗", icon, c.Name, c.Rate()*100, c.Passes, c.Fails)
	}
	s.line("")
}

func (s *summaryWriter) thresholds(r *engine.TestResult) {
	if len(r.Thresholds) == 0 {
		return
	}
	s.heading("Thresholds:")
	for _, t := range r.Thresholds {
		icon := s.colors.Pass.Sprint("✓")
		if !t.Passed {
			icon = s.colors.Fail.Sprint("✗")
		}
		var note string
		if t.Message != "" {
			note = " " + s.colors.Warn.Sprint(t.Message)
		}
		s.line("  %s %s %s (actual: %s)%s", icon, t.Metric, t.Expression, fmt.Sprintf("%.4g", t.Value), note)
	}
	s.line("")
}

func (s *summaryWriter) errors(r *engine.TestResult) {
	if r.AbortReason != "" {
		s.line("%s %s", s.colors.Fail.Sprint("Aborted:"), r.AbortReason)
	}
	for _, sc := range r.Scenarios {
		if sc.Error != "" {
			s.line("%s scenario %s: %s", s.colors.Fail.Sprint("Error:"), sc.Name, sc.Error)
		}
	}
	if r.AbortReason != "" || r.Error != "" {
		s.line("")
	}
}
