// Package exporter exposes a running load test over HTTP: Prometheus
// metrics on /metrics and the live engine status as JSON on /status.
package exporter

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
)

// MetricPrefix is prepended to every exported metric name.
const MetricPrefix = "volley_"

// Source is what the exporter reads. *engine.Engine satisfies it.
type Source interface {
	Status() *engine.Status
	Metrics() *metrics.Engine
}

var (
	runInfoDesc = prometheus.NewDesc(
		MetricPrefix+"run_info",
		"Identifies the run; always 1",
		[]string{"run_id", "name"},
		nil,
	)
	runProgressDesc = prometheus.NewDesc(
		MetricPrefix+"run_progress_ratio",
		"Fraction of the scheduled run that has elapsed",
		nil,
		nil,
	)
	runElapsedDesc = prometheus.NewDesc(
		MetricPrefix+"run_elapsed_seconds",
		"Time since the run started",
		nil,
		nil,
	)
	requestsDesc = prometheus.NewDesc(
		MetricPrefix+"http_reqs_total",
		"HTTP requests issued",
		nil,
		nil,
	)
	failedDesc = prometheus.NewDesc(
		MetricPrefix+"http_req_failed_total",
		"HTTP requests whose status was not expected or that got no response",
		nil,
		nil,
	)
	responsesDesc = prometheus.NewDesc(
		MetricPrefix+"http_responses_total",
		"HTTP responses by status code; status 0 counts transport errors",
		[]string{"status"},
		nil,
	)
	durationDesc = prometheus.NewDesc(
		MetricPrefix+"http_req_duration_seconds",
		"HTTP request duration over the whole run",
		nil,
		nil,
	)
	bytesDesc = prometheus.NewDesc(
		MetricPrefix+"data_received_bytes_total",
		"Response bytes received",
		nil,
		nil,
	)
	iterationsDesc = prometheus.NewDesc(
		MetricPrefix+"iterations_total",
		"Completed iterations by scenario",
		[]string{"scenario"},
		nil,
	)
	droppedDesc = prometheus.NewDesc(
		MetricPrefix+"dropped_iterations_total",
		"Iterations an arrival-rate scenario could not start, by scenario",
		[]string{"scenario"},
		nil,
	)
	vusDesc = prometheus.NewDesc(
		MetricPrefix+"vus",
		"Active virtual users by scenario",
		[]string{"scenario"},
		nil,
	)
	vusMaxDesc = prometheus.NewDesc(
		MetricPrefix+"vus_max",
		"Peak number of virtual users allocated",
		nil,
		nil,
	)
	scenarioProgressDesc = prometheus.NewDesc(
		MetricPrefix+"scenario_progress_ratio",
		"Fraction of a scenario's schedule that has elapsed",
		[]string{"scenario", "executor"},
		nil,
	)
	checksDesc = prometheus.NewDesc(
		MetricPrefix+"checks_total",
		"Check outcomes by check name and result",
		[]string{"check", "result"},
		nil,
	)
)

// Collector turns engine state into Prometheus metrics at scrape time.
type Collector struct {
	src Source
}

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		runInfoDesc, runProgressDesc, runElapsedDesc,
		requestsDesc, failedDesc, responsesDesc, durationDesc, bytesDesc,
		iterationsDesc, droppedDesc, vusDesc, vusMaxDesc,
		scenarioProgressDesc, checksDesc,
	} {
		desc <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	m := c.src.Metrics()
	snap := m.GetSnapshot()

	ch <- prometheus.MustNewConstMetric(runInfoDesc, prometheus.GaugeValue, 1, st.RunID, st.Name)
	ch <- prometheus.MustNewConstMetric(runProgressDesc, prometheus.GaugeValue, st.Progress)
	ch <- prometheus.MustNewConstMetric(runElapsedDesc, prometheus.GaugeValue, st.Elapsed.Seconds())

	ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(failedDesc, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(snap.TotalBytes))
	ch <- prometheus.MustNewConstMetric(vusMaxDesc, prometheus.GaugeValue, float64(snap.MaxVUs))

	for code, n := range m.GetStatusCounts() {
		ch <- prometheus.MustNewConstMetric(responsesDesc, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}

	l := snap.Latency
	ch <- prometheus.MustNewConstSummary(durationDesc,
		uint64(l.Count),
		l.Mean.Seconds()*float64(l.Count),
		map[float64]float64{
			0.5:  l.P50.Seconds(),
			0.9:  l.P90.Seconds(),
			0.95: l.P95.Seconds(),
			0.99: l.P99.Seconds(),
		},
	)

	for _, sc := range st.Scenarios {
		ch <- prometheus.MustNewConstMetric(scenarioProgressDesc, prometheus.GaugeValue, sc.Progress, sc.Name, sc.Executor)
		if sc.Stats == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(sc.Stats.Iterations), sc.Name)
		ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(sc.Stats.DroppedIterations), sc.Name)
		ch <- prometheus.MustNewConstMetric(vusDesc, prometheus.GaugeValue, float64(sc.Stats.ActiveVUs), sc.Name)
	}

	for _, chk := range m.GetCheckStats() {
		ch <- prometheus.MustNewConstMetric(checksDesc, prometheus.CounterValue, float64(chk.Passes), chk.Name, "pass")
		ch <- prometheus.MustNewConstMetric(checksDesc, prometheus.CounterValue, float64(chk.Fails), chk.Name, "fail")
	}
}

var _ prometheus.Collector = (*Collector)(nil)
