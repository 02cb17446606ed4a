package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// MetricType determines how samples of a metric are aggregated.
type MetricType int

const (
	// Counter sums values. Aggregations: count, rate (per second).
	Counter MetricType = iota
	// Gauge keeps the latest value. Aggregations: value, min, max.
	Gauge
	// Rate tracks the fraction of non-zero samples. Aggregation: rate.
	Rate
	// Trend keeps a distribution. Aggregations: avg, min, max, med, p(N), count.
	Trend
)

func (t MetricType) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// Built-in metric names.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"

	HTTPReqConnecting     = "http_req_connecting"
	HTTPReqTLSHandshaking = "http_req_tls_handshaking"
	HTTPReqWaiting        = "http_req_waiting"
	HTTPReqReceiving      = "http_req_receiving"

	DataReceived      = "data_received"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DroppedIterations = "dropped_iterations"
	Checks            = "checks"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

var builtinMetrics = map[string]MetricType{
	HTTPReqs:          Counter,
	HTTPReqDuration:   Trend,
	HTTPReqFailed:     Rate,

	HTTPReqConnecting:     Trend,
	HTTPReqTLSHandshaking: Trend,
	HTTPReqWaiting:        Trend,
	HTTPReqReceiving:      Trend,

	DataReceived:      Counter,
	Iterations:        Counter,
	IterationDuration: Trend,
	DroppedIterations: Counter,
	Checks:            Rate,
	VUs:               Gauge,
	VUsMax:            Gauge,
}

// LookupMetric returns the type of a built-in metric.
func LookupMetric(name string) (MetricType, bool) {
	t, ok := builtinMetrics[name]
	return t, ok
}

// MetricNames returns the built-in metric names in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(builtinMetrics))
	for name := range builtinMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tag keys attached to every request sample.
const (
	TagScenario         = "scenario"
	TagName             = "name"
	TagMethod           = "method"
	TagStatus           = "status"
	TagExpectedResponse = "expected_response"
	TagCheck            = "check"
)

// Tags is a set of key/value labels attached to a sample.
type Tags map[string]string

// Contains reports whether every filter tag is present in t with the same value.
func (t Tags) Contains(filter map[string]string) bool {
	for k, v := range filter {
		if t[k] != v {
			return false
		}
	}
	return true
}

// TagKey renders a tag filter canonically, e.g. "endpoint:similar,method:GET".
func TagKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + tags[k]
	}
	return strings.Join(parts, ",")
}

// trendSink is a mutex-guarded HDR histogram of microsecond values.
// HDR RecordValue is not thread-safe.
type trendSink struct {
	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	min, max int64
}

func newTrendSink(cfg EngineConfig) *trendSink {
	return &trendSink{
		hist: hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
		min:  cfg.HistogramMin,
		max:  cfg.HistogramMax,
	}
}

func (s *trendSink) record(d time.Duration) {
	micros := d.Microseconds()
	if micros < s.min {
		micros = s.min
	}
	if micros > s.max {
		micros = s.max
	}

	s.mu.Lock()
	_ = s.hist.RecordValue(micros)
	s.mu.Unlock()
}

func (s *trendSink) stats() LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return LatencyStats{
		Min:    time.Duration(s.hist.Min()) * time.Microsecond,
		Max:    time.Duration(s.hist.Max()) * time.Microsecond,
		Mean:   time.Duration(s.hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(s.hist.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  s.hist.TotalCount(),
	}
}

func (s *trendSink) percentiles() LatencyPercentiles {
	s.mu.Lock()
	defer s.mu.Unlock()

	return LatencyPercentiles{
		Min: time.Duration(s.hist.Min()) * time.Microsecond,
		Max: time.Duration(s.hist.Max()) * time.Microsecond,
		P50: time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		P90: time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond,
		P95: time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond,
		P99: time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond,
	}
}

// valueMillis returns an aggregation of the trend in milliseconds.
func (s *trendSink) valueMillis(agg Aggregation) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const usPerMs = 1000.0
	switch agg.Method {
	case "avg":
		return s.hist.Mean() / usPerMs, nil
	case "min":
		return float64(s.hist.Min()) / usPerMs, nil
	case "max":
		return float64(s.hist.Max()) / usPerMs, nil
	case "med":
		return float64(s.hist.ValueAtQuantile(50)) / usPerMs, nil
	case "p":
		return float64(s.hist.ValueAtQuantile(agg.Percentile)) / usPerMs, nil
	case "count":
		return float64(s.hist.TotalCount()), nil
	default:
		return 0, fmt.Errorf("aggregation %q is not valid for a trend", agg)
	}
}

func (s *trendSink) reset() {
	s.mu.Lock()
	s.hist.Reset()
	s.mu.Unlock()
}

type counterSink struct {
	sum     atomic.Int64
	samples atomic.Int64
}

func (c *counterSink) add(n int64) {
	c.sum.Add(n)
	c.samples.Add(1)
}

type rateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *rateSink) add(ok bool) {
	r.total.Add(1)
	if ok {
		r.trues.Add(1)
	}
}

func (r *rateSink) rate() float64 {
	total := r.total.Load()
	if total == 0 {
		return 0
	}
	return float64(r.trues.Load()) / float64(total)
}

type gaugeSink struct {
	mu              sync.Mutex
	value, min, max int64
	seen            bool
}

func (g *gaugeSink) set(v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.value = v
	if !g.seen || v < g.min {
		g.min = v
	}
	if !g.seen || v > g.max {
		g.max = v
	}
	g.seen = true
}

func (g *gaugeSink) get() (value, min, max int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value, g.min, g.max
}

// series holds the aggregate of one metric, optionally restricted to a tag filter.
type series struct {
	kind    MetricType
	filter  map[string]string
	trend   *trendSink
	counter counterSink
	rate    rateSink
	gauge   gaugeSink
}

func newSeries(kind MetricType, filter map[string]string, cfg EngineConfig) *series {
	s := &series{kind: kind, filter: filter}
	if kind == Trend {
		s.trend = newTrendSink(cfg)
	}
	return s
}

// samples is the number of values recorded into the series.
func (s *series) samples() int64 {
	switch s.kind {
	case Trend:
		s.trend.mu.Lock()
		defer s.trend.mu.Unlock()
		return s.trend.hist.TotalCount()
	case Counter:
		return s.counter.samples.Load()
	case Rate:
		return s.rate.total.Load()
	case Gauge:
		s.gauge.mu.Lock()
		defer s.gauge.mu.Unlock()
		if s.gauge.seen {
			return 1
		}
	}
	return 0
}

func (s *series) reset() {
	switch s.kind {
	case Trend:
		s.trend.reset()
	case Counter:
		s.counter.sum.Store(0)
		s.counter.samples.Store(0)
	case Rate:
		s.rate.trues.Store(0)
		s.rate.total.Store(0)
	case Gauge:
		s.gauge.mu.Lock()
		s.gauge.value, s.gauge.min, s.gauge.max, s.gauge.seen = 0, 0, 0, false
		s.gauge.mu.Unlock()
	}
}
