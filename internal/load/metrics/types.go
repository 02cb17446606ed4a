package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the state before a scenario starts
	PhaseInit Phase = "init"

	// PhaseRampUp is a stage where load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is a stage at constant load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is a stage where load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseGraceful is the graceful stop window after a scenario's schedule ends
	PhaseGraceful Phase = "graceful-stop"

	// PhaseDone indicates the scenario has completed
	PhaseDone Phase = "done"
)

// phaseRank orders phases when several scenarios overlap. The busiest phase
// wins so that time buckets are never labelled steady during a ramp.
var phaseRank = map[Phase]int{
	PhaseDone:     0,
	PhaseInit:     1,
	PhaseGraceful: 2,
	PhaseSteady:   3,
	PhaseRampDown: 4,
	PhaseRampUp:   5,
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	// TotalRequests is the number of HTTP requests issued
	TotalRequests int64 `json:"totalRequests"`

	// SuccessRequests is the number of responses with an expected status
	SuccessRequests int64 `json:"successRequests"`

	// FailedRequests counts unexpected statuses and transport errors
	FailedRequests int64 `json:"failedRequests"`

	// TotalBytes is the total bytes received
	TotalBytes int64 `json:"totalBytes"`

	Latency LatencyStats `json:"latency"`

	// RPS is steady-state throughput when available, otherwise the overall average
	RPS            float64 `json:"rps"`
	SteadyStateRPS float64 `json:"steadyStateRps"`

	// ErrorRate is the http_req_failed rate (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	IterationDuration LatencyStats  `json:"iterationDuration"`
	ChecksPassed      int64         `json:"checksPassed"`
	ChecksFailed      int64         `json:"checksFailed"`
	ActiveVUs         int           `json:"activeVUs"`
	MaxVUs            int           `json:"maxVUs"`
	CurrentPhase      Phase         `json:"currentPhase"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket represents metrics for one bucket interval.
//
// Each bucket captures cumulative totals at the time it was cut together with
// the deltas of the interval that just ended.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters (total since test start)
	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	// Interval metrics
	IntervalRequests   int64   `json:"intervalRequests"`
	IntervalRPS        float64 `json:"intervalRPS"`
	IntervalIterations int64   `json:"intervalIterations"`
	IntervalDropped    int64   `json:"intervalDropped"`
	IntervalErrorRate  float64 `json:"intervalErrorRate"`

	// Latency percentiles of the whole run up to this bucket
	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a scenario entered a phase.
type PhaseChange struct {
	Scenario  string    `json:"scenario"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// ScenarioStats contains the share of the run produced by one scenario.
type ScenarioStats struct {
	Requests          int64        `json:"requests"`
	Failed            int64        `json:"failed"`
	Iterations        int64        `json:"iterations"`
	DroppedIterations int64        `json:"droppedIterations"`
	Latency           LatencyStats `json:"latency"`
}

// CheckStats contains pass/fail counts of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Rate returns the fraction of passing evaluations.
func (c CheckStats) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// SampleSize bounds the latency reservoir used for distribution plots
	SampleSize int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
		SampleSize:       10000,
	}
}
