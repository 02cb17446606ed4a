package engine

import (
	"context"
	"time"

	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/threshold"
)

// TestResult contains the complete test results.
type TestResult struct {
	// Test metadata
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	BaseURL     string        `json:"baseUrl"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Scenario results in declaration order
	Scenarios []*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics      *metrics.Snapshot               `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	Requests     map[string]metrics.LatencyStats `json:"requests,omitempty"`
	StatusCounts map[int]int64                   `json:"statusCounts,omitempty"`
	Checks       []metrics.CheckStats            `json:"checks,omitempty"`
	Phases       []metrics.PhaseChange           `json:"phases,omitempty"`

	// Throughput is the spread of interval RPS, nil when nothing was sent
	Throughput *metrics.ThroughputSummary `json:"throughput,omitempty"`

	// LatencySample feeds the summary histogram; it is not serialized
	LatencySample []float64 `json:"-"`

	// Threshold evaluation
	Passed      bool               `json:"passed"`
	Thresholds  []threshold.Result `json:"thresholds,omitempty"`
	Aborted     bool               `json:"aborted,omitempty"`
	AbortReason string             `json:"abortReason,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`

	// Error aggregates scenario failures
	Error string `json:"error,omitempty"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name              string               `json:"name"`
	Executor          string               `json:"executor"`
	Description       string               `json:"description"`
	StartOffset       time.Duration        `json:"startOffset"`
	StartTime         time.Time            `json:"startTime"`
	Duration          time.Duration        `json:"duration"`
	MaxVUs            int                  `json:"maxVUs"`
	Requests          int64                `json:"requests"`
	Failed            int64                `json:"failed"`
	Iterations        int64                `json:"iterations"`
	DroppedIterations int64                `json:"droppedIterations"`
	Latency           metrics.LatencyStats `json:"latency"`
	Skipped           bool                 `json:"skipped,omitempty"`
	Error             string               `json:"error,omitempty"`
}

// ErrorRate returns the fraction of the scenario's requests that failed.
func (r *ScenarioResult) ErrorRate() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Requests)
}

// ThresholdsFailed reports whether the run failed on thresholds, as opposed
// to an execution error.
func (r *TestResult) ThresholdsFailed() bool {
	return !threshold.AllPassed(r.Thresholds) || r.Aborted
}

// buildResult evaluates thresholds and collects everything the outputs need.
func (e *Engine) buildResult(ctx context.Context) *TestResult {
	m := e.metricsEngine
	perScenario := m.GetScenarioStats()

	scenarios := make([]*ScenarioResult, 0, len(e.runners))
	for _, r := range e.runners {
		sr := r.result
		if sr == nil {
			sr = &ScenarioResult{Name: r.Name, Executor: string(r.Executor.Type()), Skipped: true}
		}
		if st, ok := perScenario[r.Name]; ok {
			sr.Requests = st.Requests
			sr.Failed = st.Failed
			sr.Iterations = st.Iterations
			sr.DroppedIterations = st.DroppedIterations
			sr.Latency = st.Latency
		}
		scenarios = append(scenarios, sr)
	}

	var throughput *metrics.ThroughputSummary
	if ts, ok := m.SummarizeThroughput(); ok {
		throughput = &ts
	}

	thresholds := e.evaluator.Evaluate(m)
	abortReason := e.getAbort()

	e.mu.RLock()
	start := e.startTime
	runID := e.runID
	e.mu.RUnlock()
	end := time.Now()

	return &TestResult{
		RunID:         runID,
		Name:          e.config.Name,
		Description:   e.config.Description,
		BaseURL:       e.baseURL,
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start),
		Scenarios:     scenarios,
		Metrics:       m.GetSnapshot(),
		TimeSeries:    m.GetTimeSeries(),
		Requests:      m.GetRequestStats(),
		StatusCounts:  m.GetStatusCounts(),
		Checks:        m.GetCheckStats(),
		Phases:        m.GetPhaseHistory(),
		Throughput:    throughput,
		LatencySample: m.LatencySample(),
		Passed:        threshold.AllPassed(thresholds) && abortReason == "",
		Thresholds:    thresholds,
		Aborted:       abortReason != "",
		AbortReason:   abortReason,
		Interrupted:   ctx.Err() != nil,
	}
}
