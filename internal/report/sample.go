package report

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/threshold"
)

// sampleScenario is one scenario of the synthetic run, with its load as a
// function of seconds since the scenario started.
type sampleScenario struct {
	name     string
	executor string
	start    int
	length   int
	vus      func(t int) int
	rps      func(t int) float64
}

var sampleScenarios = []sampleScenario{
	{"smoke", "constant-vus", 0, 30,
		func(int) int { return 2 },
		func(int) float64 { return 18 }},
	{"baseline", "ramping-vus", 35, 120,
		func(t int) int { return int(rampVUs(t)) },
		func(t int) float64 { return rampVUs(t) * 9 }},
	{"error_mix", "constant-arrival-rate", 120, 120,
		func(int) int { return 3 },
		func(int) float64 { return 20 }},
	{"spike", "ramping-arrival-rate", 240, 90,
		func(t int) int { return int(math.Ceil(spikeRate(t) / 9)) },
		spikeRate},
}

// rampVUs follows 0 -> 10 over 30s, -> 20 over 60s, -> 0 over 30s.
func rampVUs(t int) float64 {
	switch {
	case t < 30:
		return float64(t) / 30 * 10
	case t < 90:
		return 10 + float64(t-30)/60*10
	default:
		return 20 - float64(t-90)/30*20
	}
}

// spikeRate follows 0 -> 50/s over 30s, -> 150/s over 30s, -> 0 over 30s.
func spikeRate(t int) float64 {
	switch {
	case t < 30:
		return float64(t) / 30 * 50
	case t < 60:
		return 50 + float64(t-30)/30*100
	default:
		return 150 - float64(t-60)/30*150
	}
}

// SampleResult builds a synthetic run of the similar-products test ending at
// end. It exists to preview the report without generating load.
func SampleResult(end time.Time) *engine.TestResult {
	const seconds = 330
	start := end.Add(-seconds * time.Second)
	rng := rand.New(rand.NewSource(1))

	result := &engine.TestResult{
		RunID:        "00000000-0000-4000-8000-000000000000",
		Name:         "similar-products",
		Description:  "Smoke, ramp, error mix and spike against /product/{id}/similar",
		BaseURL:      "http://localhost:5000",
		StartTime:    start,
		EndTime:      end,
		Duration:     seconds * time.Second,
		StatusCounts: map[int]int64{},
	}

	var total, failed, bytes, iterations, dropped int64
	var peakVUs int
	for s := 0; s < seconds; s++ {
		var vus int
		var rps float64
		phase := metrics.PhaseDone
		for _, sc := range sampleScenarios {
			t := s - sc.start
			if t < 0 || t >= sc.length {
				continue
			}
			vus += sc.vus(t)
			rps += sc.rps(t)
			phase = metrics.PhaseSteady
		}
		if vus > peakVUs {
			peakVUs = vus
		}

		n := int64(rps)
		var intervalDropped int64
		// the spike outruns its 60 VUs near the peak
		if rps > 140 {
			intervalDropped = int64(rps) - 140
			n -= intervalDropped
		}
		ok := n * 60 / 100
		notFound := n * 25 / 100
		serverErr := n - ok - notFound

		total += n
		failed += notFound + serverErr
		bytes += ok * 512
		iterations += n
		dropped += intervalDropped
		result.StatusCounts[200] += ok
		result.StatusCounts[404] += notFound
		result.StatusCounts[500] += serverErr

		errRate := 0.0
		if n > 0 {
			errRate = float64(notFound+serverErr) / float64(n)
		}
		jitter := time.Duration(rng.Intn(20)) * time.Millisecond
		load := time.Duration(rps) * 2 * time.Millisecond
		result.TimeSeries = append(result.TimeSeries, &metrics.TimeBucket{
			Timestamp:          start.Add(time.Duration(s+1) * time.Second),
			TotalRequests:      total,
			TotalSuccesses:     total - failed,
			TotalFailures:      failed,
			TotalBytes:         bytes,
			IntervalRequests:   n,
			IntervalRPS:        float64(n),
			IntervalIterations: n,
			IntervalDropped:    intervalDropped,
			IntervalErrorRate:  errRate,
			LatencyMin:         4 * time.Millisecond,
			LatencyMax:         450*time.Millisecond + load,
			LatencyP50:         35*time.Millisecond + jitter + load/4,
			LatencyP90:         90*time.Millisecond + jitter + load/2,
			LatencyP95:         140*time.Millisecond + jitter + load,
			LatencyP99:         260*time.Millisecond + jitter + load,
			ActiveVUs:          vus,
			Phase:              phase,
		})
	}

	for i := 0; i < 2000; i++ {
		ms := 10 + rng.ExpFloat64()*45
		result.LatencySample = append(result.LatencySample, ms)
	}

	latency := metrics.LatencyStats{
		Min:    4 * time.Millisecond,
		Max:    742 * time.Millisecond,
		Mean:   56 * time.Millisecond,
		StdDev: 44 * time.Millisecond,
		P50:    41 * time.Millisecond,
		P90:    112 * time.Millisecond,
		P95:    168 * time.Millisecond,
		P99:    331 * time.Millisecond,
		Count:  total,
	}
	errRate := float64(failed) / float64(total)
	result.Metrics = &metrics.Snapshot{
		TotalRequests:     total,
		SuccessRequests:   total - failed,
		FailedRequests:    failed,
		TotalBytes:        bytes,
		Latency:           latency,
		RPS:               float64(total) / seconds,
		ErrorRate:         errRate,
		Iterations:        iterations,
		DroppedIterations: dropped,
		ChecksPassed:      total,
		MaxVUs:            peakVUs,
		CurrentPhase:      metrics.PhaseDone,
		Elapsed:           seconds * time.Second,
		StartTime:         start,
		Timestamp:         end,
	}
	result.Requests = map[string]metrics.LatencyStats{"similar": latency}
	result.Checks = []metrics.CheckStats{{Name: "status ok/404/500", Passes: total}}

	for _, sc := range sampleScenarios {
		var reqs int64
		for t := 0; t < sc.length; t++ {
			reqs += int64(sc.rps(t))
		}
		result.Scenarios = append(result.Scenarios, &engine.ScenarioResult{
			Name:        sc.name,
			Executor:    sc.executor,
			StartOffset: time.Duration(sc.start) * time.Second,
			StartTime:   start.Add(time.Duration(sc.start) * time.Second),
			Duration:    time.Duration(sc.length) * time.Second,
			Requests:    reqs,
			Failed:      reqs * 40 / 100,
			Iterations:  reqs,
			Latency:     latency,
		})
	}
	result.Scenarios[3].DroppedIterations = dropped
	result.Scenarios[3].Iterations -= dropped

	for i, sc := range sampleScenarios {
		at := start.Add(time.Duration(sc.start) * time.Second)
		result.Phases = append(result.Phases,
			metrics.PhaseChange{Scenario: sc.name, Phase: metrics.PhaseSteady, Timestamp: at},
			metrics.PhaseChange{Scenario: sc.name, Phase: metrics.PhaseDone, Timestamp: at.Add(result.Scenarios[i].Duration)},
		)
	}

	sort.SliceStable(result.Phases, func(i, j int) bool {
		return result.Phases[i].Timestamp.Before(result.Phases[j].Timestamp)
	})

	result.Thresholds = []threshold.Result{
		{Metric: "http_req_failed", Expression: "rate<0.05", Passed: false, Value: errRate},
		{Metric: "http_req_duration", Expression: "p(95)<800", Passed: true, Value: float64(latency.P95) / float64(time.Millisecond)},
	}
	result.Passed = false
	return result
}
