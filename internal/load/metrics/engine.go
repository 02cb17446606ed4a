package metrics

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Engine collects and aggregates load test metrics.
//
// Every sample is recorded into the built-in metric it belongs to and into
// each registered submetric whose tag filter the sample matches. Latencies
// are kept in HDR histograms (1µs to 1h, 3 significant figures), counters
// are updated with atomics, and a background emitter cuts a time bucket
// every BucketInterval even when no traffic flowed.
//
// # Thread Safety
//
// Engine is safe for concurrent use by any number of VUs.
type Engine struct {
	config EngineConfig

	// Built-in metrics and submetrics registered for thresholds
	root      map[string]*series
	subs      map[string][]*series
	subsMu    sync.RWMutex
	startTime time.Time
	startMu   sync.RWMutex

	// Per-request-name latency breakdown
	requestHists   map[string]*trendSink
	requestHistsMu sync.RWMutex

	// Per-scenario breakdown
	scenarios   map[string]*scenarioAgg
	scenariosMu sync.RWMutex

	// Named checks in first-seen order
	checks     map[string]*checkAgg
	checkOrder []string
	checksMu   sync.RWMutex

	statusCounts map[int]int64
	statusMu     sync.Mutex

	// Reservoir of request latencies in milliseconds
	sample     []float64
	sampleSeen int64
	sampleRand *rand.Rand
	sampleMu   sync.Mutex

	// Scenario VU counts and phases
	vus       map[string]int
	peakVUs   int
	vusMu     sync.Mutex
	activeVUs atomic.Int32

	phases       map[string]Phase
	currentPhase Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	bucketStore *TimeBucketStore

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

type scenarioAgg struct {
	requests   atomic.Int64
	failed     atomic.Int64
	iterations atomic.Int64
	dropped    atomic.Int64
	latency    *trendSink
}

type checkAgg struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// RequestSample is the outcome of one HTTP request.
type RequestSample struct {
	Scenario string
	Name     string
	Method   string
	// Status is zero when the request failed before a response arrived
	Status   int
	Duration time.Duration
	Timing   RequestTiming
	Failed   bool
	Bytes    int64
	Tags     map[string]string
}

// RequestTiming holds the phases of a request's duration.
type RequestTiming struct {
	Connecting     time.Duration
	TLSHandshaking time.Duration
	Waiting        time.Duration
	Receiving      time.Duration
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine and starts its emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}
	if config.SampleSize <= 0 {
		config.SampleSize = defaults.SampleSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:        config,
		root:          make(map[string]*series, len(builtinMetrics)),
		subs:          make(map[string][]*series),
		startTime:     time.Now(),
		requestHists:  make(map[string]*trendSink),
		scenarios:     make(map[string]*scenarioAgg),
		checks:        make(map[string]*checkAgg),
		statusCounts:  make(map[int]int64),
		sampleRand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		vus:           make(map[string]int),
		phases:        make(map[string]Phase),
		currentPhase:  PhaseInit,
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		emitterCtx:    ctx,
		emitterCancel: cancel,
	}
	for name, kind := range builtinMetrics {
		e.root[name] = newSeries(kind, nil, config)
	}

	e.emitterWg.Add(1)
	go e.runEmitter()

	return e
}

// AddSubmetric registers a tag-filtered view of a built-in metric, e.g.
// http_req_duration{scenario:spike}. Registering the same view twice is a no-op.
func (e *Engine) AddSubmetric(metric string, tags map[string]string) error {
	kind, ok := LookupMetric(metric)
	if !ok {
		return fmt.Errorf("unknown metric %q", metric)
	}
	if len(tags) == 0 {
		return nil
	}

	key := TagKey(tags)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, s := range e.subs[metric] {
		if TagKey(s.filter) == key {
			return nil
		}
	}

	filter := make(map[string]string, len(tags))
	for k, v := range tags {
		filter[k] = v
	}
	e.subs[metric] = append(e.subs[metric], newSeries(kind, filter, e.config))
	return nil
}

func (e *Engine) lookupSeries(metric string, tags map[string]string) *series {
	if len(tags) == 0 {
		return e.root[metric]
	}

	key := TagKey(tags)

	e.subsMu.RLock()
	defer e.subsMu.RUnlock()

	for _, s := range e.subs[metric] {
		if TagKey(s.filter) == key {
			return s
		}
	}
	return nil
}

// each applies fn to the metric's root series and to every matching submetric.
func (e *Engine) each(metric string, tags Tags, fn func(*series)) {
	fn(e.root[metric])

	e.subsMu.RLock()
	subs := e.subs[metric]
	e.subsMu.RUnlock()

	for _, s := range subs {
		if tags.Contains(s.filter) {
			fn(s)
		}
	}
}

// RecordRequest records one HTTP request into http_reqs, http_req_duration,
// http_req_failed, data_received and the http_req_* phase trends.
func (e *Engine) RecordRequest(s RequestSample) {
	tags := make(Tags, len(s.Tags)+5)
	for k, v := range s.Tags {
		tags[k] = v
	}
	tags[TagScenario] = s.Scenario
	tags[TagName] = s.Name
	tags[TagMethod] = s.Method
	tags[TagStatus] = strconv.Itoa(s.Status)
	tags[TagExpectedResponse] = strconv.FormatBool(!s.Failed)

	e.each(HTTPReqs, tags, func(sr *series) { sr.counter.add(1) })
	e.each(HTTPReqDuration, tags, func(sr *series) { sr.trend.record(s.Duration) })
	e.each(HTTPReqFailed, tags, func(sr *series) { sr.rate.add(s.Failed) })
	e.each(DataReceived, tags, func(sr *series) { sr.counter.add(s.Bytes) })
	e.each(HTTPReqConnecting, tags, func(sr *series) { sr.trend.record(s.Timing.Connecting) })
	e.each(HTTPReqTLSHandshaking, tags, func(sr *series) { sr.trend.record(s.Timing.TLSHandshaking) })
	e.each(HTTPReqWaiting, tags, func(sr *series) { sr.trend.record(s.Timing.Waiting) })
	e.each(HTTPReqReceiving, tags, func(sr *series) { sr.trend.record(s.Timing.Receiving) })

	if s.Name != "" {
		e.requestHist(s.Name).record(s.Duration)
	}

	sc := e.scenario(s.Scenario)
	sc.requests.Add(1)
	if s.Failed {
		sc.failed.Add(1)
	}
	sc.latency.record(s.Duration)

	e.statusMu.Lock()
	e.statusCounts[s.Status]++
	e.statusMu.Unlock()

	e.addSample(float64(s.Duration) / float64(time.Millisecond))

	e.bucketStore.RecordRequest(s.Failed)
}

// RecordCheck records the outcome of one named check.
func (e *Engine) RecordCheck(name string, passed bool, tags map[string]string) {
	t := make(Tags, len(tags)+1)
	for k, v := range tags {
		t[k] = v
	}
	t[TagCheck] = name

	e.each(Checks, t, func(sr *series) { sr.rate.add(passed) })

	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()
	if !ok {
		e.checksMu.Lock()
		if c, ok = e.checks[name]; !ok {
			c = &checkAgg{}
			e.checks[name] = c
			e.checkOrder = append(e.checkOrder, name)
		}
		e.checksMu.Unlock()
	}

	if passed {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
}

// RecordIteration records a completed workload iteration.
func (e *Engine) RecordIteration(scenario string, d time.Duration, tags map[string]string) {
	t := make(Tags, len(tags)+1)
	for k, v := range tags {
		t[k] = v
	}
	t[TagScenario] = scenario

	e.each(Iterations, t, func(sr *series) { sr.counter.add(1) })
	e.each(IterationDuration, t, func(sr *series) { sr.trend.record(d) })

	e.scenario(scenario).iterations.Add(1)
	e.bucketStore.RecordIteration()
}

// RecordDroppedIteration records an iteration an arrival-rate executor could
// not start because no VU was free.
func (e *Engine) RecordDroppedIteration(scenario string) {
	t := Tags{TagScenario: scenario}
	e.each(DroppedIterations, t, func(sr *series) { sr.counter.add(1) })

	e.scenario(scenario).dropped.Add(1)
	e.bucketStore.RecordDropped()
}

// SetScenarioVUs updates the number of running VUs of one scenario. The vus
// gauge holds the sum over scenarios; vus_max holds its peak.
func (e *Engine) SetScenarioVUs(scenario string, n int) {
	e.vusMu.Lock()
	e.vus[scenario] = n
	total := 0
	for _, v := range e.vus {
		total += v
	}
	if total > e.peakVUs {
		e.peakVUs = total
	}
	peak := e.peakVUs
	e.vusMu.Unlock()

	e.activeVUs.Store(int32(total))

	tags := Tags{TagScenario: scenario}
	e.each(VUs, tags, func(sr *series) { sr.gauge.set(int64(total)) })
	e.each(VUsMax, tags, func(sr *series) { sr.gauge.set(int64(peak)) })
}

// GetActiveVUs returns the number of running VUs across scenarios.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// SetPhase records that a scenario entered a phase. The engine phase is the
// busiest phase of any scenario that has not finished.
func (e *Engine) SetPhase(scenario string, phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if prev, ok := e.phases[scenario]; ok && prev == phase {
		return
	}
	e.phases[scenario] = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Scenario:  scenario,
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.root[HTTPReqs].counter.sum.Load(),
	})

	current := PhaseDone
	for _, p := range e.phases {
		if phaseRank[p] > phaseRank[current] {
			current = p
		}
	}
	e.currentPhase = current
}

// GetPhase returns the current aggregate phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns every phase change in the order it happened.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// MarkStart resets the clock that rates and elapsed time are measured from.
func (e *Engine) MarkStart() {
	e.startMu.Lock()
	e.startTime = time.Now()
	e.startMu.Unlock()
}

// Elapsed returns the time since the engine started measuring.
func (e *Engine) Elapsed() time.Duration {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	return time.Since(e.startTime)
}

func (e *Engine) requestHist(name string) *trendSink {
	e.requestHistsMu.RLock()
	h, ok := e.requestHists[name]
	e.requestHistsMu.RUnlock()
	if ok {
		return h
	}

	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()
	if h, ok = e.requestHists[name]; !ok {
		h = newTrendSink(e.config)
		e.requestHists[name] = h
	}
	return h
}

func (e *Engine) scenario(name string) *scenarioAgg {
	e.scenariosMu.RLock()
	sc, ok := e.scenarios[name]
	e.scenariosMu.RUnlock()
	if ok {
		return sc
	}

	e.scenariosMu.Lock()
	defer e.scenariosMu.Unlock()
	if sc, ok = e.scenarios[name]; !ok {
		sc = &scenarioAgg{latency: newTrendSink(e.config)}
		e.scenarios[name] = sc
	}
	return sc
}

// addSample keeps a uniform reservoir of latencies.
func (e *Engine) addSample(ms float64) {
	e.sampleMu.Lock()
	defer e.sampleMu.Unlock()

	e.sampleSeen++
	if len(e.sample) < e.config.SampleSize {
		e.sample = append(e.sample, ms)
		return
	}
	if j := e.sampleRand.Int63n(e.sampleSeen); j < int64(len(e.sample)) {
		e.sample[j] = ms
	}
}

// LatencySample returns a uniform sample of request latencies in milliseconds.
func (e *Engine) LatencySample() []float64 {
	e.sampleMu.Lock()
	defer e.sampleMu.Unlock()

	out := make([]float64, len(e.sample))
	copy(out, e.sample)
	return out
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	total := e.root[HTTPReqs].counter.sum.Load()
	failed := e.root[HTTPReqFailed].rate.trues.Load()

	e.bucketStore.CreateBucket(bucketTotals{
		requests:  total,
		successes: total - failed,
		failures:  failed,
		bytes:     e.root[DataReceived].counter.sum.Load(),
		latencies: e.root[HTTPReqDuration].trend.percentiles(),
		activeVUs: e.GetActiveVUs(),
		phase:     e.GetPhase(),
	})
}

// GetLatencyPercentiles returns current http_req_duration percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	return e.root[HTTPReqDuration].trend.percentiles()
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	elapsed := e.Elapsed()
	total := e.root[HTTPReqs].counter.sum.Load()
	failed := e.root[HTTPReqFailed].rate.trues.Load()

	overallRPS := 0.0
	if elapsed.Seconds() > 0 {
		overallRPS = float64(total) / elapsed.Seconds()
	}

	steadyRPS, steadyBuckets := e.bucketStore.CalculateSteadyStateRPS()
	rps := overallRPS
	if steadyBuckets > 0 {
		rps = steadyRPS
	}

	// total is bumped before trues, so read trues first
	checks := &e.root[Checks].rate
	checksPassed := checks.trues.Load()
	checksTotal := checks.total.Load()

	e.vusMu.Lock()
	peak := e.peakVUs
	e.vusMu.Unlock()

	return &Snapshot{
		TotalRequests:     total,
		SuccessRequests:   total - failed,
		FailedRequests:    failed,
		TotalBytes:        e.root[DataReceived].counter.sum.Load(),
		Latency:           e.root[HTTPReqDuration].trend.stats(),
		RPS:               rps,
		SteadyStateRPS:    steadyRPS,
		ErrorRate:         e.root[HTTPReqFailed].rate.rate(),
		Iterations:        e.root[Iterations].counter.sum.Load(),
		DroppedIterations: e.root[DroppedIterations].counter.sum.Load(),
		IterationDuration: e.root[IterationDuration].trend.stats(),
		ChecksPassed:      checksPassed,
		ChecksFailed:      checksTotal - checksPassed,
		ActiveVUs:         e.GetActiveVUs(),
		MaxVUs:            peak,
		CurrentPhase:      e.GetPhase(),
		Elapsed:           elapsed,
		StartTime:         time.Now().Add(-elapsed),
		Timestamp:         time.Now(),
	}
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// SummarizeThroughput reports the spread of per-bucket throughput.
func (e *Engine) SummarizeThroughput() (ThroughputSummary, bool) {
	return e.bucketStore.SummarizeThroughput()
}

// GetRequestStats returns latency statistics per request name.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.requestHistsMu.RLock()
	defer e.requestHistsMu.RUnlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, h := range e.requestHists {
		result[name] = h.stats()
	}
	return result
}

// GetScenarioStats returns the breakdown of the run per scenario.
func (e *Engine) GetScenarioStats() map[string]ScenarioStats {
	e.scenariosMu.RLock()
	defer e.scenariosMu.RUnlock()

	result := make(map[string]ScenarioStats, len(e.scenarios))
	for name, sc := range e.scenarios {
		result[name] = ScenarioStats{
			Requests:          sc.requests.Load(),
			Failed:            sc.failed.Load(),
			Iterations:        sc.iterations.Load(),
			DroppedIterations: sc.dropped.Load(),
			Latency:           sc.latency.stats(),
		}
	}
	return result
}

// GetCheckStats returns every named check in the order it was first seen.
func (e *Engine) GetCheckStats() []CheckStats {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	result := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		c := e.checks[name]
		result = append(result, CheckStats{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return result
}

// GetStatusCounts returns how many responses carried each status code.
// Status 0 counts requests that produced no response.
func (e *Engine) GetStatusCounts() map[int]int64 {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	result := make(map[int]int64, len(e.statusCounts))
	for code, n := range e.statusCounts {
		result[code] = n
	}
	return result
}

// StatusCodes returns the observed status codes in ascending order.
func StatusCodes(counts map[int]int64) []int {
	codes := make([]int, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Stop stops the emitter and emits a final bucket. It is safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

// Reset clears every metric and restarts the clock.
func (e *Engine) Reset() {
	for _, s := range e.root {
		s.reset()
	}
	e.subsMu.RLock()
	for _, subs := range e.subs {
		for _, s := range subs {
			s.reset()
		}
	}
	e.subsMu.RUnlock()

	e.requestHistsMu.Lock()
	e.requestHists = make(map[string]*trendSink)
	e.requestHistsMu.Unlock()

	e.scenariosMu.Lock()
	e.scenarios = make(map[string]*scenarioAgg)
	e.scenariosMu.Unlock()

	e.checksMu.Lock()
	e.checks = make(map[string]*checkAgg)
	e.checkOrder = nil
	e.checksMu.Unlock()

	e.statusMu.Lock()
	e.statusCounts = make(map[int]int64)
	e.statusMu.Unlock()

	e.sampleMu.Lock()
	e.sample = nil
	e.sampleSeen = 0
	e.sampleMu.Unlock()

	e.vusMu.Lock()
	e.vus = make(map[string]int)
	e.peakVUs = 0
	e.vusMu.Unlock()
	e.activeVUs.Store(0)

	e.phaseMu.Lock()
	e.phases = make(map[string]Phase)
	e.currentPhase = PhaseInit
	e.phaseHistory = nil
	e.phaseMu.Unlock()

	e.bucketStore.Reset()
	e.MarkStart()
}
