package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
)

// TimeBucketStore stores time-bucketed metrics in a ring buffer.
//
// Requests, iterations and drops are accumulated lock-free into the current
// interval; the background emitter cuts a bucket every interval even when no
// request completed, so the series has no gaps during idle start offsets.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int // next write position
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests   atomic.Int64
	currentFailures   atomic.Int64
	currentIterations atomic.Int64
	currentDropped    atomic.Int64
}

// bucketTotals carries the cumulative values stamped onto a new bucket.
type bucketTotals struct {
	requests  int64
	successes int64
	failures  int64
	bytes     int64
	latencies LatencyPercentiles
	activeVUs int
	phase     Phase
}

// NewTimeBucketStore creates a new time bucket store holding at most maxBuckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest adds a request to the current interval.
func (tbs *TimeBucketStore) RecordRequest(failed bool) {
	tbs.currentRequests.Add(1)
	if failed {
		tbs.currentFailures.Add(1)
	}
}

// RecordIteration adds a completed iteration to the current interval.
func (tbs *TimeBucketStore) RecordIteration() {
	tbs.currentIterations.Add(1)
}

// RecordDropped adds a dropped iteration to the current interval.
func (tbs *TimeBucketStore) RecordDropped() {
	tbs.currentDropped.Add(1)
}

// CreateBucket closes the current interval and appends it to the ring.
func (tbs *TimeBucketStore) CreateBucket(t bucketTotals) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := tbs.currentRequests.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	seconds := now.Sub(tbs.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1.0
	}

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:          now,
		TotalRequests:      t.requests,
		TotalSuccesses:     t.successes,
		TotalFailures:      t.failures,
		TotalBytes:         t.bytes,
		IntervalRequests:   intervalRequests,
		IntervalRPS:        float64(intervalRequests) / seconds,
		IntervalIterations: tbs.currentIterations.Swap(0),
		IntervalDropped:    tbs.currentDropped.Swap(0),
		IntervalErrorRate:  errorRate,
		LatencyMin:         t.latencies.Min,
		LatencyMax:         t.latencies.Max,
		LatencyP50:         t.latencies.P50,
		LatencyP90:         t.latencies.P90,
		LatencyP95:         t.latencies.P95,
		LatencyP99:         t.latencies.P99,
		ActiveVUs:          t.activeVUs,
		Phase:              t.phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// GetBucketsForPhase returns the buckets stamped with phase.
func (tbs *TimeBucketStore) GetBucketsForPhase(phase Phase) []*TimeBucket {
	var result []*TimeBucket
	for _, b := range tbs.GetBuckets() {
		if b.Phase == phase {
			result = append(result, b)
		}
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Count returns the current number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}

// Reset clears all buckets and interval accumulators.
func (tbs *TimeBucketStore) Reset() {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	tbs.buckets = make([]*TimeBucket, tbs.maxBuckets)
	tbs.head = 0
	tbs.count = 0
	tbs.lastBucketTime = time.Now()

	tbs.currentRequests.Store(0)
	tbs.currentFailures.Store(0)
	tbs.currentIterations.Store(0)
	tbs.currentDropped.Store(0)
}

// CalculateSteadyStateRPS averages interval throughput over steady buckets.
// The second return value is the number of buckets used.
func (tbs *TimeBucketStore) CalculateSteadyStateRPS() (float64, int) {
	steady := tbs.GetBucketsForPhase(PhaseSteady)
	if len(steady) == 0 {
		return 0, 0
	}

	var total float64
	for _, b := range steady {
		total += b.IntervalRPS
	}
	return total / float64(len(steady)), len(steady)
}

// ThroughputSummary describes how stable interval throughput was.
type ThroughputSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`

	// CV is the coefficient of variation (StdDev / Mean)
	CV float64 `json:"cv"`
}

// SummarizeThroughput computes spread statistics of interval RPS over the
// buckets that carried traffic.
func (tbs *TimeBucketStore) SummarizeThroughput() (ThroughputSummary, bool) {
	var values stats.Float64Data
	for _, b := range tbs.GetBuckets() {
		if b.IntervalRequests > 0 {
			values = append(values, b.IntervalRPS)
		}
	}
	if len(values) == 0 {
		return ThroughputSummary{}, false
	}

	var s ThroughputSummary
	s.Mean, _ = stats.Mean(values)
	s.StdDev, _ = stats.StandardDeviation(values)
	s.Median, _ = stats.Median(values)
	s.P90, _ = stats.Percentile(values, 90)
	s.Max, _ = stats.Max(values)
	if s.Mean > 0 {
		s.CV = s.StdDev / s.Mean
	}
	return s, true
}
