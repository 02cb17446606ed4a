// Package rate paces iteration starts for the arrival-rate executors.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out iteration slots at a target rate.
//
// Credit drips into the bucket at rate slots per second and is capped at
// maxBurst. Taking a slot consumes one credit; when less than one credit is
// available the caller sleeps until the deficit has dripped in. A fresh bucket
// with a positive rate holds one credit so the first slot is immediate.
//
// The rate can be changed while waiters are sleeping. Credit accrued at the
// old rate is kept and every sleeping waiter is woken to recompute its
// deadline, so a ramp never loses or duplicates a slot. A rate of zero pauses
// the bucket until the next SetRate.
//
// LeakyBucket is safe for concurrent use.
//
//	lb := NewLeakyBucket(20) // 20 iterations per second
//	for lb.Wait(ctx) == nil {
//	    dispatch()
//	}
type LeakyBucket struct {
	mu       sync.Mutex
	rate     float64 // slots per second
	credit   float64
	maxBurst float64
	last     time.Time
	changed  chan struct{}

	totalIterations atomic.Int64
	totalWaitTime   atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket that allows no bursting.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1.0)
}

// NewLeakyBucketWithBurst creates a bucket that can store up to maxBurst
// slots while nobody is waiting.
func NewLeakyBucketWithBurst(rate float64, maxBurst float64) *LeakyBucket {
	if rate < 0 {
		rate = 0
	}
	if maxBurst < 1.0 {
		maxBurst = 1.0
	}
	lb := &LeakyBucket{
		rate:     rate,
		maxBurst: maxBurst,
		last:     time.Now(),
		changed:  make(chan struct{}),
	}
	if rate > 0 {
		lb.credit = 1.0
	}
	return lb
}

// accrue adds the credit dripped since the last update. Caller holds mu.
func (lb *LeakyBucket) accrue(now time.Time) {
	elapsed := now.Sub(lb.last).Seconds()
	if elapsed > 0 {
		lb.credit += elapsed * lb.rate
		if lb.credit > lb.maxBurst {
			lb.credit = lb.maxBurst
		}
	}
	lb.last = now
}

// TryTake consumes a slot if one is available right now.
func (lb *LeakyBucket) TryTake() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.accrue(time.Now())
	if lb.credit < 1.0 {
		return false
	}
	lb.credit--
	lb.totalIterations.Add(1)
	return true
}

// Wait blocks until a slot is available or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		lb.mu.Lock()
		lb.accrue(time.Now())
		if lb.credit >= 1.0 {
			lb.credit--
			lb.mu.Unlock()
			lb.totalIterations.Add(1)
			lb.totalWaitTime.Add(int64(time.Since(start)))
			return nil
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if lb.rate > 0 {
			deficit := (1.0 - lb.credit) / lb.rate
			timer = time.NewTimer(time.Duration(deficit * float64(time.Second)))
			fire = timer.C
		}
		changed := lb.changed
		lb.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-changed:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
		}
	}
}

// SetRate switches the bucket to a new rate. Negative rates are treated as zero.
func (lb *LeakyBucket) SetRate(rate float64) {
	if rate < 0 {
		rate = 0
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate == lb.rate {
		return
	}
	lb.accrue(time.Now())
	lb.rate = rate
	close(lb.changed)
	lb.changed = make(chan struct{})
}

// GetRate returns the current rate in slots per second.
func (lb *LeakyBucket) GetRate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats returns statistics about the bucket.
func (lb *LeakyBucket) Stats() LeakyBucketStats {
	lb.mu.Lock()
	rate := lb.rate
	credit := lb.credit
	maxBurst := lb.maxBurst
	lb.mu.Unlock()

	return LeakyBucketStats{
		Rate:            rate,
		Accumulated:     credit,
		MaxBurst:        maxBurst,
		TotalIterations: lb.totalIterations.Load(),
		TotalWaitTime:   time.Duration(lb.totalWaitTime.Load()),
	}
}

// Reset empties the bucket and clears its counters.
func (lb *LeakyBucket) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.credit = 0
	if lb.rate > 0 {
		lb.credit = 1.0
	}
	lb.last = time.Now()
	lb.totalIterations.Store(0)
	lb.totalWaitTime.Store(0)
}

// LeakyBucketStats contains statistics about the leaky bucket.
type LeakyBucketStats struct {
	Rate            float64       `json:"rate"`
	Accumulated     float64       `json:"accumulated"`
	MaxBurst        float64       `json:"maxBurst"`
	TotalIterations int64         `json:"totalIterations"`
	TotalWaitTime   time.Duration `json:"totalWaitTime"`
}
