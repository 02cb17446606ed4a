package rate

import (
	"context"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
)

func BenchmarkLeakyBucket_Wait(b *testing.B) {
	// effectively never sleeps
	bucket := NewLeakyBucket(1e9)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = bucket.Wait(ctx)
	}
}

func BenchmarkLeakyBucket_TryTake_Parallel(b *testing.B) {
	bucket := NewLeakyBucket(1e9)

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = bucket.TryTake()
		}
	})
}

// BenchmarkLeakyBucket_SetRate is the cost the ramping-arrival-rate
// controller pays on every tick.
func BenchmarkLeakyBucket_SetRate(b *testing.B) {
	bucket := NewLeakyBucket(100)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		bucket.SetRate(float64(100 + i%100))
	}
}

func BenchmarkLeakyBucket_Stats(b *testing.B) {
	bucket := NewLeakyBucket(1e9)
	for i := 0; i < 1000; i++ {
		_ = bucket.TryTake()
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = bucket.Stats()
	}
}

func TestArrivalRateAccuracy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	const target = 100.0
	bucket := NewLeakyBucket(target)
	ctx := context.Background()

	_ = bucket.Wait(ctx)
	last := time.Now()

	intervals := make([]float64, 0, 50)
	for i := 0; i < 50; i++ {
		if err := bucket.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		now := time.Now()
		intervals = append(intervals, float64(now.Sub(last))/float64(time.Millisecond))
		last = now
	}

	mean, err := stats.Mean(intervals)
	if err != nil {
		t.Fatal(err)
	}
	sd, err := stats.StandardDeviation(intervals)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("mean interval %.2fms, stddev %.2fms", mean, sd)

	expected := 1000 / target
	if mean < expected*0.8 || mean > expected*1.5 {
		t.Errorf("mean interval = %.2fms, want about %.0fms", mean, expected)
	}
}

func TestRateRamp_Throughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	bucket := NewLeakyBucket(50)
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	// 50/s for 300ms, then 200/s for 300ms: about 15 + 60 slots
	go func() {
		time.Sleep(300 * time.Millisecond)
		bucket.SetRate(200)
	}()

	var taken int
	for bucket.Wait(ctx) == nil {
		taken++
	}

	if taken < 55 || taken > 90 {
		t.Errorf("took %d slots, want about 75", taken)
	}
}
