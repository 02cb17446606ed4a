package metrics

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

var benchLatencies = []time.Duration{
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

func BenchmarkEngine_RecordRequest(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		engine.RecordRequest(request("s", benchLatencies[i%len(benchLatencies)], 200, false))
	}
}

// BenchmarkEngine_RecordRequest_Parallel is the hot path: every VU records
// into the same engine.
func BenchmarkEngine_RecordRequest_Parallel(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			engine.RecordRequest(request("s", benchLatencies[i%len(benchLatencies)], 200, false))
			i++
		}
	})
}

func BenchmarkEngine_RecordRequest_WithSubmetric(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()
	if err := engine.AddSubmetric(HTTPReqDuration, map[string]string{"endpoint": "similar"}); err != nil {
		b.Fatal(err)
	}

	sample := request("s", 10*time.Millisecond, 200, false)
	sample.Tags = map[string]string{"endpoint": "similar"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		engine.RecordRequest(sample)
	}
}

func BenchmarkEngine_GetSnapshot(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 0; i < 10000; i++ {
		engine.RecordRequest(request("s", time.Duration(rand.Intn(100))*time.Millisecond, 200, false))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = engine.GetSnapshot()
	}
}

// BenchmarkEngine_ValueP95 is what a threshold evaluation costs.
func BenchmarkEngine_ValueP95(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 0; i < 10000; i++ {
		engine.RecordRequest(request("s", time.Duration(rand.Intn(100))*time.Millisecond, 200, false))
	}
	p95 := Aggregation{Method: "p", Percentile: 95}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := engine.Value(HTTPReqDuration, nil, p95); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTimeBucketStore_RecordRequest_Parallel(b *testing.B) {
	store := NewTimeBucketStore(100)

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			store.RecordRequest(false)
		}
	})
}

func TestLatencyAccuracy(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	// 1ms..1000ms, uniformly
	for i := 1; i <= 1000; i++ {
		engine.RecordRequest(request("s", time.Duration(i)*time.Millisecond, 200, false))
	}

	tests := []struct {
		name string
		p    float64
		want float64
	}{
		{"p50", 50, 500},
		{"p90", 90, 900},
		{"p95", 95, 950},
		{"p99", 99, 990},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Value(HTTPReqDuration, nil, Aggregation{Method: "p", Percentile: tt.p})
			if err != nil {
				t.Fatal(err)
			}
			// three significant figures plus one sample of rank error
			if diff := got - tt.want; diff < -2 || diff > 2 {
				t.Errorf("%s = %.2fms, want %.0fms", tt.name, got, tt.want)
			}
		})
	}
}

func TestConcurrentMetricsAccess(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				engine.RecordRequest(request("s", time.Duration(i%50)*time.Millisecond, 200, i%10 == 0))
				engine.RecordCheck("status ok", i%10 != 0, nil)
			}
		}(w)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = engine.GetSnapshot()
				_ = engine.GetCheckStats()
				_ = engine.GetStatusCounts()
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	snap := engine.GetSnapshot()
	if snap.TotalRequests != writers*perWriter {
		t.Errorf("TotalRequests = %d, want %d", snap.TotalRequests, writers*perWriter)
	}
	if snap.FailedRequests != writers*perWriter/10 {
		t.Errorf("FailedRequests = %d, want %d", snap.FailedRequests, writers*perWriter/10)
	}
	checks := engine.GetCheckStats()
	if len(checks) != 1 || checks[0].Passes+checks[0].Fails != writers*perWriter {
		t.Errorf("checks = %+v", checks)
	}
}
