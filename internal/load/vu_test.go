package load_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

var count = metrics.Aggregation{Method: "count"}

func countingScenario(n *atomic.Int64) *load.Scenario {
	return &load.Scenario{
		Name: "test-scenario",
		Workload: load.WorkloadFunc(func(ctx context.Context, vu *load.VirtualUser) error {
			n.Add(1)
			return nil
		}),
	}
}

func createTestVU(scenario *load.Scenario, metricsEngine *metrics.Engine) *load.VirtualUser {
	return load.NewVirtualUser(1, scenario, &http.Client{Timeout: 5 * time.Second}, metricsEngine)
}

func TestNewVirtualUser(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), metricsEngine)

	if vu.ID != 1 {
		t.Errorf("VU ID = %d, want 1", vu.ID)
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("Initial VU state = %v, want %v", vu.GetState(), load.VUStateIdle)
	}
	if vu.GetIteration() != 0 {
		t.Errorf("Initial iteration = %d, want 0", vu.GetIteration())
	}
	if vu.Rand() == nil {
		t.Error("VU has no random source")
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state load.VUState
		want  string
	}{
		{load.VUStateIdle, "idle"},
		{load.VUStateRunning, "running"},
		{load.VUStateStopping, "stopping"},
		{load.VUStateStopped, "stopped"},
		{load.VUState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("VUState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVirtualUser_RunIteration_RecordsIteration(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), metricsEngine)

	for i := 0; i < 3; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	if n.Load() != 3 || vu.GetIteration() != 3 {
		t.Errorf("workload ran %d times, iteration counter %d, want 3", n.Load(), vu.GetIteration())
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("state after iteration = %v, want idle", vu.GetState())
	}

	got, err := metricsEngine.Value(metrics.Iterations, nil, count)
	if err != nil || got != 3 {
		t.Errorf("iterations = %v, %v, want 3", got, err)
	}
	got, _ = metricsEngine.Value(metrics.IterationDuration, nil, count)
	if got != 3 {
		t.Errorf("iteration_duration count = %v, want 3", got)
	}
}

func TestVirtualUser_RunIteration_ContextCancelled(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), metricsEngine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := vu.RunIteration(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunIteration() error = %v, want context.Canceled", err)
	}
	if n.Load() != 0 {
		t.Error("workload ran with a cancelled context")
	}
}

func TestVirtualUser_InterruptedIterationNotRecorded(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	scenario := &load.Scenario{
		Name: "slow",
		Workload: load.WorkloadFunc(func(ctx context.Context, vu *load.VirtualUser) error {
			vu.Sleep(ctx, time.Second)
			return nil
		}),
	}
	vu := createTestVU(scenario, metricsEngine)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := vu.RunIteration(ctx); err == nil {
		t.Error("expected error for interrupted iteration")
	}
	if got, _ := metricsEngine.Value(metrics.Iterations, nil, count); got != 0 {
		t.Errorf("iterations = %v, want 0", got)
	}
}

func TestVirtualUser_WorkloadError(t *testing.T) {
	metricsEngine := metrics.NewEngine()
	defer metricsEngine.Stop()

	boom := errors.New("boom")
	scenario := &load.Scenario{
		Name:     "err",
		Workload: load.WorkloadFunc(func(context.Context, *load.VirtualUser) error { return boom }),
	}
	vu := createTestVU(scenario, metricsEngine)

	if err := vu.RunIteration(context.Background()); !errors.Is(err, boom) {
		t.Errorf("RunIteration() error = %v, want boom", err)
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("state = %v, want idle", vu.GetState())
	}
}

func TestVirtualUser_RunIteration_StoppedVU(t *testing.T) {
	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), nil)

	vu.RequestStop()
	if err := vu.RunIteration(context.Background()); err == nil {
		t.Error("expected error when VU is stopping")
	}

	vu.MarkStopped()
	if err := vu.RunIteration(context.Background()); err == nil {
		t.Error("expected error when VU is stopped")
	}
	if n.Load() != 0 {
		t.Error("workload ran on a stopped VU")
	}
}

func TestVirtualUser_StopWaitsForIteration(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	scenario := &load.Scenario{
		Name: "block",
		Workload: load.WorkloadFunc(func(ctx context.Context, vu *load.VirtualUser) error {
			close(started)
			<-release
			return nil
		}),
	}
	vu := createTestVU(scenario, nil)

	done := make(chan error, 1)
	go func() { done <- vu.RunIteration(context.Background()) }()
	<-started

	vu.RequestStop()
	if vu.GetState() != load.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("iteration should complete after stop request, got %v", err)
	}
	if vu.GetState() != load.VUStateStopping {
		t.Errorf("state after iteration = %v, want stopping", vu.GetState())
	}
}

func TestVirtualUser_Lifecycle(t *testing.T) {
	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), nil)

	vu.RequestStop()
	vu.RequestStop()
	select {
	case <-vu.Stopped():
	default:
		t.Error("Stopped() not closed after RequestStop")
	}

	if vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop should time out before MarkStopped")
	}

	vu.MarkStopped()
	vu.MarkStopped()
	if vu.GetState() != load.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
	if !vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop should return true after MarkStopped")
	}
}

func TestVirtualUser_Data(t *testing.T) {
	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), nil)

	vu.SetData("token", "abc")
	if v, ok := vu.GetData("token"); !ok || v != "abc" {
		t.Errorf("GetData(token) = %q, %v", v, ok)
	}

	snapshot := vu.Data()
	snapshot["token"] = "changed"
	if v, _ := vu.GetData("token"); v != "abc" {
		t.Error("Data() must return a copy")
	}

	vu.ClearData("token")
	if _, ok := vu.GetData("token"); ok {
		t.Error("token should be cleared")
	}
}

func TestVirtualUser_Sleep(t *testing.T) {
	var n atomic.Int64
	vu := createTestVU(countingScenario(&n), nil)

	start := time.Now()
	if !vu.Sleep(context.Background(), 30*time.Millisecond) {
		t.Error("Sleep should complete")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Sleep returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if vu.Sleep(ctx, time.Second) {
		t.Error("Sleep should report a cancelled context")
	}
}
