package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/volleyload/volley/internal/load/executor"
	"github.com/volleyload/volley/internal/load/metrics"
)

func TestNewConstantVUs(t *testing.T) {
	e := executor.NewConstantVUs()
	if e == nil {
		t.Fatal("NewConstantVUs() returned nil")
	}
	if e.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeConstantVUs)
	}
}

func TestConstantVUs_Init_InvalidType(t *testing.T) {
	e := executor.NewConstantVUs()

	config := &executor.Config{
		Type:     executor.TypeRampingVUs,
		VUs:      10,
		Duration: time.Minute,
	}
	if err := e.Init(context.Background(), config); err == nil {
		t.Fatal("Init() expected error for wrong type, got nil")
	}
}

func TestConstantVUs_Init_ZeroVUs(t *testing.T) {
	e := executor.NewConstantVUs()

	config := &executor.Config{
		Type:     executor.TypeConstantVUs,
		Duration: time.Minute,
	}
	if err := e.Init(context.Background(), config); err == nil {
		t.Fatal("Init() expected error for zero VUs, got nil")
	}
}

func TestConstantVUs_Run(t *testing.T) {
	scheduler, m, n := newRig("smoke", 10*time.Millisecond)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "smoke",
		Type:         executor.TypeConstantVUs,
		VUs:          3,
		Duration:     200 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Errorf("Run() returned after %v, before the duration", elapsed)
	}
	if n.Load() < 10 {
		t.Errorf("iterations = %d, want at least 10", n.Load())
	}
	if got := m.GetScenarioStats()["smoke"].Iterations; got != n.Load() {
		t.Errorf("recorded iterations = %d, completed = %d", got, n.Load())
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() after Run = %d, want 0", e.GetActiveVUs())
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() after Run = %v, want 1.0", e.GetProgress())
	}

	phases := phasesOf(m, "smoke")
	want := []metrics.Phase{metrics.PhaseSteady, metrics.PhaseGraceful, metrics.PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestConstantVUs_GracefulStopInterrupts(t *testing.T) {
	scheduler, m, n := newRig("slow", time.Second)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "slow",
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     50 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Errorf("Run() took %v, graceful stop was not enforced", elapsed)
	}
	if n.Load() != 0 {
		t.Errorf("completed iterations = %d, want 0", n.Load())
	}
	if got := m.GetScenarioStats()["slow"].Iterations; got != 0 {
		t.Errorf("interrupted iterations were recorded: %d", got)
	}
}

func TestConstantVUs_GracefulStopLetsIterationsFinish(t *testing.T) {
	scheduler, m, n := newRig("finish", 150*time.Millisecond)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "finish",
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     50 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := e.Run(context.Background(), scheduler, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n.Load() != 2 {
		t.Errorf("completed iterations = %d, want 2", n.Load())
	}
}

func TestConstantVUs_Stop(t *testing.T) {
	scheduler, m, _ := newRig("stop", 5*time.Millisecond)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "stop",
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     time.Minute,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), scheduler, m) }()

	time.Sleep(50 * time.Millisecond)
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

func TestConstantVUs_ContextCancel(t *testing.T) {
	scheduler, m, _ := newRig("cancel", 5*time.Millisecond)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "cancel",
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     time.Minute,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := e.Run(ctx, scheduler, m); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
}

func TestConstantVUs_GetStats(t *testing.T) {
	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:     "stats",
		Type:     executor.TypeConstantVUs,
		VUs:      5,
		Duration: time.Minute,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	stats := e.GetStats()
	if stats.TargetVUs != 5 {
		t.Errorf("TargetVUs = %d, want 5", stats.TargetVUs)
	}
	if stats.TotalDuration != time.Minute {
		t.Errorf("TotalDuration = %v, want 1m", stats.TotalDuration)
	}
	if e.GetProgress() != 0 {
		t.Errorf("GetProgress() before Run = %v, want 0", e.GetProgress())
	}
}

func TestConstantVUs_StopBeforeRun(t *testing.T) {
	scheduler, m, n := newRig("smoke", 10*time.Millisecond)
	defer m.Stop()

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Name:         "smoke",
		Type:         executor.TypeConstantVUs,
		VUs:          2,
		Duration:     time.Minute,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v after an early Stop, want the schedule skipped", elapsed)
	}
	if got := n.Load(); got > 2 {
		t.Errorf("iterations = %d, want at most one per VU", got)
	}
}
