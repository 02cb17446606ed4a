package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// The VU count moves linearly from StartVUs through each stage target and
// is re-evaluated every 100ms. VUs removed during a ramp-down finish their
// current iteration, bounded by GracefulRampDown.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # ramp from startVUs to 10 VUs over 30s
//	  - duration: 60s
//	    target: 20     # ramp from 10 to 20 VUs
//	  - duration: 30s
//	    target: 0      # ramp down to 0 VUs
type RampingVUs struct {
	runState

	config *Config

	targetVUs    atomic.Int32
	currentStage atomic.Int32

	wg sync.WaitGroup
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.targetVUs.Store(int32(config.StartVUs))
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *load.VUScheduler, metricsEngine *metrics.Engine) error {
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()
	schedCtx, schedCancel := context.WithTimeout(iterCtx, e.config.TotalDuration())
	defer schedCancel()

	e.begin(scheduler, metricsEngine, schedCancel)
	defer e.finish()

	logger := log.WithFields(log.Fields{"scenario": e.config.Name, "executor": TypeRampingVUs})
	logger.WithFields(log.Fields{"startVUs": e.config.StartVUs, "stages": len(e.config.Stages)}).Debug("starting ramp")

	spawn := func(vu *load.VirtualUser) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			scheduler.RunVU(iterCtx, vu, e.config.Pacing)
		}()
	}

	start := time.Now()
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	for running := true; running; {
		e.adjust(time.Since(start), scheduler, metricsEngine, spawn)

		select {
		case <-schedCtx.Done():
			running = false
		case <-ticker.C:
		}
	}

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseGraceful)
	scheduler.StopAllVUs()
	if !waitGraceful(&e.wg, e.config.GracefulStop, iterCancel) {
		logger.WithField("gracefulStop", e.config.GracefulStop).Warn("iterations interrupted at end of graceful stop")
	}

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseDone)
	scheduler.UpdateMetrics()
	return nil
}

func (e *RampingVUs) adjust(elapsed time.Duration, scheduler *load.VUScheduler, m *metrics.Engine, spawn func(*load.VirtualUser)) {
	target := e.calculateTargetVUs(elapsed)
	e.targetVUs.Store(int32(target))
	scheduler.ScaleVUs(target, e.config.GracefulRampDown, spawn)

	idx := int(e.currentStage.Load())
	if idx < len(e.config.Stages) {
		from := stageStart(float64(e.config.StartVUs), e.config.Stages, idx)
		m.SetPhase(e.config.Name, stagePhase(from, float64(e.config.Stages[idx].Target)))
	}
}

// calculateTargetVUs returns the VU count the stages prescribe at elapsed.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	v, idx := interpolate(float64(e.config.StartVUs), e.config.Stages, elapsed)
	e.currentStage.Store(int32(idx))
	return int(math.Round(v))
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.config == nil {
		return 0
	}
	return e.progress(e.config.TotalDuration())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return e.activeVUs()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	st := e.baseStats(e.config.Name, e.config.TotalDuration())
	st.TargetVUs = int(e.targetVUs.Load())
	st.TotalStages = len(e.config.Stages)
	st.CurrentStage = int(e.currentStage.Load())
	if st.CurrentStage < len(e.config.Stages) {
		st.CurrentStageName = e.config.Stages[st.CurrentStage].Name
	}
	return st
}

var _ Executor = (*RampingVUs)(nil)
