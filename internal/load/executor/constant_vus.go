package executor

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration.
//
// Each VU runs iterations back to back (closed model), optionally with
// pacing between iterations. Throughput therefore depends on response time.
//
// Example:
//
//	smoke:
//	  executor: constant-vus
//	  vus: 2
//	  duration: 30s
type ConstantVUs struct {
	runState

	config *Config
	wg     sync.WaitGroup
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *load.VUScheduler, metricsEngine *metrics.Engine) error {
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()
	schedCtx, schedCancel := context.WithTimeout(iterCtx, e.config.Duration)
	defer schedCancel()

	e.begin(scheduler, metricsEngine, schedCancel)
	defer e.finish()

	logger := log.WithFields(log.Fields{"scenario": e.config.Name, "executor": TypeConstantVUs})
	logger.WithField("vus", e.config.VUs).Debug("starting VUs")

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseSteady)
	for i := 0; i < e.config.VUs; i++ {
		vu := scheduler.SpawnVU()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			scheduler.RunVU(iterCtx, vu, e.config.Pacing)
		}()
	}
	scheduler.UpdateMetrics()

	<-schedCtx.Done()

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseGraceful)
	scheduler.StopAllVUs()
	if !waitGraceful(&e.wg, e.config.GracefulStop, iterCancel) {
		logger.WithField("gracefulStop", e.config.GracefulStop).Warn("iterations interrupted at end of graceful stop")
	}

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseDone)
	scheduler.UpdateMetrics()
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	if e.config == nil {
		return 0
	}
	return e.progress(e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return e.activeVUs()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	st := e.baseStats(e.config.Name, e.config.Duration)
	st.TargetVUs = e.config.VUs
	return st
}

var _ Executor = (*ConstantVUs)(nil)
