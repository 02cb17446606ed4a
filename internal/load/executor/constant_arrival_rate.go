package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/rate"
)

// ConstantArrivalRate maintains a fixed iteration rate (open model).
//
// Unlike VU-based executors where throughput depends on response time,
// arrival-rate executors start iterations at a constant rate regardless
// of how long each iteration takes.
//
// The executor uses a LeakyBucket to schedule iteration starts and keeps a
// pool of VUs to execute them. The pool grows from PreAllocatedVUs up to
// MaxVUs; when it is exhausted the iteration is dropped.
//
// Example:
//
//	error_mix:
//	  executor: constant-arrival-rate
//	  rate: 20              # 20 iterations
//	  timeUnit: 1s          # per second
//	  duration: 2m
//	  preAllocatedVUs: 20
//	  maxVUs: 50
type ConstantArrivalRate struct {
	runState

	config *Config
	pool   atomic.Pointer[vuPool]
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	applyPoolDefaults(config)

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *load.VUScheduler, metricsEngine *metrics.Engine) error {
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()
	schedCtx, schedCancel := context.WithTimeout(iterCtx, e.config.Duration)
	defer schedCancel()

	e.begin(scheduler, metricsEngine, schedCancel)
	defer e.finish()

	logger := log.WithFields(log.Fields{"scenario": e.config.Name, "executor": TypeConstantArrivalRate})
	logger.WithFields(log.Fields{
		"rate":     e.config.Rate,
		"timeUnit": e.config.TimeUnit,
		"maxVUs":   e.config.MaxVUs,
	}).Debug("starting arrivals")

	bucket := rate.NewLeakyBucket(e.config.perSecond(e.config.Rate))
	pool := newVUPool(e.config.Name, scheduler, metricsEngine, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseSteady)
	for bucket.Wait(schedCtx) == nil {
		pool.dispatch(iterCtx)
	}

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseGraceful)
	if !waitGraceful(&pool.wg, e.config.GracefulStop, iterCancel) {
		logger.WithField("gracefulStop", e.config.GracefulStop).Warn("iterations interrupted at end of graceful stop")
	}
	pool.close()

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseDone)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	if e.config == nil {
		return 0
	}
	return e.progress(e.config.Duration)
}

// GetActiveVUs returns the number of VUs busy with an iteration.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	return e.pool.Load().busyVUs()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	st := e.baseStats(e.config.Name, e.config.Duration)
	st.ActiveVUs = e.GetActiveVUs()
	st.TargetVUs = e.config.MaxVUs
	st.CurrentRate = e.config.perSecond(e.config.Rate)
	st.TargetRate = st.CurrentRate
	return st
}

var _ Executor = (*ConstantArrivalRate)(nil)
