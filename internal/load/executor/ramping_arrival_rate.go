package executor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/rate"
)

// RampingArrivalRate ramps iteration rate up and down according to stages.
//
// Like ConstantArrivalRate, this is an open-model executor where iterations
// are scheduled at a target rate regardless of response time. The rate moves
// linearly from StartRate through each stage target; the LeakyBucket rate is
// updated every 100ms so transitions are smooth and never burst.
//
// A rate of zero pauses the bucket until the ramp brings it back up.
//
// Example:
//
//	spike:
//	  executor: ramping-arrival-rate
//	  startRate: 0
//	  timeUnit: 1s
//	  preAllocatedVUs: 50
//	  maxVUs: 100
//	  stages:
//	    - duration: 10s
//	      target: 100    # ramp from 0 to 100 iterations/s
//	    - duration: 10s
//	      target: 0      # and back down
type RampingArrivalRate struct {
	runState

	config *Config
	pool   atomic.Pointer[vuPool]

	currentStage atomic.Int32
	currentRate  atomic.Uint64 // math.Float64bits of iterations per second
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return TypeRampingArrivalRate
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	applyPoolDefaults(config)

	e.config = config
	e.setRate(config.perSecond(config.StartRate))
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *load.VUScheduler, metricsEngine *metrics.Engine) error {
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()
	schedCtx, schedCancel := context.WithTimeout(iterCtx, e.config.TotalDuration())
	defer schedCancel()

	e.begin(scheduler, metricsEngine, schedCancel)
	defer e.finish()

	logger := log.WithFields(log.Fields{"scenario": e.config.Name, "executor": TypeRampingArrivalRate})
	logger.WithFields(log.Fields{
		"startRate": e.config.StartRate,
		"timeUnit":  e.config.TimeUnit,
		"stages":    len(e.config.Stages),
		"maxVUs":    e.config.MaxVUs,
	}).Debug("starting arrivals")

	bucket := rate.NewLeakyBucket(e.config.perSecond(e.config.StartRate))
	pool := newVUPool(e.config.Name, scheduler, metricsEngine, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)

	start := time.Now()
	e.adjust(0, bucket, metricsEngine)

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		e.rateController(schedCtx, start, bucket, metricsEngine)
	}()

	for bucket.Wait(schedCtx) == nil {
		pool.dispatch(iterCtx)
	}
	<-controllerDone

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseGraceful)
	if !waitGraceful(&pool.wg, e.config.GracefulStop, iterCancel) {
		logger.WithField("gracefulStop", e.config.GracefulStop).Warn("iterations interrupted at end of graceful stop")
	}
	pool.close()

	metricsEngine.SetPhase(e.config.Name, metrics.PhaseDone)
	return nil
}

// rateController moves the bucket rate along the stages until ctx ends.
func (e *RampingArrivalRate) rateController(ctx context.Context, start time.Time, bucket *rate.LeakyBucket, m *metrics.Engine) {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adjust(time.Since(start), bucket, m)
		}
	}
}

func (e *RampingArrivalRate) adjust(elapsed time.Duration, bucket *rate.LeakyBucket, m *metrics.Engine) {
	r := e.calculateTargetRate(elapsed)
	bucket.SetRate(r)
	e.setRate(r)

	idx := int(e.currentStage.Load())
	if idx < len(e.config.Stages) {
		from := stageStart(e.config.StartRate, e.config.Stages, idx)
		m.SetPhase(e.config.Name, stagePhase(from, float64(e.config.Stages[idx].Target)))
	}
}

// calculateTargetRate returns the iterations per second the stages
// prescribe at elapsed.
func (e *RampingArrivalRate) calculateTargetRate(elapsed time.Duration) float64 {
	v, idx := interpolate(e.config.StartRate, e.config.Stages, elapsed)
	e.currentStage.Store(int32(idx))
	if v < 0 {
		v = 0
	}
	return e.config.perSecond(v)
}

func (e *RampingArrivalRate) setRate(r float64) {
	e.currentRate.Store(math.Float64bits(r))
}

// GetCurrentRate returns the current iteration rate per second.
func (e *RampingArrivalRate) GetCurrentRate() float64 {
	return math.Float64frombits(e.currentRate.Load())
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	if e.config == nil {
		return 0
	}
	return e.progress(e.config.TotalDuration())
}

// GetActiveVUs returns the number of VUs busy with an iteration.
func (e *RampingArrivalRate) GetActiveVUs() int {
	return e.pool.Load().busyVUs()
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	st := e.baseStats(e.config.Name, e.config.TotalDuration())
	st.ActiveVUs = e.GetActiveVUs()
	st.TargetVUs = e.config.MaxVUs
	st.CurrentRate = e.GetCurrentRate()
	st.TotalStages = len(e.config.Stages)
	st.CurrentStage = int(e.currentStage.Load())
	if st.CurrentStage < len(e.config.Stages) {
		stage := e.config.Stages[st.CurrentStage]
		st.CurrentStageName = stage.Name
		st.TargetRate = e.config.perSecond(float64(stage.Target))
	} else {
		st.TargetRate = st.CurrentRate
	}
	return st
}

var _ Executor = (*RampingArrivalRate)(nil)
