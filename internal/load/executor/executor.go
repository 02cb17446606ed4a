// Package executor provides load generation strategies for scenarios.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps iteration rate up and down.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// controllerInterval is how often ramping executors re-evaluate their target.
const controllerInterval = 100 * time.Millisecond

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated: either by managing a pool of
// virtual users (closed model) or by controlling the iteration start rate
// (open model).
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until the schedule and its
	// graceful stop window are over, or ctx is cancelled.
	Run(ctx context.Context, scheduler *load.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the schedule early. In-flight iterations still get the
	// graceful stop window.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors; rates are iterations per TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	StartRate       float64       `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the schedule ends
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown bounds iterations of VUs removed during a ramp-down
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// Pacing between iterations (VU executors)
	Pacing load.Pacing `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate per TimeUnit (ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iteration stats
	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors), iterations per second
	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingArrivalRate:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration calculates the scheduled duration, excluding graceful stop.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// perSecond converts a rate per TimeUnit to a rate per second.
func (c *Config) perSecond(r float64) float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	return r / unit.Seconds()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// interpolate returns the value the stages prescribe at elapsed, moving
// linearly from start through each stage target, and the index of the
// current stage. Past the last stage the index equals len(stages).
func interpolate(start float64, stages []Stage, elapsed time.Duration) (float64, int) {
	var stageStart time.Duration
	prev := start

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			return prev + (float64(stage.Target)-prev)*progress, i
		}
		prev = float64(stage.Target)
		stageStart = stageEnd
	}
	return prev, len(stages)
}

// stagePhase classifies a stage by the direction of its ramp.
func stagePhase(from, to float64) metrics.Phase {
	switch {
	case to > from:
		return metrics.PhaseRampUp
	case to < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// stageStart is the value a stage ramps from.
func stageStart(start float64, stages []Stage, idx int) float64 {
	if idx == 0 {
		return start
	}
	return float64(stages[idx-1].Target)
}

// waitGraceful waits for wg, cancelling in-flight iterations once grace has
// passed. It reports whether everything finished within grace.
func waitGraceful(wg *sync.WaitGroup, grace time.Duration, cancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		cancel()
		<-done
		return false
	}
}

// runState is the bookkeeping every executor shares between Run and the
// goroutines reading its progress.
type runState struct {
	mu        sync.RWMutex
	start     time.Time
	running   bool
	scheduler *load.VUScheduler
	metrics   *metrics.Engine
	cancel    context.CancelFunc
	// stopped records a Stop that arrived before begin
	stopped bool
}

func (s *runState) begin(scheduler *load.VUScheduler, m *metrics.Engine, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = time.Now()
	s.running = true
	s.scheduler = scheduler
	s.metrics = m
	s.cancel = cancel
	if s.stopped {
		cancel()
	}
}

func (s *runState) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *runState) snapshot() (start time.Time, running bool, scheduler *load.VUScheduler, m *metrics.Engine) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start, s.running, s.scheduler, s.metrics
}

// progress returns elapsed/total clamped to [0, 1].
func (s *runState) progress(total time.Duration) float64 {
	start, running, _, _ := s.snapshot()
	if !running {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if total <= 0 {
		return 1.0
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// baseStats fills the fields every executor reports.
func (s *runState) baseStats(name string, total time.Duration) *Stats {
	start, _, scheduler, m := s.snapshot()

	st := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		TotalDuration: total,
	}
	if !start.IsZero() {
		st.Elapsed = time.Since(start)
	}
	if scheduler != nil {
		st.ActiveVUs = scheduler.GetActiveVUCount()
	}
	st.Iterations, st.DroppedIterations = scenarioIterations(m, name)
	return st
}

// activeVUs returns the scheduler's non-stopped VU count.
func (s *runState) activeVUs() int {
	_, _, scheduler, _ := s.snapshot()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// Stop ends the schedule early. In-flight iterations still get the graceful
// stop window. A Stop before Run makes the schedule end as soon as it starts.
func (s *runState) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// scenarioIterations reads the iteration counters of one scenario.
func scenarioIterations(m *metrics.Engine, name string) (iterations, dropped int64) {
	if m == nil {
		return 0, 0
	}
	st, ok := m.GetScenarioStats()[name]
	if !ok {
		return 0, 0
	}
	return st.Iterations, st.DroppedIterations
}
