// Package engine runs a load test: it builds one scheduler and executor per
// scenario, starts each at its offset on a shared clock and evaluates
// thresholds while the test runs and at its end.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/config"
	"github.com/volleyload/volley/internal/load/executor"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/picker"
	"github.com/volleyload/volley/internal/load/threshold"
)

// shutdownTimeout bounds how long a scenario's VU goroutines may take to exit
// once its executor returned.
const shutdownTimeout = 5 * time.Second

// Engine is the main orchestrator of a load test.
//
// It coordinates:
//   - Configuration defaults and validation
//   - Scenario execution with their respective executors
//   - Metrics collection and aggregation
//   - Threshold evaluation, including aborting the run early
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.Options{})
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config  *config.TestConfig
	baseURL string

	metricsEngine     *metrics.Engine
	evaluator         *threshold.Evaluator
	thresholdInterval time.Duration

	runners []*ScenarioRunner

	mu        sync.RWMutex
	runID     string
	startTime time.Time
	running   bool
	ran       bool

	stopOnce sync.Once
	stopCh   chan struct{}

	abortMu     sync.Mutex
	abortReason string
}

// Options are run-time inputs that do not belong in the test file.
type Options struct {
	// BaseURL overrides settings.baseUrl verbatim when non-empty
	BaseURL string
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name        string
	Config      *config.ScenarioConfig
	ExecConfig  *executor.Config
	Executor    executor.Executor
	Scheduler   *load.VUScheduler
	Scenario    *load.Scenario
	StartOffset time.Duration

	started atomic.Bool
	result  *ScenarioResult
}

// Started reports whether the scenario's start offset has passed.
func (r *ScenarioRunner) Started() bool {
	return r.started.Load()
}

// NewEngine prepares a test for execution.
//
// Defaults are applied to cfg in place. Every configuration problem is
// reported, not only the first.
func NewEngine(cfg *config.TestConfig, opts Options) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	baseURL := config.ResolveBaseURL(opts.BaseURL, cfg.Settings.BaseURL)
	cfg.Settings.BaseURL = baseURL

	interval, err := config.ParseDurationString(cfg.Options.ThresholdInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholdInterval: %w", err)
	}

	defs, err := cfg.Thresholds.Definitions()
	if err != nil {
		return nil, err
	}
	evaluator, err := threshold.NewEvaluator(defs)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	e := &Engine{
		config:            cfg,
		baseURL:           baseURL,
		metricsEngine:     metrics.NewEngine(),
		evaluator:         evaluator,
		thresholdInterval: interval,
		stopCh:            make(chan struct{}),
	}

	// submetrics only see samples recorded after registration
	for _, sel := range evaluator.Submetrics() {
		if err := e.metricsEngine.AddSubmetric(sel.Metric, sel.Tags); err != nil {
			e.metricsEngine.Stop()
			return nil, fmt.Errorf("threshold %s: %w", sel, err)
		}
	}

	if err := e.initializeScenarios(); err != nil {
		e.metricsEngine.Stop()
		return nil, err
	}
	return e, nil
}

// initializeScenarios creates executors and schedulers for all scenarios.
func (e *Engine) initializeScenarios() error {
	pickers := make(picker.Set, len(e.config.Pickers))
	for name, pc := range e.config.Pickers {
		p, err := pc.Build()
		if err != nil {
			return fmt.Errorf("picker %s: %w", name, err)
		}
		pickers[name] = p
	}

	variables := config.MergeVariables(e.config.Variables, map[string]string{
		"baseUrl": e.baseURL,
		"baseURL": e.baseURL,
	})

	httpConfig := load.DefaultHTTPClientConfig()
	httpConfig.MaxIdleConnsPerHost = e.config.Settings.MaxIdleConnsPerHost
	httpConfig.MaxConnsPerHost = e.config.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = e.config.Settings.InsecureSkipVerify
	httpConfig.UseSharedClient = !e.config.Options.NoConnectionReuse

	var errs *multierror.Error
	for _, sc := range e.config.Scenarios {
		runner, err := e.newRunner(sc, variables, pickers, httpConfig)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scenario %s: %w", sc.Name, err))
			continue
		}
		e.runners = append(e.runners, runner)
	}
	return errs.ErrorOrNil()
}

func (e *Engine) newRunner(sc *config.ScenarioConfig, variables map[string]string, pickers picker.Set, httpConfig load.HTTPClientConfig) (*ScenarioRunner, error) {
	workload, err := load.NewHTTPWorkload(sc.Workload, load.HTTPWorkloadOptions{
		Settings:  e.config.Settings,
		Variables: variables,
		Pickers:   pickers,
	})
	if err != nil {
		return nil, err
	}

	offset, err := config.ParseDurationString(sc.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid startTime: %w", err)
	}

	exec, execConfig, err := executor.CreateExecutorFromScenarioConfig(context.Background(), sc)
	if err != nil {
		return nil, err
	}

	scenario := &load.Scenario{
		Name:     sc.Name,
		Tags:     sc.Tags,
		Workload: workload,
	}

	return &ScenarioRunner{
		Name:        sc.Name,
		Config:      sc,
		ExecConfig:  execConfig,
		Executor:    exec,
		Scheduler:   load.NewVUScheduler(scenario, e.metricsEngine, httpConfig),
		Scenario:    scenario,
		StartOffset: offset,
	}, nil
}

// Run executes all scenarios and returns the test results.
//
// Scenarios run concurrently, each starting at its startTime offset.
// Cancelling ctx interrupts in-flight iterations at once, without a graceful
// stop window, and marks the result interrupted. Use Stop to end the run
// gracefully.
//
// The returned error aggregates scenario failures. Failed thresholds are not
// an error; see TestResult.Passed.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running || e.ran {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already been started")
	}
	e.running = true
	e.ran = true
	e.runID = uuid.NewString()
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer e.metricsEngine.Stop()

	cfgs := make([]*executor.Config, len(e.runners))
	for i, r := range e.runners {
		cfgs[i] = r.ExecConfig
	}
	logger := log.WithFields(log.Fields{"run": e.runID, "test": e.config.Name})
	logger.WithFields(log.Fields{
		"scenarios": len(e.runners),
		"baseUrl":   e.baseURL,
		"maxVUs":    executor.TotalMaxVUs(cfgs),
	}).Info("Starting load test")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	e.metricsEngine.MarkStart()
	for _, r := range e.runners {
		e.metricsEngine.SetPhase(r.Name, metrics.PhaseInit)
	}

	watchCtx, stopWatch := context.WithCancel(runCtx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		e.evaluator.Watch(watchCtx, e.metricsEngine, e.thresholdInterval, func(r threshold.Result) {
			e.setAbort(fmt.Sprintf("threshold %s %s crossed (value %.4g)", r.Metric, r.Expression, r.Value))
			cancelRun()
		})
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for _, runner := range e.runners {
		runner := runner
		g.Go(func() error {
			return e.runScenario(gctx, runner)
		})
	}
	_ = g.Wait()

	stopWatch()
	<-watchDone

	var errs *multierror.Error
	for _, r := range e.runners {
		if r.result != nil && r.result.Error != "" {
			errs = multierror.Append(errs, fmt.Errorf("scenario %s: %s", r.Name, r.result.Error))
		}
	}

	result := e.buildResult(ctx)
	if errs.ErrorOrNil() != nil {
		result.Error = errs.Error()
	}

	logger.WithFields(log.Fields{
		"passed":   result.Passed,
		"aborted":  result.Aborted,
		"requests": result.Metrics.TotalRequests,
		"duration": result.Duration.Round(time.Millisecond),
	}).Info("Load test finished")

	return result, errs.ErrorOrNil()
}

// runScenario waits for the scenario's start offset and runs its executor.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) error {
	logger := log.WithFields(log.Fields{"run": e.runID, "scenario": runner.Name})
	result := &ScenarioResult{
		Name:        runner.Name,
		Executor:    string(runner.Executor.Type()),
		Description: runner.Config.Describe(),
		StartOffset: runner.StartOffset,
		MaxVUs:      executor.CalculateMaxVUs(runner.ExecConfig),
	}
	runner.result = result

	if !e.waitForStart(ctx, runner.StartOffset) {
		logger.Info("Scenario skipped, test ended before its start time")
		result.Skipped = true
		e.metricsEngine.SetPhase(runner.Name, metrics.PhaseDone)
		return nil
	}

	runner.started.Store(true)
	result.StartTime = time.Now()
	logger.WithField("executor", result.Executor).Info("Scenario started")

	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	runner.Scheduler.Shutdown(shutdownTimeout)

	result.Duration = time.Since(result.StartTime)
	if err != nil {
		result.Error = err.Error()
		logger.WithError(err).Error("Scenario failed")
		return fmt.Errorf("scenario %s: %w", runner.Name, err)
	}

	logger.WithField("duration", result.Duration.Round(time.Millisecond)).Info("Scenario finished")
	return nil
}

// waitForStart blocks until offset has passed on the test clock. It returns
// false if the test ended first.
func (e *Engine) waitForStart(ctx context.Context, offset time.Duration) bool {
	e.mu.RLock()
	wait := offset - time.Since(e.startTime)
	e.mu.RUnlock()

	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-e.stopCh:
			return false
		default:
			return true
		}
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) setAbort(reason string) {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	if e.abortReason == "" {
		e.abortReason = reason
	}
}

func (e *Engine) getAbort() string {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	return e.abortReason
}

// GetConfig returns the test configuration, with defaults applied.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// BaseURL returns the resolved base URL requests are sent to.
func (e *Engine) BaseURL() string {
	return e.baseURL
}

// RunID returns the identifier of the current or last run.
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// Metrics returns the metrics engine shared by all scenarios.
func (e *Engine) Metrics() *metrics.Engine {
	return e.metricsEngine
}

// Runners returns the scenario runners in declaration order.
func (e *Engine) Runners() []*ScenarioRunner {
	return e.runners
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.GetSnapshot()
}

// GetTimeSeries returns the time series data.
func (e *Engine) GetTimeSeries() []*metrics.TimeBucket {
	return e.metricsEngine.GetTimeSeries()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Elapsed returns the time since Run started.
func (e *Engine) Elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// Stop ends the test early. Scenarios that have not started are skipped and
// running ones get their graceful stop window.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })

	var errs *multierror.Error
	for _, runner := range e.runners {
		if err := runner.Executor.Stop(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scenario %s: %w", runner.Name, err))
		}
	}
	return errs.ErrorOrNil()
}

// GetProgress returns the overall test progress (0.0 to 1.0) on the test
// clock, from start to the scheduled end of the last scenario.
func (e *Engine) GetProgress() float64 {
	var total time.Duration
	for _, r := range e.runners {
		if end := r.StartOffset + r.ExecConfig.TotalDuration(); end > total {
			total = end
		}
	}
	if total <= 0 {
		return 0
	}

	if !e.IsRunning() && e.hasRun() {
		return 1
	}
	p := float64(e.Elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

func (e *Engine) hasRun() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ran
}

// GetScenarioStats returns current executor stats for all scenarios.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.runners))
	for _, runner := range e.runners {
		stats[runner.Name] = runner.Executor.GetStats()
	}
	return stats
}
