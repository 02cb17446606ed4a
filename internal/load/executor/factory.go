package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/config"
)

// Descriptor documents one executor type and constructs it.
type Descriptor struct {
	Type    Type
	Model   string
	Summary string
	// Options lists the scenario keys the executor reads besides the
	// common startTime, gracefulStop and tags.
	Options []string

	new func() Executor
}

var descriptors = []Descriptor{
	{
		Type:    TypeConstantVUs,
		Model:   "closed",
		Summary: "A fixed number of VUs loop over the workload until the duration ends",
		Options: []string{"vus", "duration", "pacing"},
		new:     func() Executor { return NewConstantVUs() },
	},
	{
		Type:    TypeRampingVUs,
		Model:   "closed",
		Summary: "VUs move linearly from startVUs through each stage target",
		Options: []string{"startVUs", "stages", "gracefulRampDown", "pacing"},
		new:     func() Executor { return NewRampingVUs() },
	},
	{
		Type:    TypeConstantArrivalRate,
		Model:   "open",
		Summary: "Iterations start at rate per timeUnit whatever the response time; with no free VU they are dropped",
		Options: []string{"rate", "timeUnit", "duration", "preAllocatedVUs", "maxVUs"},
		new:     func() Executor { return NewConstantArrivalRate() },
	},
	{
		Type:    TypeRampingArrivalRate,
		Model:   "open",
		Summary: "The iteration rate moves linearly from startRate through each stage target",
		Options: []string{"startRate", "timeUnit", "stages", "preAllocatedVUs", "maxVUs"},
		new:     func() Executor { return NewRampingArrivalRate() },
	},
}

// NewExecutor returns an uninitialized executor of the given type. Call
// Init before Run.
func NewExecutor(executorType Type) (Executor, error) {
	d := GetExecutorDescription(executorType)
	if d == nil {
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
	return d.new(), nil
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from a scenario config.
//
// This function bridges config.ScenarioConfig (from YAML/JSON) to executor.Config,
// handling duration parsing and pacing conversion.
func CreateExecutorFromScenarioConfig(ctx context.Context, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConfigFromScenario(sc)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	return exec, execConfig, nil
}

// ConfigFromScenario converts a config.ScenarioConfig to an executor Config.
func ConfigFromScenario(sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            sc.Name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		StartVUs:        sc.StartVUs,
		Rate:            sc.Rate,
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"duration", sc.Duration, &cfg.Duration},
		{"timeUnit", sc.TimeUnit, &cfg.TimeUnit},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
		{"gracefulRampDown", sc.GracefulRampDown, &cfg.GracefulRampDown},
	}
	for _, d := range durations {
		v, err := config.ParseDurationString(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = v
	}
	if cfg.TimeUnit == 0 {
		cfg.TimeUnit = time.Second
	}

	for i, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stages[%d].duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	pacing, err := load.NewPacing(sc.Pacing)
	if err != nil {
		return nil, err
	}
	cfg.Pacing = pacing

	return cfg, nil
}

// GetSupportedExecutors returns the executor types in documentation order.
func GetSupportedExecutors() []Type {
	types := make([]Type, len(descriptors))
	for i, d := range descriptors {
		types[i] = d.Type
	}
	return types
}

// GetExecutorDescription returns the descriptor of an executor type, or nil.
func GetExecutorDescription(executorType Type) *Descriptor {
	for i := range descriptors {
		if descriptors[i].Type == executorType {
			d := descriptors[i]
			return &d
		}
	}
	return nil
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
//
// For VU-based executors, this is the VU count or the max of startVUs and
// the stage targets. For arrival-rate executors, this is MaxVUs.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeConstantVUs:
		return cfg.VUs
	case TypeRampingVUs:
		maxVUs := cfg.StartVUs
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	case TypeConstantArrivalRate, TypeRampingArrivalRate:
		if cfg.MaxVUs > cfg.PreAllocatedVUs {
			return cfg.MaxVUs
		}
		return cfg.PreAllocatedVUs
	default:
		return cfg.VUs
	}
}

// TotalMaxVUs sums CalculateMaxVUs over all configs, an upper bound for
// the vus_max metric when scenarios overlap.
func TotalMaxVUs(cfgs []*Config) int {
	total := 0
	for _, cfg := range cfgs {
		total += CalculateMaxVUs(cfg)
	}
	return total
}
