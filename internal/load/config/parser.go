package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by ApplyDefaults.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultGracefulStop      = "30s"
	DefaultGracefulRampDown  = "30s"
	DefaultTimeUnit          = "1s"
	DefaultThresholdInterval = "2s"
	DefaultUserAgent         = "volley/1.0"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .json -> JSON
//   - anything else -> YAML
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. The format is determined by the
// file extension in path; empty or unknown extensions are parsed as YAML.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// The empty string is a zero duration.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseScenarioDuration returns the scheduled run time of a scenario: its
// duration, or for stage-based executors the sum of its stages.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if sc.Duration != "" {
		return ParseDurationString(sc.Duration)
	}

	if len(sc.Stages) > 0 {
		var total time.Duration
		for _, stage := range sc.Stages {
			stageDur, err := ParseDurationString(stage.Duration)
			if err != nil {
				return 0, fmt.Errorf("invalid stage duration: %w", err)
			}
			total += stageDur
		}
		return total, nil
	}

	return 0, fmt.Errorf("no duration specified and no stages defined")
}

// ResolveVariables replaces {{name}} placeholders. Later maps override
// earlier ones; unresolved placeholders are left as-is.
func ResolveVariables(input string, vars ...map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	var b strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			break
		}
		end += start + 2

		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : end])
		if v, ok := lookup(name, vars); ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func lookup(name string, vars []map[string]string) (string, bool) {
	for i := len(vars) - 1; i >= 0; i-- {
		if v, ok := vars[i][name]; ok {
			return v, true
		}
	}
	return "", false
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxConnectionsPerHost == 0 {
		config.Settings.MaxConnectionsPerHost = 100
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}
	if config.Options.GracefulStop == "" {
		config.Options.GracefulStop = DefaultGracefulStop
	}
	if config.Options.ThresholdInterval == "" {
		config.Options.ThresholdInterval = DefaultThresholdInterval
	}

	applyWorkloadDefaults(config.Workload)
	for _, sc := range config.Scenarios {
		applyScenarioDefaults(sc, config)
	}
}

func applyScenarioDefaults(sc *ScenarioConfig, config *TestConfig) {
	if sc.Executor == "" {
		sc.Executor = "constant-vus"
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = config.Options.GracefulStop
	}
	if sc.StartTime == "" {
		sc.StartTime = "0s"
	}

	switch sc.Executor {
	case "constant-vus":
		if sc.VUs == 0 {
			sc.VUs = 1
		}
	case "ramping-vus":
		if sc.GracefulRampDown == "" {
			sc.GracefulRampDown = DefaultGracefulRampDown
		}
	case "constant-arrival-rate", "ramping-arrival-rate":
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}

	if sc.Workload == nil {
		sc.Workload = config.Workload
	} else {
		applyWorkloadDefaults(sc.Workload)
	}
}

func applyWorkloadDefaults(w *WorkloadConfig) {
	if w == nil {
		return
	}
	for i := range w.Requests {
		req := &w.Requests[i]
		if req.Method == "" {
			req.Method = "GET"
		}
		req.Method = strings.ToUpper(req.Method)
		if req.Name == "" {
			req.Name = req.URL
		}
	}
}
