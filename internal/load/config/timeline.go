package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBaseURL is the target when neither an override nor settings.baseUrl is given.
const DefaultBaseURL = "http://localhost:5000"

// ResolveBaseURL returns override verbatim when it is non-empty, otherwise
// the configured base URL, otherwise DefaultBaseURL.
func ResolveBaseURL(override, configured string) string {
	if override != "" {
		return override
	}
	if configured != "" {
		return configured
	}
	return DefaultBaseURL
}

// TimelineEntry is the static schedule of one scenario.
type TimelineEntry struct {
	Name         string        `json:"name"`
	Executor     string        `json:"executor"`
	Start        time.Duration `json:"start"`
	Duration     time.Duration `json:"duration"`
	GracefulStop time.Duration `json:"gracefulStop"`
	MaxVUs       int           `json:"maxVUs"`
}

// End is the latest moment the scenario can still be running.
func (e TimelineEntry) End() time.Duration {
	return e.Start + e.Duration + e.GracefulStop
}

// Timeline returns the schedule of every scenario in declaration order.
func (c *TestConfig) Timeline() ([]TimelineEntry, error) {
	entries := make([]TimelineEntry, 0, len(c.Scenarios))
	for _, sc := range c.Scenarios {
		start, err := ParseDurationString(sc.StartTime)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: invalid startTime: %w", sc.Name, err)
		}
		dur, err := ParseScenarioDuration(sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		grace, err := ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: invalid gracefulStop: %w", sc.Name, err)
		}

		entries = append(entries, TimelineEntry{
			Name:         sc.Name,
			Executor:     sc.Executor,
			Start:        start,
			Duration:     dur,
			GracefulStop: grace,
			MaxVUs:       sc.PeakVUs(),
		})
	}
	return entries, nil
}

// TotalDuration is the time from test start until the last scenario can end.
func TotalDuration(entries []TimelineEntry) time.Duration {
	var total time.Duration
	for _, e := range entries {
		if end := e.End(); end > total {
			total = end
		}
	}
	return total
}

// PeakVUs is the largest number of VUs the scenario can hold at once.
func (sc *ScenarioConfig) PeakVUs() int {
	switch sc.Executor {
	case "constant-vus":
		return sc.VUs
	case "ramping-vus":
		peak := sc.StartVUs
		for _, st := range sc.Stages {
			if st.Target > peak {
				peak = st.Target
			}
		}
		return peak
	case "constant-arrival-rate", "ramping-arrival-rate":
		if sc.MaxVUs > 0 {
			return sc.MaxVUs
		}
		return sc.PreAllocatedVUs
	}
	return 0
}

// Describe summarises a scenario's load shape in one line.
func (sc *ScenarioConfig) Describe() string {
	switch sc.Executor {
	case "constant-vus":
		return fmt.Sprintf("%d VUs for %s", sc.VUs, sc.Duration)
	case "ramping-vus":
		return fmt.Sprintf("%d VUs %s", sc.StartVUs, stageArrows(sc.Stages, ""))
	case "constant-arrival-rate":
		return fmt.Sprintf("%g iterations/%s for %s (VUs %d..%d)", sc.Rate, sc.TimeUnit, sc.Duration, sc.PreAllocatedVUs, sc.MaxVUs)
	case "ramping-arrival-rate":
		return fmt.Sprintf("%g/%s %s (VUs %d..%d)", sc.StartRate, sc.TimeUnit, stageArrows(sc.Stages, "/"+sc.TimeUnit), sc.PreAllocatedVUs, sc.MaxVUs)
	}
	return sc.Executor
}

func stageArrows(stages []StageConfig, unit string) string {
	parts := make([]string, len(stages))
	for i, st := range stages {
		parts[i] = fmt.Sprintf("-> %d%s over %s", st.Target, unit, st.Duration)
	}
	return strings.Join(parts, " ")
}
