package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/volleyload/volley/internal/load/check"
	"github.com/volleyload/volley/internal/load/picker"
	"github.com/volleyload/volley/internal/load/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validExecutors = map[string]bool{
	"constant-vus":          true,
	"ramping-vus":           true,
	"constant-arrival-rate": true,
	"ramping-arrival-rate":  true,
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

var placeholder = regexp.MustCompile(`\{\{[^}]*\}\}`)

// Validate validates the entire test configuration. It is meant to run after
// ApplyDefaults.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, sc := range c.Scenarios {
		validateScenario(sc, c, errs)
	}

	if c.Workload != nil {
		validateWorkload("workload", c.Workload, errs)
	}

	for name, p := range c.Pickers {
		validatePicker("pickers."+name, p, errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)
	if c.Options != nil {
		validateOptions(c.Options, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(sc *ScenarioConfig, c *TestConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", sc.Name)

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !validExecutors[sc.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	switch sc.Executor {
	case "constant-vus":
		validateConstantVUs(prefix, sc, errs)
	case "ramping-vus":
		validateRampingVUs(prefix, sc, errs)
	case "constant-arrival-rate":
		validateConstantArrivalRate(prefix, sc, errs)
	case "ramping-arrival-rate":
		validateRampingArrivalRate(prefix, sc, errs)
	}

	validateNonNegativeDuration(prefix+".startTime", sc.StartTime, errs)
	validateNonNegativeDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateNonNegativeDuration(prefix+".gracefulRampDown", sc.GracefulRampDown, errs)

	if sc.Pacing != nil {
		validatePacing(prefix+".pacing", sc.Pacing, errs)
	}

	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}

	switch {
	case sc.Workload == nil && c.Workload == nil:
		errs.Add(prefix+".workload", "no workload defined for scenario and no top-level workload")
	case sc.Workload != nil && sc.Workload != c.Workload:
		validateWorkload(prefix+".workload", sc.Workload, errs)
	}
}

func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	validateRequiredDuration(prefix, sc, errs)
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}
}

func validateConstantArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}
	validateRequiredDuration(prefix, sc, errs)
	validateArrivalPool(prefix, sc, errs)
}

func validateRampingArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
	}
	if sc.StartRate < 0 {
		errs.Add(prefix+".startRate", "startRate cannot be negative")
	}
	validateArrivalPool(prefix, sc, errs)
}

func validateRequiredDuration(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.Duration == "" {
		errs.Add(prefix+".duration", fmt.Sprintf("duration is required for %s executor", sc.Executor))
		return
	}
	d, err := ParseDurationString(sc.Duration)
	if err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

func validateArrivalPool(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}
	if sc.TimeUnit != "" {
		d, err := ParseDurationString(sc.TimeUnit)
		if err != nil {
			errs.Add(prefix+".timeUnit", fmt.Sprintf("invalid timeUnit: %v", err))
		} else if d <= 0 {
			errs.Add(prefix+".timeUnit", "timeUnit must be greater than 0")
		}
	}
}

func validateNonNegativeDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(field, "cannot be negative")
	}
}

func validateWorkload(prefix string, w *WorkloadConfig, errs *ValidationErrors) {
	if len(w.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for i := range w.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &w.Requests[i], errs)
	}
	validateNonNegativeDuration(prefix+".sleep", w.Sleep, errs)
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// placeholders are resolved per iteration, so validate the shape only
		urlToCheck := strings.ReplaceAll(req.URL, "{{baseUrl}}", "http://example.com")
		urlToCheck = placeholder.ReplaceAllString(urlToCheck, "placeholder")
		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	validateNonNegativeDuration(prefix+".timeout", req.Timeout, errs)
	validateNonNegativeDuration(prefix+".thinkTime", req.ThinkTime, errs)

	if _, err := ParseStatusRanges(req.ExpectedStatuses); err != nil {
		errs.Add(prefix+".expectedStatuses", err.Error())
	}

	for i, def := range req.Checks {
		if _, err := check.Compile(def); err != nil {
			errs.Add(fmt.Sprintf("%s.checks[%d]", prefix, i), err.Error())
		}
	}

	for i, extract := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &extract, errs)
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if _, err := ParseDurationString(pacing.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Min); err != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", err))
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if _, err := ParseDurationString(pacing.Max); err != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", err))
		}

		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := ParseDurationString(pacing.Min)
			maxDur, _ := ParseDurationString(pacing.Max)
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	validSources := map[string]bool{
		"body": true, "header": true, "status": true,
	}

	if extract.Source == "" {
		errs.Add(prefix+".source", "source is required")
	} else if !validSources[extract.Source] {
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", extract.Source))
	}
	if extract.Source == "header" && extract.Path == "" {
		errs.Add(prefix+".path", "header name is required")
	}

	if extract.Regex != "" {
		if _, err := regexp.Compile(extract.Regex); err != nil {
			errs.Add(prefix+".regex", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

func validatePicker(prefix string, p *PickerConfig, errs *ValidationErrors) {
	if p == nil {
		errs.Add(prefix, "picker is empty")
		return
	}
	if _, err := p.Build(); err != nil {
		errs.Add(prefix, err.Error())
	}
}

// Build turns the configuration into a picker.
func (p *PickerConfig) Build() (*picker.Picker, error) {
	pools := make([]picker.Pool, len(p.Pools))
	for i, pool := range p.Pools {
		pools[i] = picker.Pool{Weight: pool.Weight, Values: pool.Values}
	}
	return picker.New(pools)
}

func validateThresholds(t Thresholds, errs *ValidationErrors) {
	defs, err := t.Definitions()
	if err != nil {
		errs.Add("thresholds", err.Error())
		return
	}
	for _, def := range defs {
		if _, err := threshold.Compile([]threshold.Definition{def}); err != nil {
			errs.Add(fmt.Sprintf("thresholds.%s", def.Metric), err.Error())
		}
	}
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", "base URL must be absolute")
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateOptions(o *ExecutionOptions, errs *ValidationErrors) {
	validateNonNegativeDuration("options.gracefulStop", o.GracefulStop, errs)
	if o.ThresholdInterval != "" {
		d, err := ParseDurationString(o.ThresholdInterval)
		if err != nil {
			errs.Add("options.thresholdInterval", fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			errs.Add("options.thresholdInterval", "must be greater than 0")
		}
	}
}
