package load

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load/check"
	"github.com/volleyload/volley/internal/load/config"
	"github.com/volleyload/volley/internal/load/metrics"
	"github.com/volleyload/volley/internal/load/picker"
	"github.com/volleyload/volley/pkg/jsonpath"
)

// HTTPWorkload executes a configured sequence of HTTP requests.
//
// Each iteration draws every picker into iteration variables, then runs the
// requests in order. Placeholders resolve from, in increasing priority, the
// global variables, values the VU extracted earlier, and the iteration's
// picker draws.
type HTTPWorkload struct {
	requests  []*preparedRequest
	sleep     time.Duration
	globals   map[string]string
	pickers   picker.Set
	headers   map[string]string
	userAgent string
}

type preparedRequest struct {
	cfg       config.RequestConfig
	timeout   time.Duration
	thinkTime time.Duration
	expected  []config.StatusRange
	checks    []*check.Check
	extract   []extractor
}

type extractor struct {
	name   string
	source string
	header string
	path   *jsonpath.Path
	re     *regexp.Regexp
}

// HTTPWorkloadOptions is the configuration shared by every request of a workload.
type HTTPWorkloadOptions struct {
	// Settings supply the default timeout, headers and user agent
	Settings config.GlobalSettings

	// Variables are the global placeholders, including baseUrl
	Variables map[string]string

	// Pickers are drawn once per iteration
	Pickers picker.Set
}

// NewHTTPWorkload prepares a workload for execution.
func NewHTTPWorkload(w *config.WorkloadConfig, opts HTTPWorkloadOptions) (*HTTPWorkload, error) {
	if w == nil || len(w.Requests) == 0 {
		return nil, fmt.Errorf("workload has no requests")
	}

	sleep, err := config.ParseDurationString(w.Sleep)
	if err != nil {
		return nil, fmt.Errorf("invalid sleep: %w", err)
	}

	hw := &HTTPWorkload{
		sleep:     sleep,
		globals:   opts.Variables,
		pickers:   opts.Pickers,
		headers:   opts.Settings.Headers,
		userAgent: opts.Settings.UserAgent,
	}

	defaultTimeout := opts.Settings.Timeout.GetDuration(config.DefaultTimeout)
	for i := range w.Requests {
		req, err := prepareRequest(w.Requests[i], defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		hw.requests = append(hw.requests, req)
	}
	return hw, nil
}

func prepareRequest(cfg config.RequestConfig, defaultTimeout time.Duration) (*preparedRequest, error) {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}

	req := &preparedRequest{cfg: cfg, timeout: defaultTimeout}

	var err error
	if cfg.Timeout != "" {
		if req.timeout, err = config.ParseDurationString(cfg.Timeout); err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if req.thinkTime, err = config.ParseDurationString(cfg.ThinkTime); err != nil {
		return nil, fmt.Errorf("invalid thinkTime: %w", err)
	}
	if req.expected, err = config.ParseStatusRanges(cfg.ExpectedStatuses); err != nil {
		return nil, err
	}
	if req.checks, err = check.CompileAll(cfg.Checks); err != nil {
		return nil, err
	}

	for _, ex := range cfg.Extract {
		e := extractor{name: ex.Name, source: ex.Source}
		switch ex.Source {
		case "header":
			e.header = ex.Path
		case "body":
			if ex.Path != "" {
				p, err := jsonpath.Compile(ex.Path)
				if err != nil {
					return nil, fmt.Errorf("extract %s: %w", ex.Name, err)
				}
				e.path = &p
			}
		case "status":
		default:
			return nil, fmt.Errorf("extract %s: invalid source %q", ex.Name, ex.Source)
		}
		if ex.Regex != "" {
			if e.re, err = regexp.Compile(ex.Regex); err != nil {
				return nil, fmt.Errorf("extract %s: %w", ex.Name, err)
			}
		}
		req.extract = append(req.extract, e)
	}

	return req, nil
}

// Iterate runs one iteration for vu.
func (w *HTTPWorkload) Iterate(ctx context.Context, vu *VirtualUser) error {
	vars := w.pickers.Draw(vu.Rand())

	for _, req := range w.requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.execute(ctx, vu, req, vars)

		if req.thinkTime > 0 && !vu.Sleep(ctx, req.thinkTime) {
			return ctx.Err()
		}
	}

	if w.sleep > 0 && !vu.Sleep(ctx, w.sleep) {
		return ctx.Err()
	}
	return nil
}

func (w *HTTPWorkload) execute(ctx context.Context, vu *VirtualUser, req *preparedRequest, iterVars map[string]string) {
	vuVars := vu.Data()
	resolve := func(s string) string {
		return config.ResolveVariables(s, w.globals, vuVars, iterVars)
	}

	reqCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	var body io.Reader
	if req.cfg.Body != "" {
		body = strings.NewReader(resolve(req.cfg.Body))
	}

	start := time.Now()
	resp := check.Response{}
	tracer := &phaseTracer{}

	httpReq, err := http.NewRequestWithContext(tracer.withTrace(reqCtx), req.cfg.Method, resolve(req.cfg.URL), body)
	if err == nil {
		for k, v := range w.headers {
			httpReq.Header.Set(k, resolve(v))
		}
		if w.userAgent != "" {
			httpReq.Header.Set("User-Agent", w.userAgent)
		}
		for k, v := range req.cfg.Headers {
			httpReq.Header.Set(k, resolve(v))
		}

		var httpResp *http.Response
		httpResp, err = vu.HTTPClient.Do(httpReq)
		if err == nil {
			resp.Status = httpResp.StatusCode
			resp.Headers = httpResp.Header
			resp.Body, err = io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
		}
	}
	end := time.Now()
	resp.Duration = end.Sub(start)
	resp.Err = err
	timing := tracer.finish(end)

	// an iteration cut off by the scenario's end is not a request failure
	if ctx.Err() != nil {
		return
	}

	failed := err != nil || !statusExpected(resp.Status, req.expected)
	if err != nil {
		log.WithFields(log.Fields{
			"scenario": vu.Scenario.Name,
			"request":  req.cfg.Name,
		}).WithError(err).Debug("request failed")
	}

	tags := make(map[string]string, len(vu.Scenario.Tags)+len(req.cfg.Tags)+1)
	for k, v := range vu.Scenario.Tags {
		tags[k] = v
	}
	for k, v := range req.cfg.Tags {
		tags[k] = v
	}

	if vu.Metrics != nil {
		vu.Metrics.RecordRequest(metrics.RequestSample{
			Scenario: vu.Scenario.Name,
			Name:     req.cfg.Name,
			Method:   req.cfg.Method,
			Status:   resp.Status,
			Duration: resp.Duration,
			Timing:   timing,
			Failed:   failed,
			Bytes:    int64(len(resp.Body)),
			Tags:     tags,
		})

		tags[metrics.TagScenario] = vu.Scenario.Name
		for _, out := range check.EvaluateAll(req.checks, resp) {
			vu.Metrics.RecordCheck(out.Name, out.Passed, tags)
		}
	}

	if err == nil {
		for _, ex := range req.extract {
			if v, ok := ex.apply(resp); ok {
				vu.SetData(ex.name, v)
			}
		}
	}
}

func statusExpected(status int, ranges []config.StatusRange) bool {
	for _, r := range ranges {
		if r.Contains(status) {
			return true
		}
	}
	return false
}

func (e extractor) apply(resp check.Response) (string, bool) {
	var value string
	switch e.source {
	case "header":
		value = resp.Headers.Get(e.header)
	case "status":
		value = strconv.Itoa(resp.Status)
	case "body":
		if e.path == nil {
			value = string(resp.Body)
			break
		}
		res, ok := e.path.Lookup(resp.Body)
		if !ok {
			return "", false
		}
		value = res.String()
	}

	if e.re != nil {
		m := e.re.FindStringSubmatch(value)
		switch {
		case m == nil:
			return "", false
		case len(m) > 1:
			value = m[1]
		default:
			value = m[0]
		}
	}
	return value, value != ""
}
