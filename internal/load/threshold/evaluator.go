package threshold

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load/metrics"
)

// DefaultInterval is how often Watch evaluates thresholds during a run.
const DefaultInterval = 2 * time.Second

// Source supplies aggregated metric values. *metrics.Engine satisfies it.
type Source interface {
	Value(metric string, tags map[string]string, agg metrics.Aggregation) (float64, error)
	Samples(metric string, tags map[string]string) (int64, error)
}

// Result is the outcome of one threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Message     string  `json:"message,omitempty"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	// NoData is set when the metric had no samples. Such a threshold is
	// not evaluated and counts as passed.
	NoData bool `json:"noData,omitempty"`
}

// Evaluator checks a fixed set of thresholds against a Source.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator compiles definitions into an evaluator.
func NewEvaluator(defs []Definition) (*Evaluator, error) {
	ths, err := Compile(defs)
	if err != nil {
		return nil, err
	}
	return &Evaluator{thresholds: ths}, nil
}

// Thresholds returns the compiled thresholds in definition order.
func (ev *Evaluator) Thresholds() []Threshold {
	out := make([]Threshold, len(ev.thresholds))
	copy(out, ev.thresholds)
	return out
}

// Submetrics returns every distinct tag-filtered selector. These must be
// registered with the metrics engine before samples arrive.
func (ev *Evaluator) Submetrics() []Selector {
	seen := map[string]bool{}
	var out []Selector
	for _, th := range ev.thresholds {
		if len(th.Selector.Tags) == 0 {
			continue
		}
		key := th.Selector.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, th.Selector)
	}
	return out
}

// Evaluate checks every threshold once.
func (ev *Evaluator) Evaluate(src Source) []Result {
	results := make([]Result, 0, len(ev.thresholds))
	for _, th := range ev.thresholds {
		results = append(results, evaluate(th, src))
	}
	return results
}

func evaluate(th Threshold, src Source) Result {
	r := Result{
		Metric:      th.Selector.String(),
		Expression:  th.Expr.Text,
		AbortOnFail: th.AbortOnFail,
	}

	n, err := src.Samples(th.Selector.Metric, th.Selector.Tags)
	if err != nil {
		r.Message = err.Error()
		return r
	}
	if n == 0 {
		r.Passed = true
		r.NoData = true
		r.Message = "no data"
		return r
	}

	v, err := src.Value(th.Selector.Metric, th.Selector.Tags, th.Expr.Agg)
	if err != nil {
		r.Message = err.Error()
		return r
	}

	r.Value = v
	r.Passed = th.Expr.Holds(v)
	if !r.Passed {
		r.Message = fmt.Sprintf("%s=%.4g does not satisfy %s", th.Expr.Agg, v, th.Expr.Text)
	}
	return r
}

// Watch evaluates thresholds every interval until ctx is done. The first
// failing abortOnFail threshold whose delayAbortEval has elapsed is passed
// to abort, after which Watch returns. A metric without samples never
// aborts the run.
func (ev *Evaluator) Watch(ctx context.Context, src Source, interval time.Duration, abort func(Result)) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	var abortable []Threshold
	for _, th := range ev.thresholds {
		if th.AbortOnFail {
			abortable = append(abortable, th)
		}
	}
	if len(abortable) == 0 {
		return
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			for _, th := range abortable {
				if elapsed < th.DelayAbortEval {
					continue
				}
				r := evaluate(th, src)
				if r.Passed {
					continue
				}
				log.WithFields(log.Fields{
					"metric":    r.Metric,
					"threshold": r.Expression,
					"value":     r.Value,
				}).Warn("Threshold crossed, aborting test")
				abort(r)
				return
			}
		}
	}
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
