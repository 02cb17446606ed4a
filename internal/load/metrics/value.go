package metrics

import (
	"fmt"
	"strconv"
)

// Aggregation selects how a metric is reduced to a single number.
//
// Method is one of avg, min, max, med, count, rate, value or p. For p the
// Percentile field holds the quantile in the range (0, 100].
type Aggregation struct {
	Method     string
	Percentile float64
}

func (a Aggregation) String() string {
	if a.Method == "p" {
		return "p(" + strconv.FormatFloat(a.Percentile, 'f', -1, 64) + ")"
	}
	return a.Method
}

// ValidFor reports whether the aggregation applies to metrics of type t.
func (a Aggregation) ValidFor(t MetricType) bool {
	switch t {
	case Trend:
		switch a.Method {
		case "avg", "min", "max", "med", "p", "count":
			return true
		}
	case Counter:
		return a.Method == "count" || a.Method == "rate"
	case Rate:
		return a.Method == "rate"
	case Gauge:
		switch a.Method {
		case "value", "min", "max":
			return true
		}
	}
	return false
}

// Value reduces a metric, or one of its registered submetrics, to a number.
// Trend values are in milliseconds; a counter's rate is per second of
// elapsed test time.
func (e *Engine) Value(metric string, tags map[string]string, agg Aggregation) (float64, error) {
	kind, ok := LookupMetric(metric)
	if !ok {
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
	if !agg.ValidFor(kind) {
		return 0, fmt.Errorf("aggregation %s is not valid for %s metric %s", agg, kind, metric)
	}

	s := e.lookupSeries(metric, tags)
	if s == nil {
		return 0, fmt.Errorf("submetric %s{%s} is not registered", metric, TagKey(tags))
	}

	switch kind {
	case Trend:
		return s.trend.valueMillis(agg)
	case Rate:
		return s.rate.rate(), nil
	case Counter:
		sum := float64(s.counter.sum.Load())
		if agg.Method == "count" {
			return sum, nil
		}
		secs := e.Elapsed().Seconds()
		if secs <= 0 {
			return 0, nil
		}
		return sum / secs, nil
	case Gauge:
		value, min, max := s.gauge.get()
		switch agg.Method {
		case "min":
			return float64(min), nil
		case "max":
			return float64(max), nil
		default:
			return float64(value), nil
		}
	}
	return 0, fmt.Errorf("metric %s has unsupported type %s", metric, kind)
}

// Samples returns how many values a metric, or one of its registered
// submetrics, has received. A gauge reports at most 1.
func (e *Engine) Samples(metric string, tags map[string]string) (int64, error) {
	if _, ok := LookupMetric(metric); !ok {
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
	s := e.lookupSeries(metric, tags)
	if s == nil {
		return 0, fmt.Errorf("submetric %s{%s} is not registered", metric, TagKey(tags))
	}
	return s.samples(), nil
}
