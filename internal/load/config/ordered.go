package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/volleyload/volley/internal/load/threshold"
)

// Scenarios is the scenarios mapping, kept in declaration order.
type Scenarios []*ScenarioConfig

// Get returns the scenario with the given name.
func (s Scenarios) Get(name string) (*ScenarioConfig, bool) {
	for _, sc := range s {
		if sc.Name == name {
			return sc, true
		}
	}
	return nil, false
}

// Names returns the scenario names in declaration order.
func (s Scenarios) Names() []string {
	names := make([]string, len(s))
	for i, sc := range s {
		names[i] = sc.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping of name to scenario, preserving order.
func (s *Scenarios) UnmarshalYAML(node *yaml.Node) error {
	var out Scenarios
	err := eachYAMLEntry(node, "scenarios", func(key string, value *yaml.Node) error {
		if _, dup := out.Get(key); dup {
			return fmt.Errorf("line %d: duplicate scenario name %q", value.Line, key)
		}
		sc := &ScenarioConfig{}
		if err := value.Decode(sc); err != nil {
			return fmt.Errorf("scenario %q: %w", key, err)
		}
		sc.Name = key
		out = append(out, sc)
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// UnmarshalJSON decodes an object of name to scenario, preserving order.
func (s *Scenarios) UnmarshalJSON(b []byte) error {
	var out Scenarios
	err := eachJSONEntry(b, "scenarios", func(key string, dec *json.Decoder) error {
		if _, dup := out.Get(key); dup {
			return fmt.Errorf("duplicate scenario name %q", key)
		}
		sc := &ScenarioConfig{}
		if err := dec.Decode(sc); err != nil {
			return fmt.Errorf("scenario %q: %w", key, err)
		}
		sc.Name = key
		out = append(out, sc)
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// Thresholds is the thresholds mapping, kept in declaration order.
type Thresholds []ThresholdConfig

// ThresholdConfig lists the rules for one metric selector.
type ThresholdConfig struct {
	// Metric is a metric name with an optional tag filter, e.g. http_req_duration{endpoint:similar}
	Metric string
	Rules  []ThresholdRule
}

// ThresholdRule is either a bare expression or the long form
// {threshold, abortOnFail, delayAbortEval}.
type ThresholdRule struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML accepts a scalar expression or a mapping.
func (r *ThresholdRule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = ThresholdRule{Threshold: node.Value}
		return nil
	}
	type plain ThresholdRule
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = ThresholdRule(p)
	return nil
}

// UnmarshalJSON accepts a string expression or an object.
func (r *ThresholdRule) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*r = ThresholdRule{Threshold: expr}
		return nil
	}
	type plain ThresholdRule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = ThresholdRule(p)
	return nil
}

// UnmarshalYAML decodes a mapping of selector to rule list, preserving order.
func (t *Thresholds) UnmarshalYAML(node *yaml.Node) error {
	var out Thresholds
	err := eachYAMLEntry(node, "thresholds", func(key string, value *yaml.Node) error {
		var rules []ThresholdRule
		if err := value.Decode(&rules); err != nil {
			return fmt.Errorf("thresholds %q: %w", key, err)
		}
		out = append(out, ThresholdConfig{Metric: key, Rules: rules})
		return nil
	})
	if err != nil {
		return err
	}
	*t = out
	return nil
}

// UnmarshalJSON decodes an object of selector to rule list, preserving order.
func (t *Thresholds) UnmarshalJSON(b []byte) error {
	var out Thresholds
	err := eachJSONEntry(b, "thresholds", func(key string, dec *json.Decoder) error {
		var rules []ThresholdRule
		if err := dec.Decode(&rules); err != nil {
			return fmt.Errorf("thresholds %q: %w", key, err)
		}
		out = append(out, ThresholdConfig{Metric: key, Rules: rules})
		return nil
	})
	if err != nil {
		return err
	}
	*t = out
	return nil
}

// Definitions flattens the thresholds for the evaluator.
func (t Thresholds) Definitions() ([]threshold.Definition, error) {
	var defs []threshold.Definition
	for _, tc := range t {
		for _, rule := range tc.Rules {
			delay, err := ParseDurationString(rule.DelayAbortEval)
			if err != nil {
				return nil, fmt.Errorf("thresholds %q: invalid delayAbortEval: %w", tc.Metric, err)
			}
			defs = append(defs, threshold.Definition{
				Metric:         tc.Metric,
				Expression:     rule.Threshold,
				AbortOnFail:    rule.AbortOnFail,
				DelayAbortEval: delay,
			})
		}
	}
	return defs, nil
}

func eachYAMLEntry(node *yaml.Node, what string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, what)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func eachJSONEntry(b []byte, what string, fn func(key string, dec *json.Decoder) error) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%s must be an object", what)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		if err := fn(key, dec); err != nil {
			return err
		}
	}

	_, err = dec.Token()
	return err
}
