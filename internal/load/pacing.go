package load

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/volleyload/volley/internal/load/config"
)

// Pacing is the wait a VU executor inserts between iterations.
type Pacing struct {
	Type     string
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// NewPacing converts a pacing configuration. A nil configuration means no pacing.
func NewPacing(cfg *config.PacingConfig) (Pacing, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "none" {
		return Pacing{Type: "none"}, nil
	}

	p := Pacing{Type: cfg.Type}
	var err error
	switch cfg.Type {
	case "constant":
		if p.Duration, err = config.ParseDurationString(cfg.Duration); err != nil {
			return Pacing{}, fmt.Errorf("pacing duration: %w", err)
		}
	case "random":
		if p.Min, err = config.ParseDurationString(cfg.Min); err != nil {
			return Pacing{}, fmt.Errorf("pacing min: %w", err)
		}
		if p.Max, err = config.ParseDurationString(cfg.Max); err != nil {
			return Pacing{}, fmt.Errorf("pacing max: %w", err)
		}
		if p.Min > p.Max {
			return Pacing{}, fmt.Errorf("pacing min %s exceeds max %s", p.Min, p.Max)
		}
	default:
		return Pacing{}, fmt.Errorf("unknown pacing type %q", cfg.Type)
	}
	return p, nil
}

// Next returns the wait before the next iteration.
func (p Pacing) Next(rng *rand.Rand) time.Duration {
	switch p.Type {
	case "constant":
		return p.Duration
	case "random":
		if p.Max <= p.Min {
			return p.Min
		}
		return p.Min + time.Duration(rng.Int63n(int64(p.Max-p.Min)+1))
	}
	return 0
}
