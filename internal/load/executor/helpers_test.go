package executor_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

// countingScenario returns a scenario whose iterations take d and bump n.
func countingScenario(name string, d time.Duration, n *atomic.Int64) *load.Scenario {
	return &load.Scenario{
		Name: name,
		Workload: load.WorkloadFunc(func(ctx context.Context, vu *load.VirtualUser) error {
			if vu.Sleep(ctx, d) {
				n.Add(1)
			}
			return nil
		}),
	}
}

func newRig(name string, d time.Duration) (*load.VUScheduler, *metrics.Engine, *atomic.Int64) {
	var n atomic.Int64
	m := metrics.NewEngine()
	s := load.NewVUScheduler(countingScenario(name, d, &n), m, load.DefaultHTTPClientConfig())
	return s, m, &n
}

func phasesOf(m *metrics.Engine, scenario string) []metrics.Phase {
	var out []metrics.Phase
	for _, pc := range m.GetPhaseHistory() {
		if pc.Scenario == scenario {
			out = append(out, pc.Phase)
		}
	}
	return out
}

func containsPhase(phases []metrics.Phase, p metrics.Phase) bool {
	for _, got := range phases {
		if got == p {
			return true
		}
	}
	return false
}
