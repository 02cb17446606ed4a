package engine

import (
	"time"

	"github.com/volleyload/volley/internal/load/executor"
	"github.com/volleyload/volley/internal/load/metrics"
)

// Status is a point-in-time view of a run, served on /status.
type Status struct {
	RunID     string           `json:"runId"`
	Name      string           `json:"name"`
	Running   bool             `json:"running"`
	Elapsed   time.Duration    `json:"elapsed"`
	Progress  float64          `json:"progress"`
	Phase     metrics.Phase    `json:"phase"`
	ActiveVUs int              `json:"activeVUs"`
	Requests  int64            `json:"requests"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"errorRate"`
	RPS       float64          `json:"rps"`
	P95       time.Duration    `json:"p95"`
	Dropped   int64            `json:"droppedIterations"`
	Scenarios []ScenarioStatus `json:"scenarios"`
}

// ScenarioStatus is the live state of one scenario.
type ScenarioStatus struct {
	Name        string          `json:"name"`
	Executor    string          `json:"executor"`
	StartOffset time.Duration   `json:"startOffset"`
	Started     bool            `json:"started"`
	Progress    float64         `json:"progress"`
	Stats       *executor.Stats `json:"stats"`
}

// Status returns the live state of the run.
func (e *Engine) Status() *Status {
	snap := e.metricsEngine.GetSnapshot()

	st := &Status{
		RunID:     e.RunID(),
		Name:      e.config.Name,
		Running:   e.IsRunning(),
		Elapsed:   e.Elapsed(),
		Progress:  e.GetProgress(),
		Phase:     e.metricsEngine.GetPhase(),
		ActiveVUs: e.metricsEngine.GetActiveVUs(),
		Requests:  snap.TotalRequests,
		Failed:    snap.FailedRequests,
		ErrorRate: snap.ErrorRate,
		RPS:       snap.RPS,
		P95:       snap.Latency.P95,
		Dropped:   snap.DroppedIterations,
		Scenarios: make([]ScenarioStatus, 0, len(e.runners)),
	}
	for _, r := range e.runners {
		st.Scenarios = append(st.Scenarios, ScenarioStatus{
			Name:        r.Name,
			Executor:    string(r.Executor.Type()),
			StartOffset: r.StartOffset,
			Started:     r.Started(),
			Progress:    r.Executor.GetProgress(),
			Stats:       r.Executor.GetStats(),
		})
	}
	return st
}
