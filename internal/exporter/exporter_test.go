package exporter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/load/executor"
	"github.com/volleyload/volley/internal/load/metrics"
)

type fakeSource struct {
	m       *metrics.Engine
	status  *engine.Status
	stopped bool
}

func (f *fakeSource) Status() *engine.Status   { return f.status }
func (f *fakeSource) Metrics() *metrics.Engine { return f.m }

type stoppableSource struct {
	*fakeSource
}

func (s stoppableSource) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	m := metrics.NewEngine()
	t.Cleanup(m.Stop)

	for _, status := range []int{200, 200, 404} {
		m.RecordRequest(metrics.RequestSample{
			Scenario: "smoke",
			Name:     "similar",
			Method:   http.MethodGet,
			Status:   status,
			Duration: 20 * time.Millisecond,
			Failed:   status >= 400,
			Bytes:    100,
		})
	}
	m.RecordCheck("status ok", true, nil)
	m.RecordCheck("status ok", true, nil)

	return &fakeSource{
		m: m,
		status: &engine.Status{
			RunID:    "run-1",
			Name:     "exporter test",
			Running:  true,
			Progress: 0.5,
			Elapsed:  3 * time.Second,
			Scenarios: []engine.ScenarioStatus{
				{Name: "smoke", Executor: "constant-vus", Started: true, Progress: 0.5,
					Stats: &executor.Stats{ActiveVUs: 2, Iterations: 3}},
				{Name: "spike", Executor: "ramping-arrival-rate", Started: true, Progress: 0.1,
					Stats: &executor.Stats{ActiveVUs: 1, DroppedIterations: 5}},
				{Name: "later", Executor: "constant-vus"},
			},
		},
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsEndpoint(t *testing.T) {
	src := newFakeSource(t)
	body := scrape(t, NewServer("", src).Handler())

	for _, want := range []string{
		`volley_run_info{name="exporter test",run_id="run-1"} 1`,
		`volley_run_progress_ratio 0.5`,
		`volley_http_reqs_total 3`,
		`volley_http_req_failed_total 1`,
		`volley_http_responses_total{status="200"} 2`,
		`volley_http_responses_total{status="404"} 1`,
		`volley_data_received_bytes_total 300`,
		`volley_checks_total{check="status ok",result="pass"} 2`,
		`volley_checks_total{check="status ok",result="fail"} 0`,
		`volley_iterations_total{scenario="smoke"} 3`,
		`volley_dropped_iterations_total{scenario="spike"} 5`,
		`volley_vus{scenario="smoke"} 2`,
		`volley_scenario_progress_ratio{executor="constant-vus",scenario="later"} 0`,
		`volley_http_req_duration_seconds_count 3`,
		`go_goroutines`,
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, `volley_vus{scenario="later"}`, "unstarted scenarios have no stats")
}

func TestCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(newFakeSource(t)))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestStatusEndpoint(t *testing.T) {
	src := newFakeSource(t)
	rec := httptest.NewRecorder()
	NewServer("", src).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "run-1", st.RunID)
	assert.Len(t, st.Scenarios, 3)
	assert.Equal(t, "smoke", st.Scenarios[0].Name)
}

func TestStopEndpoint(t *testing.T) {
	src := newFakeSource(t)

	rec := httptest.NewRecorder()
	NewServer("", src).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	stoppable := stoppableSource{src}
	rec = httptest.NewRecorder()
	NewServer("", stoppable).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, src.stopped)

	rec = httptest.NewRecorder()
	NewServer("", stoppable).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stop", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", newFakeSource(t))
	require.NoError(t, s.Start())
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"ok"`))

	require.NoError(t, s.Shutdown(context.Background()))
}
