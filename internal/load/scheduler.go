package load

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load/metrics"
)

// VUScheduler manages the Virtual Users of one scenario.
//
// It provides:
// - VU pool management (spawning/stopping VUs)
// - Shared HTTP client configuration
// - Graceful shutdown coordination
//
// Executors use the scheduler to control VU counts.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine

	httpClientConfig HTTPClientConfig

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	sharedClient *http.Client

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests; zero leaves timeouts to the request context
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// DisableCompression disables automatic decompression
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UseSharedClient indicates whether VUs share a single HTTP client
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // unlimited
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	scheduler := &VUScheduler{
		scenario:         scenario,
		metrics:          metricsEngine,
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
		shutdownCh:       make(chan struct{}),
	}

	if httpConfig.UseSharedClient {
		scheduler.sharedClient = scheduler.createHTTPClient()
	}

	return scheduler
}

// Scenario returns the scenario the scheduler's VUs run.
func (s *VUScheduler) Scenario() *Scenario {
	return s.scenario
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.httpClientConfig.MaxConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpClientConfig.DisableKeepAlives,
		DisableCompression:  s.httpClientConfig.DisableCompression,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.httpClientConfig.Timeout,
	}
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is not started; the caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	client := s.sharedClient
	if !s.httpClientConfig.UseSharedClient {
		client = s.createHTTPClient()
	}

	vu := NewVirtualUser(id, s.scenario, client, s.metrics)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUs returns all VUs that have not stopped, ordered by ID.
func (s *VUScheduler) GetActiveVUs() []*VirtualUser {
	s.vusMu.RLock()
	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			result = append(result, vu)
		}
	}
	s.vusMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetActiveVUCount returns the count of non-stopped VUs, including VUs
// still finishing an iteration after a stop request.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// GetRunningVUCount returns the count of VUs that have not been asked to stop.
func (s *VUScheduler) GetRunningVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if st := vu.GetState(); st == VUStateIdle || st == VUStateRunning {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and forgets it.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// RunVU runs iterations on vu until it is asked to stop, the scheduler
// shuts down, or ctx ends. A stop request never interrupts the current
// iteration unless it was made with RequestStopWithin.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, pacing Pacing) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer s.UpdateMetrics()
	defer s.RemoveVU(vu.ID)

	vuCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.enforceStopGrace(vuCtx, cancel, vu)

	for {
		select {
		case <-vuCtx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-vu.Stopped():
			return
		default:
		}

		if err := vu.RunIteration(vuCtx); err != nil {
			if vuCtx.Err() != nil || vu.GetState() != VUStateIdle {
				return
			}
			log.WithFields(log.Fields{
				"scenario": s.scenario.Name,
				"vu":       vu.ID,
			}).WithError(err).Debug("iteration failed")
		}

		wait := pacing.Next(vu.Rand())
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-vuCtx.Done():
			t.Stop()
			return
		case <-s.shutdownCh:
			t.Stop()
			return
		case <-vu.Stopped():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// enforceStopGrace cancels the VU's context once a bounded stop request's
// grace period has passed.
func (s *VUScheduler) enforceStopGrace(ctx context.Context, cancel context.CancelFunc, vu *VirtualUser) {
	select {
	case <-ctx.Done():
		return
	case <-vu.Stopped():
	}

	grace := vu.stopGraceDuration()
	if grace < 0 {
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
		cancel()
	}
}

// Shutdown stops all VUs and waits up to timeout for their goroutines.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		log.WithField("scenario", s.scenario.Name).Warn("VUs still running after shutdown timeout")
	}

	if s.sharedClient != nil {
		s.sharedClient.CloseIdleConnections()
	}
}

// UpdateMetrics publishes the scenario's VU count.
func (s *VUScheduler) UpdateMetrics() {
	if s.metrics != nil {
		s.metrics.SetScenarioVUs(s.scenario.Name, s.GetActiveVUCount())
	}
}

// ScaleVUs adjusts the number of running VUs to target.
//
// New VUs are handed to onSpawn, which is responsible for running them.
// Excess VUs are asked to stop after their current iteration and are
// interrupted once rampDownGrace has passed.
//
// Returns the number of running VUs after the adjustment.
func (s *VUScheduler) ScaleVUs(target int, rampDownGrace time.Duration, onSpawn func(*VirtualUser)) int {
	current := s.GetRunningVUCount()

	if target > current {
		for i := current; i < target; i++ {
			vu := s.SpawnVU()
			if onSpawn != nil {
				onSpawn(vu)
			}
		}
	} else if target < current {
		// newest VUs leave first
		excess := current - target
		vus := s.GetActiveVUs()
		for i := len(vus) - 1; i >= 0 && excess > 0; i-- {
			if st := vus[i].GetState(); st == VUStateIdle || st == VUStateRunning {
				vus[i].RequestStopWithin(rampDownGrace)
				excess--
			}
		}
	}

	s.UpdateMetrics()
	return s.GetRunningVUCount()
}
