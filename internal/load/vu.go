// Package load runs workload iterations on behalf of virtual users.
package load

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/volleyload/volley/internal/load/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU finishes its current iteration and then stops.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Workload is the body of one iteration.
type Workload interface {
	Iterate(ctx context.Context, vu *VirtualUser) error
}

// WorkloadFunc adapts a function to the Workload interface.
type WorkloadFunc func(ctx context.Context, vu *VirtualUser) error

// Iterate calls f(ctx, vu).
func (f WorkloadFunc) Iterate(ctx context.Context, vu *VirtualUser) error {
	return f(ctx, vu)
}

// Scenario is what the VUs of one scenario run.
type Scenario struct {
	// Name tags every metric sample the VUs record
	Name string

	// Tags are added to every metric sample
	Tags map[string]string

	// Workload is executed once per iteration
	Workload Workload
}

// VirtualUser represents a single simulated user executing iterations.
//
// Each VU has its own:
// - random source (picker draws, random pacing)
// - variable scope (values extracted from responses)
// - iteration counter
// - lifecycle state
//
// VUs are created by the VUScheduler. A VU runs at most one iteration at a time.
type VirtualUser struct {
	// Unique identifier for this VU within its scheduler
	ID int

	// Scenario defines what the VU executes
	Scenario *Scenario

	// HTTP client for this VU (may be shared or per-VU)
	HTTPClient *http.Client

	// Metrics engine for recording results
	Metrics *metrics.Engine

	state atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	// stopGrace bounds the current iteration after a stop request; negative means unbounded
	stopGrace atomic.Int64

	doneCh   chan struct{}
	doneOnce sync.Once

	iteration atomic.Int64

	rng *rand.Rand

	data   map[string]string
	dataMu sync.RWMutex
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*7919)),
		data:       make(map[string]string),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's random source. It must only be used from the VU's own goroutine.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// Stopped is closed once a stop has been requested.
func (vu *VirtualUser) Stopped() <-chan struct{} {
	return vu.stopCh
}

// RunIteration executes one iteration of the scenario workload.
//
// A completed iteration is recorded in iterations and iteration_duration.
// An iteration interrupted by ctx is not recorded and returns ctx's error.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("VU %d is %s", vu.ID, vu.GetState())
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	if err := ctx.Err(); err != nil {
		return err
	}

	vu.iteration.Add(1)
	start := time.Now()

	err := vu.Scenario.Workload.Iterate(ctx, vu)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}

	if vu.Metrics != nil {
		vu.Metrics.RecordIteration(vu.Scenario.Name, time.Since(start), vu.Scenario.Tags)
	}
	return nil
}

// Sleep pauses the VU for d. It returns false if ctx ended first.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	vu.requestStop(-1)
}

// RequestStopWithin asks the VU to stop after its current iteration and
// interrupts that iteration if it is still running after grace.
func (vu *VirtualUser) RequestStopWithin(grace time.Duration) {
	if grace < 0 {
		grace = 0
	}
	vu.requestStop(grace)
}

func (vu *VirtualUser) requestStop(grace time.Duration) {
	if vu.GetState() == VUStateStopped {
		return
	}
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		vu.stopGrace.Store(int64(grace))
		vu.stopOnce.Do(func() { close(vu.stopCh) })
	}
}

// stopGraceDuration is the bound set by the stop request, or -1 if unbounded.
func (vu *VirtualUser) stopGraceDuration() time.Duration {
	return time.Duration(vu.stopGrace.Load())
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-t.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// SetData stores a value in the VU's variable scope.
func (vu *VirtualUser) SetData(key, value string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData retrieves a value from the VU's variable scope.
func (vu *VirtualUser) GetData(key string) (string, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// ClearData removes a value from the VU's variable scope.
func (vu *VirtualUser) ClearData(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}

// Data returns a copy of the VU's variable scope.
func (vu *VirtualUser) Data() map[string]string {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()

	out := make(map[string]string, len(vu.data))
	for k, v := range vu.data {
		out[k] = v
	}
	return out
}
