package executor

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/volleyload/volley/internal/load"
	"github.com/volleyload/volley/internal/load/metrics"
)

// vuPool hands iterations of an arrival-rate executor to free VUs.
//
// The pool starts with preAllocated VUs and grows on demand up to maxVUs.
// An iteration that finds no free VU and no room to grow is dropped and
// counted in dropped_iterations; the schedule never blocks on a busy pool.
type vuPool struct {
	name      string
	scheduler *load.VUScheduler
	metrics   *metrics.Engine
	maxVUs    int

	idle      chan *load.VirtualUser
	allocated atomic.Int32
	busy      atomic.Int32
	growMu    sync.Mutex

	wg sync.WaitGroup
}

// applyPoolDefaults fills the pool bounds of an arrival-rate config.
func applyPoolDefaults(config *Config) {
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}
}

func newVUPool(name string, scheduler *load.VUScheduler, m *metrics.Engine, preAllocated, maxVUs int) *vuPool {
	if maxVUs < preAllocated {
		maxVUs = preAllocated
	}
	p := &vuPool{
		name:      name,
		scheduler: scheduler,
		metrics:   m,
		maxVUs:    maxVUs,
		idle:      make(chan *load.VirtualUser, maxVUs),
	}
	for i := 0; i < preAllocated; i++ {
		p.idle <- scheduler.SpawnVU()
		p.allocated.Add(1)
	}
	scheduler.UpdateMetrics()
	return p
}

// dispatch starts one iteration on a free VU. It returns false when the
// iteration was dropped.
func (p *vuPool) dispatch(ctx context.Context) bool {
	vu := p.acquire()
	if vu == nil {
		p.metrics.RecordDroppedIteration(p.name)
		return false
	}

	p.busy.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(vu)

		if err := vu.RunIteration(ctx); err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{"scenario": p.name, "vu": vu.ID}).WithError(err).Debug("iteration failed")
		}
	}()
	return true
}

// busyVUs is nil-safe so executors can report before Run.
func (p *vuPool) busyVUs() int {
	if p == nil {
		return 0
	}
	return int(p.busy.Load())
}

func (p *vuPool) acquire() *load.VirtualUser {
	select {
	case vu := <-p.idle:
		return vu
	default:
	}

	p.growMu.Lock()
	defer p.growMu.Unlock()
	if int(p.allocated.Load()) >= p.maxVUs {
		return nil
	}
	vu := p.scheduler.SpawnVU()
	p.allocated.Add(1)
	p.scheduler.UpdateMetrics()
	return vu
}

func (p *vuPool) release(vu *load.VirtualUser) {
	p.busy.Add(-1)
	if st := vu.GetState(); st == load.VUStateStopping || st == load.VUStateStopped {
		return
	}
	// capacity is maxVUs, so this never blocks
	p.idle <- vu
}

// close stops and unregisters every VU of the pool. Call after wg is done.
func (p *vuPool) close() {
	for _, vu := range p.scheduler.GetActiveVUs() {
		p.scheduler.RemoveVU(vu.ID)
	}
	p.scheduler.UpdateMetrics()
}
