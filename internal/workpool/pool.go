// Package workpool is a fixed-size goroutine pool with a bounded task queue.
// The daemon shares one pool between the bridge's sender loops and other
// background work.
package workpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/conduit/internal/bridge"
	"github.com/mattjoyce/conduit/internal/log"
)

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	busy      atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Busy      int64 `json:"busy"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
}

var _ bridge.TaskSubmitter = (*Pool)(nil)

// New starts workers goroutines reading from a queue of queueSize tasks.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		logger:  log.WithComponent("workpool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	p.logger.Debug("pool started", "workers", workers, "queue_size", queueSize)
	return p
}

// Submit queues task without blocking. It fails with bridge.ErrPoolFull when
// the queue is full and bridge.ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return bridge.ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		p.rejected.Add(1)
		return bridge.ErrPoolFull
	}
}

// Shutdown stops accepting tasks, lets queued ones run and waits for the
// workers until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("pool stopped", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		p.logger.Warn("pool shutdown timed out", "busy", p.busy.Load())
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.tasks),
		Busy:      p.busy.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panicked", "panic", r)
			return
		}
		p.completed.Add(1)
	}()
	task()
}
