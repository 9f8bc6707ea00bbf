// Package workerpool runs the Workflow State Machine for dispatched cases
// with bounded concurrency, at-most-one-worker-per-case, and a per-case
// processing timeout (spec §4.10).
package workerpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine is the subset of internal/workflow.Engine the pool drives.
type Engine interface {
	Run(ctx context.Context, caseID int64) error
}

// Pool is a fixed-size worker pool. A worker consumes one case at a time and
// runs it to a terminal workflow state; the pool never reassigns a case
// already in flight (spec §4.10: "at-most-one concurrent execution per
// case_id").
type Pool struct {
	Engine  Engine
	Timeout time.Duration
	Log     *zap.Logger

	sem  chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
	inFlight map[int64]struct{}
	metrics  metricsState
}

// New constructs a Pool with the given concurrency.
func New(maxWorkers int, engine Engine, timeout time.Duration, log *zap.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Pool{
		Engine:   engine,
		Timeout:  timeout,
		Log:      log,
		sem:      make(chan struct{}, maxWorkers),
		inFlight: make(map[int64]struct{}),
	}
}

// Submit accepts a case for processing. It returns false without starting
// any work if the case is already in flight; the caller (the Supervisor
// Loop's dispatch phase) should treat that as "skip, try again next tick".
// Submit itself does not block on pool capacity — that wait happens inside
// the spawned goroutine acquiring the semaphore — so a burst of dispatched
// cases queues up rather than stalling the dispatch phase.
func (p *Pool) Submit(ctx context.Context, caseID int64) bool {
	p.mu.Lock()
	if _, exists := p.inFlight[caseID]; exists {
		p.mu.Unlock()
		return false
	}
	p.inFlight[caseID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, caseID)
	return true
}

func (p *Pool) run(ctx context.Context, caseID int64) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, caseID)
		p.mu.Unlock()
	}()

	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	p.metrics.recordStart(p.activeCount())

	runCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.Engine.Run(runCtx, caseID)
	duration := time.Since(start)

	p.metrics.recordFinish(duration, err == nil)
	if err != nil && p.Log != nil {
		p.Log.Warn("worker abandoned case", zap.Int64("case_id", caseID), zap.Error(err))
	}
}

// activeCount reports how many workers currently hold a semaphore slot.
func (p *Pool) activeCount() int {
	return len(p.sem)
}

// Wait blocks until every submitted case has finished (or been abandoned by
// timeout).
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown waits for in-flight workers to finish, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlightCount returns the number of cases currently owned by a worker.
func (p *Pool) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// InFlight reports whether caseID currently owns a worker. The Supervisor
// Loop's Phase 2 uses this to skip cases still being driven by a worker,
// rather than racing a second PollTaskStatus/completion against one the
// worker is already making.
func (p *Pool) InFlight(caseID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[caseID]
	return ok
}

// Snapshot returns the pool's processing metrics (spec §4.10).
func (p *Pool) Snapshot() Snapshot {
	return p.metrics.snapshot()
}
