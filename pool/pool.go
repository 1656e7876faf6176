// Package pool provides the bounded worker pool shared by every network send
// and every accepted connection.
package pool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent jobs when no size is configured.
const DefaultWorkers = 32

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("pool: stopped")

// Job is one unit of work. The context is cancelled when the pool stops.
type Job func(ctx context.Context)

// Pool runs jobs on goroutines, at most Size at a time.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	stop    sync.Once
}

// New creates a pool running up to workers jobs concurrently.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues job without blocking the caller.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		job(p.ctx)
	}()
	return nil
}

// Stop cancels pending jobs and waits for running ones to return.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
	})
}

// Wait blocks until every submitted job has finished without stopping the pool.
func (p *Pool) Wait() {
	p.wg.Wait()
}
