// Package worker runs storage-bound jobs off the host's main thread.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/observability"
)

// Job is a unit of work. The context is cancelled when the pool stops.
type Job func(ctx context.Context)

// Pool is a fixed set of goroutines fed from a bounded backlog.
type Pool struct {
	jobs    chan Job
	logger  *zap.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts size workers sharing a backlog of the given length.
func NewPool(size, backlog int, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	if size <= 0 {
		size = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, backlog),
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker job panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job(p.ctx)
}

// Submit queues job without blocking. It returns ErrPoolBusy when the
// backlog is full and ErrUnavailable once the pool is stopped.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return blerrors.ErrUnavailable
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		p.metrics.IncPoolRejection()
		return blerrors.ErrPoolBusy
	}
}

// Stop rejects new jobs, lets queued jobs finish and waits for the
// workers. Jobs see a cancelled context once ctx expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
