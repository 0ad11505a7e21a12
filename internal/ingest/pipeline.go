// Package ingest buffers log entries and container transactions and
// commits them to the event store in periodic batched transactions.
//
// The Pipeline is the single owner of the store connection: flushes,
// queries and maintenance all run under its lock so a query that forces a
// flush sees everything enqueued before it.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/internal/queue"
	"github.com/blocklog/blocklog/pkg/types"
)

// Store is the write side of the event store.
type Store interface {
	WriteBatch(ctx context.Context, entries []types.LogEntry, txns []types.ContainerTransaction) error
	Close() error
}

// CommitHook is called under the pipeline lock after a batch commits.
type CommitHook func(entries []types.LogEntry, txns []types.ContainerTransaction)

// Options configures a Pipeline. Zero values select defaults.
type Options struct {
	Capacity      int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

const (
	defaultFlushInterval = 30 * time.Second
	defaultFlushTimeout  = 30 * time.Second
)

// Pipeline owns the two pending queues and the store behind them.
type Pipeline struct {
	store   Store
	entries *queue.Queue[types.LogEntry]
	txns    *queue.Queue[types.ContainerTransaction]

	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu     sync.Mutex // owns store
	hooks  []CommitHook
	closed bool

	// accepting guards enqueues against Close's final drain without
	// making producers wait on a flush.
	acceptMu  sync.RWMutex
	accepting bool

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// New creates a pipeline writing to store. A nil store yields a pipeline
// whose every call reports ErrUnavailable.
func New(store Store, opts Options) *Pipeline {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		store:    store,
		entries:  queue.New[types.LogEntry](opts.Capacity),
		txns:     queue.New[types.ContainerTransaction](opts.Capacity),
		interval: opts.FlushInterval,
		timeout:  opts.FlushTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,

		accepting: store != nil,
	}
}

// OnCommit registers a hook run after every successful flush.
func (p *Pipeline) OnCommit(hook CommitHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook)
}

// Available reports whether the pipeline has an open store.
func (p *Pipeline) Available() bool {
	p.acceptMu.RLock()
	defer p.acceptMu.RUnlock()
	return p.accepting
}

// EnqueueAction stamps e with a fresh ID and, if unset, the current time,
// then queues it. The stamped entry is returned so callers can reference
// its ID. Saturation is logged and reported as ErrQueueFull.
func (p *Pipeline) EnqueueAction(e types.LogEntry) (types.LogEntry, error) {
	p.acceptMu.RLock()
	defer p.acceptMu.RUnlock()
	if !p.accepting {
		return e, blerrors.ErrUnavailable
	}

	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return e, blerrors.NewInternalError("failed to generate entry id", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = p.now().UnixMilli()
	}

	if err := p.entries.Enqueue(e); err != nil {
		p.metrics.IncDropped(observability.QueueEntries)
		p.logger.Warn("Dropping log entry, queue is full",
			zap.String("actor", e.ActorName),
			zap.String("action", e.Action.String()),
			zap.Stringer("pos", e.Pos()),
			zap.Int("capacity", p.entries.Capacity()))
		return e, err
	}
	p.metrics.SetQueueDepth(observability.QueueEntries, p.entries.Len())
	return e, nil
}

// EnqueueContainerTransaction stamps and queues t like EnqueueAction.
func (p *Pipeline) EnqueueContainerTransaction(t types.ContainerTransaction) (types.ContainerTransaction, error) {
	p.acceptMu.RLock()
	defer p.acceptMu.RUnlock()
	if !p.accepting {
		return t, blerrors.ErrUnavailable
	}

	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return t, blerrors.NewInternalError("failed to generate transaction id", err)
		}
		t.ID = id.String()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = p.now().UnixMilli()
	}

	if err := p.txns.Enqueue(t); err != nil {
		p.metrics.IncDropped(observability.QueueTransactions)
		p.logger.Warn("Dropping container transaction, queue is full",
			zap.String("actor", t.ActorName),
			zap.String("item", string(t.ItemType)),
			zap.Int("delta", t.Delta),
			zap.Int("capacity", p.txns.Capacity()))
		return t, err
	}
	p.metrics.SetQueueDepth(observability.QueueTransactions, p.txns.Len())
	return t, nil
}

// Pending returns the current queue lengths.
func (p *Pipeline) Pending() (entries, txns int) {
	return p.entries.Len(), p.txns.Len()
}

// Dropped returns how many items each queue has rejected.
func (p *Pipeline) Dropped() (entries, txns int64) {
	return p.entries.Dropped(), p.txns.Dropped()
}

// Flush commits everything pending. On failure the batch is back in the
// queues and the error is returned.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil || p.closed {
		return blerrors.ErrUnavailable
	}
	return p.flushLocked(ctx)
}

// FlushAndQuery flushes and then runs fn while still holding the store,
// so no other flush or query can interleave. A failed flush is logged and
// fn still runs against what is already committed.
func (p *Pipeline) FlushAndQuery(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil || p.closed {
		return blerrors.ErrUnavailable
	}
	_ = p.flushLocked(ctx)
	return fn(ctx)
}

// WithStore runs fn with exclusive use of the store, without flushing.
func (p *Pipeline) WithStore(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil || p.closed {
		return blerrors.ErrUnavailable
	}
	return fn(ctx)
}

func (p *Pipeline) flushLocked(ctx context.Context) error {
	entries := p.entries.Drain()
	txns := p.txns.Drain()
	if len(entries) == 0 && len(txns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.store.WriteBatch(ctx, entries, txns)
	p.metrics.ObserveFlush(time.Since(start), len(entries), len(txns), err)

	if err != nil {
		p.entries.Requeue(entries)
		p.txns.Requeue(txns)
		p.logger.Error("Flush failed, batch requeued",
			zap.Int("entries", len(entries)),
			zap.Int("transactions", len(txns)),
			zap.Bool("retryable", blerrors.IsRetryable(err)),
			zap.Error(err))
	} else {
		for _, hook := range p.hooks {
			hook(entries, txns)
		}
		p.logger.Debug("Flushed batch",
			zap.Int("entries", len(entries)),
			zap.Int("transactions", len(txns)),
			zap.Duration("took", time.Since(start)))
	}

	p.metrics.SetQueueDepth(observability.QueueEntries, p.entries.Len())
	p.metrics.SetQueueDepth(observability.QueueTransactions, p.txns.Len())
	return err
}

// Run flushes every FlushInterval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.RunWithTrigger(ctx, ticker.C)
}

// RunWithTrigger flushes on every receive from trigger until ctx is done
// or trigger is closed.
func (p *Pipeline) RunWithTrigger(ctx context.Context, trigger <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-trigger:
			if !ok {
				return
			}
			// failures are logged by the flush and retried next tick
			_ = p.Flush(ctx)
		}
	}
}

// Start runs the periodic flush loop in the background until Close.
func (p *Pipeline) Start() {
	p.StartWithTrigger(nil)
}

// StartWithTrigger is Start with an injected trigger; nil uses a ticker.
func (p *Pipeline) StartWithTrigger(trigger <-chan time.Time) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.loopCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.loopCancel = cancel
	p.loopDone = done

	go func() {
		defer close(done)
		if trigger == nil {
			p.Run(ctx)
			return
		}
		p.RunWithTrigger(ctx, trigger)
	}()
}

// Close stops the periodic loop, performs a final flush and closes the
// store. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.loopMu.Lock()
		cancel, done := p.loopCancel, p.loopDone
		p.loopMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		// After this no enqueue can succeed, so the final drain sees
		// every accepted item.
		p.acceptMu.Lock()
		p.accepting = false
		p.acceptMu.Unlock()

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.store == nil {
			return
		}

		if err := p.flushLocked(context.Background()); err != nil {
			n, m := p.entries.Len(), p.txns.Len()
			p.logger.Error("Final flush failed, pending entries lost",
				zap.Int("entries", n),
				zap.Int("transactions", m),
				zap.Error(err))
			p.closeErr = err
		}
		p.closed = true
		if err := p.store.Close(); err != nil && p.closeErr == nil {
			p.closeErr = err
		}
	})
	return p.closeErr
}
