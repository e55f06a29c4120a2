// Package worker drains notification queues and hands each notification to
// the fan-out.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/bet/internal/adapters/mq/queue"
	"github.com/okian/bet/internal/domain/notify"
	"github.com/okian/bet/pkg/logger"
	"github.com/okian/bet/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Forwarder delivers a notification to its subscribers.
type Forwarder interface {
	Forward(ctx context.Context, n notify.Notification) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, n notify.Notification) error

// Forward calls f.
func (f ForwarderFunc) Forward(ctx context.Context, n notify.Notification) error { return f(ctx, n) }

// Queue defines how workers receive notifications.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes notifications until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the current item.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker forwards notifications from one queue.
type InMemoryWorker struct {
	queue     Queue
	forwarder Forwarder
	name      string

	shutdown  chan struct{}
	done      chan struct{}
	processed *atomic.Int64

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, f Forwarder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		forwarder: f,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		processed: &atomic.Int64{},
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop. It returns when ctx is done, Shutdown is
// called, or the queue is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			if err := w.process(ctx, it); err != nil {
				w.logger.Warn(ctx, "notification not delivered", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process forwards one notification. Failures are counted and returned,
// never retried.
func (w *InMemoryWorker) process(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam: Item is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := w.forwarder.Forward(ctx, it); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordNotificationDropped("forward_failed")
		metrics.RecordErrorByComponent("worker", "forward_error")
		metrics.RecordErrorByType("forward_error", "low")
		return fmt.Errorf("forward %s for group %s: %w", it.Kind, it.GroupID, err)
	}
	w.processed.Add(1)
	return nil
}

// Partitioned is the queue shape a Pool drains: one worker per partition.
type Partitioned interface {
	Partitions() int
	Partition(i int) queue.Queue
	Len(ctx context.Context) int
	Close() error
}

// Pool runs one worker per queue partition, so each group's notifications
// are forwarded by a single goroutine in order.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Partitioned
	processed atomic.Int64

	shutdown chan struct{}
	logger   logger.Logger
}

// NewPool creates a pool draining q into f. A nil log discards output.
func NewPool(q Partitioned, f Forwarder, log logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	pool := &Pool{
		workers:  make([]*InMemoryWorker, q.Partitions()),
		queue:    q,
		shutdown: make(chan struct{}),
		logger:   log.Named("worker-pool"),
	}
	for i := range pool.workers {
		w := NewInMemoryWorker(q.Partition(i), f, WithLogger(log), WithName("worker-"+strconv.Itoa(i)))
		w.processed = &pool.processed
		pool.workers[i] = w
	}
	metrics.UpdateWorkerCount(len(pool.workers))
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// Processed returns how many notifications were forwarded.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.queue.Len(ctx)
		}
	}
}

// Shutdown closes the queue, lets workers drain what is already queued and
// waits for them or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
