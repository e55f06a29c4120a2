// Package queue buffers notifications between the engine and the fan-out
// workers. Enqueue never blocks: a full queue drops the notification.
package queue

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/okian/bet/internal/domain/notify"
	"github.com/okian/bet/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
	defaultPartitions    = 4
)

// Item is the payload type flowing through the queue.
type Item = notify.Notification

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an item to the queue.
	// Returns false if the queue is full or closed and the item was dropped.
	Enqueue(ctx context.Context, it Item) bool

	// Dequeue returns a channel that receives items in enqueue order.
	// The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Item

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	o := newOptions(opts)
	return &InMemoryQueue{
		items:    make(chan Item, o.capacity),
		capacity: o.capacity,
	}
}

// Enqueue adds an item to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) bool { //nolint:gocritic // hugeParam: Item is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordNotificationDropped("closed")
		return false
	}

	select {
	case q.items <- it:
		return true
	case <-ctx.Done():
		metrics.RecordNotificationDropped("context_cancelled")
		return false
	default:
		metrics.RecordNotificationDropped("queue_full")
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives items as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for it := range q.items {
			select {
			case out <- it:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int {
	return q.capacity
}

// Close stops accepting items; queued items remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Partitioned spreads notifications over several queues by group id, so one
// group's notifications stay in order on a single partition while different
// groups drain in parallel.
type Partitioned struct {
	parts []*InMemoryQueue
}

// NewPartitioned creates a partitioned queue. WithPartitions sets the
// partition count and WithCapacity the capacity of each partition.
func NewPartitioned(opts ...Option) *Partitioned {
	o := newOptions(opts)
	p := &Partitioned{parts: make([]*InMemoryQueue, o.partitions)}
	for i := range p.parts {
		p.parts[i] = NewInMemoryQueue(WithCapacity(o.capacity))
	}
	metrics.UpdateQueueCapacity(o.capacity * o.partitions)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return p
}

// Partitions returns the number of partitions.
func (p *Partitioned) Partitions() int {
	return len(p.parts)
}

// Partition returns partition i.
func (p *Partitioned) Partition(i int) Queue {
	return p.parts[i]
}

// PartitionFor returns the partition index owning groupID.
func (p *Partitioned) PartitionFor(groupID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupID))
	return int(h.Sum32() % uint32(len(p.parts)))
}

// Publish implements notify.Publisher.
func (p *Partitioned) Publish(ctx context.Context, n notify.Notification) bool {
	ok := p.parts[p.PartitionFor(n.GroupID)].Enqueue(ctx, n)
	p.Len(ctx)
	return ok
}

// Len returns the number of queued items across partitions and refreshes
// the queue gauges.
func (p *Partitioned) Len(ctx context.Context) int {
	size, capacity := 0, 0
	for _, q := range p.parts {
		size += q.Len(ctx)
		capacity += q.Cap()
	}
	metrics.UpdateQueueSize(size)
	if capacity > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(capacity))
	}
	return size
}

// Close closes every partition.
func (p *Partitioned) Close() error {
	for _, q := range p.parts {
		_ = q.Close()
	}
	return nil
}
