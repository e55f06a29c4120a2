package queue

// Option applies a configuration option to a queue.
type Option func(*options)

type options struct {
	capacity   int
	partitions int
}

func newOptions(opts []Option) options {
	o := options{capacity: defaultQueueCapacity, partitions: defaultPartitions}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCapacity sets the maximum number of queued items per queue.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// WithPartitions sets the partition count of a Partitioned queue.
func WithPartitions(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.partitions = n
		}
	}
}
