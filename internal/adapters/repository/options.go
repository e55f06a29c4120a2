package repository

import "time"

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	metricsUpdateInterval time.Duration
	sqlitePath            string
}

func defaultOptions() options {
	return options{metricsUpdateInterval: 5 * time.Second}
}

// WithMetricsUpdateInterval sets the interval for background gauge updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithSQLitePath sets the database file for the sqlite store. An empty path
// keeps the database in memory.
func WithSQLitePath(path string) Option {
	return func(o *options) {
		o.sqlitePath = path
	}
}
