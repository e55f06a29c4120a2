// Package config defines service configuration structures and loading hooks.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the record store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	// SQLitePath is the database file; empty keeps sqlite in memory.
	SQLitePath string `koanf:"sqlite_path"`

	// FanoutPartitions sets how many notification queues and workers run.
	FanoutPartitions int `koanf:"fanout_partitions"`
	// FanoutQueueSize bounds each notification queue.
	FanoutQueueSize int `koanf:"fanout_queue_size"`
	// WSSendBuffer bounds frames waiting on one slow WebSocket client.
	WSSendBuffer int `koanf:"ws_send_buffer"`

	// RecentLimit is the default and MaxRecentLimit the cap for
	// GET /events/recent?limit.
	RecentLimit    int `koanf:"recent_limit"`
	MaxRecentLimit int `koanf:"max_recent_limit"`

	// IdempotencyCacheSize bounds remembered Idempotency-Key values.
	IdempotencyCacheSize int `koanf:"idempotency_cache_size"`

	// SeedDemo loads the demo users, rules and group on start.
	SeedDemo bool `koanf:"seed_demo"`

	// Users, Rules and Groups are seeded on start after the demo data.
	Users  []User  `koanf:"users"`
	Rules  []Rule  `koanf:"rules"`
	Groups []Group `koanf:"groups"`
}

// User is a seeded directory entry.
type User struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

// Rule is a seeded catalog entry.
type Rule struct {
	ID            string `koanf:"id"`
	Description   string `koanf:"description"`
	Points        int    `koanf:"points"`
	VetoThreshold int    `koanf:"veto_threshold"`
}

// Group is a seeded group with a fixed id.
type Group struct {
	ID      string   `koanf:"id"`
	Name    string   `koanf:"name"`
	Members []string `koanf:"members"`
	Rules   []string `koanf:"rules"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StoreDriver:          DriverMemory,
		FanoutPartitions:     4,
		FanoutQueueSize:      1024,
		WSSendBuffer:         64,
		RecentLimit:          10,
		MaxRecentLimit:       100,
		IdempotencyCacheSize: 50_000,
		SeedDemo:             true,
	}
}

// Validate reports the first invalid setting wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return invalid("store_driver must be %q or %q, got %q", DriverMemory, DriverSQLite, c.StoreDriver)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	case c.FanoutPartitions < 1:
		return invalid("fanout_partitions must be >= 1")
	case c.FanoutQueueSize < 1:
		return invalid("fanout_queue_size must be >= 1")
	case c.WSSendBuffer < 1:
		return invalid("ws_send_buffer must be >= 1")
	case c.RecentLimit < 1:
		return invalid("recent_limit must be >= 1")
	case c.MaxRecentLimit < c.RecentLimit:
		return invalid("max_recent_limit must be >= recent_limit")
	}
	for i, u := range c.Users {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Name) == "" {
			return invalid("users[%d]: id and name are required", i)
		}
	}
	for i, r := range c.Rules {
		switch {
		case strings.TrimSpace(r.ID) == "":
			return invalid("rules[%d]: id is required", i)
		case r.Points < 0:
			return invalid("rules[%d]: points must be >= 0", i)
		case r.VetoThreshold < 1:
			return invalid("rules[%d]: veto_threshold must be >= 1", i)
		}
	}
	for i, g := range c.Groups {
		if strings.TrimSpace(g.ID) == "" || strings.TrimSpace(g.Name) == "" {
			return invalid("groups[%d]: id and name are required", i)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
