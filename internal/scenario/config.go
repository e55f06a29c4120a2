// Package scenario drives a running scoreboard service through its HTTP API
// with generated members, rules, submissions and vetoes, then checks the
// resulting leaderboard against the event history.
package scenario

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid scenario config")

// Config holds configuration for a scenario run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Members     int           // Number of generated group members
	Rules       int           // Number of generated rules
	Submissions int           // Number of distinct submissions (idempotency keys)
	VetoRatio   float64       // Share of accepted events that draw vetoes
	RetryRatio  float64       // Share of submissions resent with the same key
	Workers     int           // Number of concurrent workers
	Timeout     time.Duration // HTTP request timeout
	Seed        int64         // Generator seed; 0 picks one from the clock
	Watch       bool          // Subscribe to the group over /ws while running
	LogFile     string        // Log file for run output
	Verbose     bool          // Enable verbose logging
}

// Validate checks the config for values the runner cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Members < 2:
		return errors.Join(ErrInvalidConfig, errors.New("at least two members are needed to veto"))
	case c.Rules < 1:
		return errors.Join(ErrInvalidConfig, errors.New("at least one rule is needed"))
	case c.Submissions < 0:
		return errors.Join(ErrInvalidConfig, errors.New("submissions must be >= 0"))
	case c.VetoRatio < 0 || c.VetoRatio > 1:
		return errors.Join(ErrInvalidConfig, errors.New("veto ratio must be within [0,1]"))
	case c.RetryRatio < 0 || c.RetryRatio > 1:
		return errors.Join(ErrInvalidConfig, errors.New("retry ratio must be within [0,1]"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be >= 1"))
	case c.Timeout <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("timeout must be positive"))
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	GroupID            string
	UsersCreated       int
	RulesCreated       int
	SubmitsSent        int
	SubmitsAccepted    int
	SubmitsReplayed    int
	SubmitsInFlight    int
	SubmitsFailed      int
	VetoesSent         int
	VetoesAccepted     int
	VetoesRejected     int
	VetoesFailed       int
	EventsInvalidated  int
	NotificationsSeen  int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
