package scenario

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/bet/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging initializes the global logger writing to both the console
// and logFile. An empty logFile gets a timestamped name; "-" logs to the
// console only.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "-" {
		if logFile == "" {
			logFile = "scenario_" + time.Now().Format("20060102_150405") + ".log"
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}

	if err := logger.Init(logger.WithWriter(w)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	level := "info"
	if verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		return err
	}
	if logFile != "-" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return nil
}

// ShowHelp prints usage information for the scenario tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Scoreboard Scenario Tool
========================

Drives a running scoreboard service through its HTTP API: registers
generated members and rules, creates a group, submits events concurrently
(resending some with the same Idempotency-Key), vetoes a share of them and
then checks the leaderboard against the event history.

Usage:
  go run ./cmd/scenario [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -members int
        Number of generated group members (default 8)
  -rules int
        Number of generated rules (default 4)
  -submissions int
        Number of distinct submissions (default 1000)
  -veto-ratio float
        Share of accepted events that draw vetoes (default 0.3)
  -retry-ratio float
        Share of submissions resent with the same key (default 0.1)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -seed int
        Generator seed, 0 picks one from the clock (default 0)
  -watch
        Subscribe to the group over /ws and check notification order (default true)
  -log string
        Log file for run output, "-" for console only (default: scenario_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run with default settings
  go run ./cmd/scenario

  # Reproducible heavy run against another port
  go run ./cmd/scenario -submissions 20000 -workers 32 -seed 42 -url http://localhost:8080
`)
}
