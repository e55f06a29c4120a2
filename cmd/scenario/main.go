package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/bet/internal/scenario"
)

// Default configuration constants.
const (
	defaultMembers     = 8
	defaultRules       = 4
	defaultSubmissions = 1000
	defaultVetoRatio   = 0.3
	defaultRetryRatio  = 0.1
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		members     = flag.Int("members", defaultMembers, "Number of generated group members")
		rules       = flag.Int("rules", defaultRules, "Number of generated rules")
		submissions = flag.Int("submissions", defaultSubmissions, "Number of distinct submissions")
		vetoRatio   = flag.Float64("veto-ratio", defaultVetoRatio, "Share of accepted events that draw vetoes")
		retryRatio  = flag.Float64("retry-ratio", defaultRetryRatio, "Share of submissions resent with the same key")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed        = flag.Int64("seed", 0, "Generator seed, 0 picks one from the clock")
		watch       = flag.Bool("watch", true, "Subscribe to the group over /ws")
		logFile     = flag.String("log", "", "Log file for run output (default: scenario_TIMESTAMP.log)")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		scenario.ShowHelp()
		return
	}

	if err := scenario.SetupLogging(*logFile, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &scenario.Config{
		BaseURL:     *baseURL,
		Members:     *members,
		Rules:       *rules,
		Submissions: *submissions,
		VetoRatio:   *vetoRatio,
		RetryRatio:  *retryRatio,
		Workers:     *workers,
		Timeout:     *timeout,
		Seed:        *seed,
		Watch:       *watch,
		LogFile:     *logFile,
		Verbose:     *verbose,
	}

	if _, err := scenario.Run(ctx, config); err != nil {
		_, _ = os.Stderr.WriteString("Scenario failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
