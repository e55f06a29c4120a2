package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
)

const (
	workerChannelMultiplier = 2
	percentageMultiplier    = 100
	recentLimit             = 10

	// settleDelay gives the notification fan-out time to drain before the
	// watcher is closed.
	settleDelay = 500 * time.Millisecond

	codeSelfVeto = "self_veto"
	codeInFlight = "idempotency_in_flight"
)

// Run executes the complete scenario and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("scenario")

	log.Info(ctx, "starting scenario",
		logger.String("baseURL", config.BaseURL),
		logger.Int("members", config.Members),
		logger.Int("rules", config.Rules),
		logger.Int("submissions", config.Submissions),
		logger.Float64("vetoRatio", config.VetoRatio),
		logger.Float64("retryRatio", config.RetryRatio),
		logger.Int("workers", config.Workers),
		logger.Bool("watch", config.Watch),
	)

	client := NewClient(config.BaseURL, config.Timeout)
	gen := NewGenerator(config.Seed)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Register members, rules and the group
	users, rules, group, err := setup(ctx, client, gen, config, stats)
	if err != nil {
		return stats, fmt.Errorf("setup failed: %w", err)
	}
	stats.GroupID = group.ID
	log.Info(ctx, "group created", logger.String("group_id", group.ID), logger.String("run_id", gen.RunID()))

	// Step 3: Subscribe to pushed notifications
	var watcher *Watcher
	if config.Watch {
		watcher, err = Watch(ctx, config.BaseURL, group.ID)
		if err != nil {
			return stats, fmt.Errorf("websocket subscribe failed: %w", err)
		}
	}

	// Step 4: Submit events concurrently
	plan := gen.Submissions(users, rules, config.Submissions, config.RetryRatio)
	accepted, idempotencyErr := submitEvents(ctx, client, config, group.ID, plan, stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// Step 5: Veto events concurrently
	vetoes := gen.Vetoes(accepted, group.Members, config.VetoRatio)
	castVetoes(ctx, client, config, vetoes, stats)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// Step 6: Verify results
	var frames []Frame
	if watcher != nil {
		time.Sleep(settleDelay)
		frames = watcher.Close()
		stats.NotificationsSeen = len(frames)
	}
	verifyErr := errors.Join(idempotencyErr, verifyResults(ctx, client, group, rules, frames, stats))

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return stats, verifyErr
	}
	log.Info(ctx, "scenario completed successfully")
	return stats, nil
}

func setup(ctx context.Context, client *Client, gen *Generator, config *Config, stats *Stats) ([]model.User, []model.Rule, model.Group, error) {
	users := gen.Users(config.Members)
	members := make([]string, len(users))
	for i, u := range users {
		if err := client.PutUser(ctx, u); err != nil {
			return nil, nil, model.Group{}, fmt.Errorf("register user %s: %w", u.ID, err)
		}
		members[i] = u.ID
		stats.UsersCreated++
	}

	rules := gen.Rules(config.Rules)
	ruleIDs := make([]string, len(rules))
	for i, r := range rules {
		if err := client.RegisterRule(ctx, r); err != nil {
			return nil, nil, model.Group{}, fmt.Errorf("register rule %s: %w", r.ID, err)
		}
		ruleIDs[i] = r.ID
		stats.RulesCreated++
	}

	group, err := client.CreateGroup(ctx, gen.GroupName(), members, ruleIDs)
	if err != nil {
		return nil, nil, model.Group{}, fmt.Errorf("create group: %w", err)
	}
	return users, rules, group, nil
}

// runWorkers feeds items to a fixed set of goroutines and waits for them.
func runWorkers[T any](ctx context.Context, workers int, items []T, fn func(T)) {
	ch := make(chan T, workers*workerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range ch {
				if ctx.Err() != nil {
					continue
				}
				fn(item)
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case ch <- item:
			}
		}
	}()
	wg.Wait()
}

// submitEvents submits the plan and returns the distinct accepted events,
// ordered by id. The error reports keys that produced more than one event.
func submitEvents(ctx context.Context, client *Client, config *Config, groupID string, plan []Submission, stats *Stats) ([]model.Event, error) {
	log := logger.Named("scenario")
	log.Info(ctx, "submitting events", logger.Int("requests", len(plan)), logger.Int("workers", config.Workers))

	var (
		sent, ok, replayed, inFlight, failed atomic.Int64

		mu     sync.Mutex
		events = make(map[string]model.Event)
		byKey  = make(map[string]string)
		dupKey []error
	)

	runWorkers(ctx, config.Workers, plan, func(s Submission) {
		sent.Add(1)
		ev, wasReplay, err := client.Submit(ctx, s, groupID)
		switch {
		case IsCode(err, codeInFlight):
			inFlight.Add(1)
			return
		case err != nil:
			failed.Add(1)
			log.Warn(ctx, "submit failed", logger.String("key", s.Key), logger.Error(err))
			return
		case wasReplay:
			replayed.Add(1)
		default:
			ok.Add(1)
		}
		mu.Lock()
		defer mu.Unlock()
		if prev, seen := byKey[s.Key]; seen && prev != ev.ID {
			dupKey = append(dupKey, mismatch("key %s produced events %s and %s", s.Key, prev, ev.ID))
		}
		byKey[s.Key] = ev.ID
		events[ev.ID] = ev
		if config.Verbose {
			log.Debug(ctx, "event submitted", logger.String("event_id", ev.ID), logger.Bool("replayed", wasReplay))
		}
	})

	stats.SubmitsSent = int(sent.Load())
	stats.SubmitsAccepted = int(ok.Load())
	stats.SubmitsReplayed = int(replayed.Load())
	stats.SubmitsInFlight = int(inFlight.Load())
	stats.SubmitsFailed = int(failed.Load())
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b model.Event) int { return strings.Compare(a.ID, b.ID) })
	log.Info(ctx, "event submission completed",
		logger.Int("accepted", stats.SubmitsAccepted),
		logger.Int("replayed", stats.SubmitsReplayed),
		logger.Int("inFlight", stats.SubmitsInFlight),
		logger.Int("failed", stats.SubmitsFailed),
	)
	return out, errors.Join(dupKey...)
}

func castVetoes(ctx context.Context, client *Client, config *Config, plan []Veto, stats *Stats) {
	log := logger.Named("scenario")
	log.Info(ctx, "casting vetoes", logger.Int("requests", len(plan)))

	var sent, accepted, rejected, failed atomic.Int64
	runWorkers(ctx, config.Workers, plan, func(v Veto) {
		sent.Add(1)
		_, err := client.Veto(ctx, v)
		switch {
		case err == nil && !v.SelfVeto:
			accepted.Add(1)
		case v.SelfVeto && IsCode(err, codeSelfVeto):
			rejected.Add(1)
		default:
			failed.Add(1)
			log.Warn(ctx, "unexpected veto result",
				logger.String("event_id", v.EventID),
				logger.String("user_id", v.UserID),
				logger.Bool("selfVeto", v.SelfVeto),
				logger.Error(err),
			)
		}
	})

	stats.VetoesSent = int(sent.Load())
	stats.VetoesAccepted = int(accepted.Load())
	stats.VetoesRejected = int(rejected.Load())
	stats.VetoesFailed = int(failed.Load())
}

func verifyResults(ctx context.Context, client *Client, group model.Group, rules []model.Rule, frames []Frame, stats *Stats) error {
	log := logger.Named("scenario")
	log.Info(ctx, "verifying results")

	events, err := client.Events(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	entries, err := client.Leaderboard(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("get leaderboard: %w", err)
	}
	recent, err := client.Recent(ctx, group.ID, recentLimit)
	if err != nil {
		return fmt.Errorf("list recent events: %w", err)
	}
	audit, err := client.Audit(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("audit leaderboard: %w", err)
	}
	stats.LeaderboardEntries = len(entries)
	for _, ev := range events {
		if !ev.Approved {
			stats.EventsInvalidated++
		}
	}

	byID := make(map[string]model.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	var problems []error
	if !audit.Consistent {
		problems = append(problems, mismatch("service audit reports %d mismatches", len(audit.Mismatches)))
	}
	if stats.SubmitsFailed > 0 || stats.VetoesFailed > 0 {
		problems = append(problems, mismatch("%d submits and %d vetoes failed unexpectedly",
			stats.SubmitsFailed, stats.VetoesFailed))
	}
	if len(events) != stats.SubmitsAccepted {
		problems = append(problems, mismatch("group holds %d events, %d submissions were accepted",
			len(events), stats.SubmitsAccepted))
	}
	problems = append(problems,
		VerifyEvents(events, byID),
		VerifyTotals(events, entries, group.Members),
		VerifyRecent(recent, events, recentLimit),
	)
	if frames != nil {
		problems = append(problems, VerifyFrames(frames, group.ID))
	}

	if err := errors.Join(problems...); err != nil {
		log.Error(ctx, "verification failed", logger.Error(err))
		return err
	}
	log.Info(ctx, "leaderboard consistency verified")
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, requestsPerSecond float64
	if stats.SubmitsSent > 0 {
		successRate = float64(stats.SubmitsAccepted+stats.SubmitsReplayed) / float64(stats.SubmitsSent) * percentageMultiplier
	}
	if stats.Duration > 0 {
		requestsPerSecond = float64(stats.SubmitsSent+stats.VetoesSent) / stats.Duration.Seconds()
	}

	logger.Named("scenario").Info(ctx, "final statistics",
		logger.String("groupId", stats.GroupID),
		logger.Int("usersCreated", stats.UsersCreated),
		logger.Int("rulesCreated", stats.RulesCreated),
		logger.Int("submitsSent", stats.SubmitsSent),
		logger.Int("submitsAccepted", stats.SubmitsAccepted),
		logger.Int("submitsReplayed", stats.SubmitsReplayed),
		logger.Int("submitsInFlight", stats.SubmitsInFlight),
		logger.Int("vetoesSent", stats.VetoesSent),
		logger.Int("vetoesAccepted", stats.VetoesAccepted),
		logger.Int("vetoesRejected", stats.VetoesRejected),
		logger.Int("eventsInvalidated", stats.EventsInvalidated),
		logger.Int("notificationsSeen", stats.NotificationsSeen),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("requestsPerSecond", requestsPerSecond),
	)
}
